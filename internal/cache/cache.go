package cache

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	appLog "daybrief/internal/log"
)

// DefaultTTL is used when an Entry is created with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Kind names a cached data source.
type Kind string

const (
	KindEvents  Kind = "events"
	KindWeather Kind = "weather"
)

// ErrDataUnavailable is returned when a source produced nothing usable.
// The previously cached value, if any, is kept.
var ErrDataUnavailable = errors.New("data unavailable")

// FetchError ties a fetch failure to the kind that failed. It always
// matches ErrDataUnavailable.
type FetchError struct {
	Kind Kind
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Kind, ErrDataUnavailable)
	}
	return fmt.Sprintf("%s: %v: %v", e.Kind, ErrDataUnavailable, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDataUnavailable}
	}
	return []error{ErrDataUnavailable, e.Err}
}

// FetchFunc loads a fresh value from a collaborator.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Observer receives cache events. internal/metrics provides one.
type Observer interface {
	Hit(kind Kind)
	Miss(kind Kind)
	FetchFailed(kind Kind)
}

type nopObserver struct{}

func (nopObserver) Hit(Kind)         {}
func (nopObserver) Miss(Kind)        {}
func (nopObserver) FetchFailed(Kind) {}

type settings struct {
	now      func() time.Time
	observer Observer
}

// Option customizes an Entry.
type Option func(*settings)

// WithClock replaces time.Now. Tests use it to move time deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver reports hits, misses and fetch failures to o.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

// Entry holds the latest value of one kind plus its fetch time.
//
// A value is fresh while now-fetchedAt < ttl. Stale values are never
// dropped; the next Get refetches and overwrites them. Concurrent misses for
// the same Entry share a single fetch.
type Entry[T any] struct {
	kind  Kind
	ttl   time.Duration
	fetch FetchFunc[T]
	settings

	mu        sync.RWMutex
	value     T
	present   bool
	fetchedAt time.Time

	flight singleflight.Group
}

// NewEntry creates an empty Entry for kind.
func NewEntry[T any](kind Kind, ttl time.Duration, fetch FetchFunc[T], opts ...Option) *Entry[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := settings{now: time.Now, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&s)
	}
	return &Entry[T]{
		kind:     kind,
		ttl:      ttl,
		fetch:    fetch,
		settings: s,
	}
}

// Kind returns the kind this entry caches.
func (e *Entry[T]) Kind() Kind {
	return e.kind
}

// TTL returns the freshness window.
func (e *Entry[T]) TTL() time.Duration {
	return e.ttl
}

// Get returns the cached value if fresh, otherwise fetches and stores a new one.
func (e *Entry[T]) Get(ctx context.Context) (T, error) {
	if v, ok := e.fresh(); ok {
		e.observer.Hit(e.kind)
		appLog.Debug("using cached data", "kind", e.kind)
		return v, nil
	}

	e.observer.Miss(e.kind)
	res, err, _ := e.flight.Do(string(e.kind), func() (any, error) {
		return e.load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Invalidate marks the current value stale. The value itself is kept so a
// failing refetch still leaves the last good value in place.
func (e *Entry[T]) Invalidate() {
	e.mu.Lock()
	e.fetchedAt = time.Time{}
	e.mu.Unlock()
}

// Refresh invalidates the entry and fetches it again.
func (e *Entry[T]) Refresh(ctx context.Context) error {
	e.Invalidate()
	_, err := e.Get(ctx)
	return err
}

// Peek returns the stored value and its fetch time without fetching.
// ok is false while nothing has been stored yet.
func (e *Entry[T]) Peek() (value T, fetchedAt time.Time, ok bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.value, e.fetchedAt, e.present
}

func (e *Entry[T]) fresh() (T, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.present && !e.fetchedAt.IsZero() && e.now().Sub(e.fetchedAt) < e.ttl {
		return e.value, true
	}
	var zero T
	return zero, false
}

func (e *Entry[T]) load(ctx context.Context) (T, error) {
	// Another caller may have stored a value while we waited for the flight.
	if v, ok := e.fresh(); ok {
		return v, nil
	}

	start := e.now()
	appLog.Info("fetching data", "kind", e.kind)

	v, err := e.fetch(ctx)
	if err == nil && isAbsent(v) {
		err = ErrDataUnavailable
	}
	if err != nil {
		e.observer.FetchFailed(e.kind)
		ferr := &FetchError{Kind: e.kind}
		if err != ErrDataUnavailable {
			ferr.Err = err
		}
		appLog.Error("fetch failed; keeping previous value", ferr, "kind", e.kind)
		var zero T
		return zero, ferr
	}

	now := e.now()
	e.mu.Lock()
	e.value = v
	e.present = true
	e.fetchedAt = now
	e.mu.Unlock()

	appLog.Info("fetch success", "kind", e.kind, "elapsed", now.Sub(start))
	return v, nil
}

// isAbsent reports whether v is a nil pointer, slice, map or interface.
func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// Refresher is anything that can be force-refreshed. *Entry implements it.
type Refresher interface {
	Kind() Kind
	Refresh(ctx context.Context) error
}

// RefreshAll refreshes every entry concurrently and waits for all of them.
// Each failure is reported with its kind; one failure never hides another.
func RefreshAll(ctx context.Context, entries ...Refresher) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, entry := range entries {
		wg.Add(1)
		go func(r Refresher) {
			defer wg.Done()
			if err := r.Refresh(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(entry)
	}
	wg.Wait()
	return errors.Join(errs...)
}
