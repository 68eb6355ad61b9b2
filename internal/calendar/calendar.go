// Package calendar holds the calendar collaborators: Google Calendar
// (read/write) and ICS subscriptions (read-only).
package calendar

import (
	"context"
	"errors"
	"time"

	"daybrief/internal/model"
)

var (
	// ErrReadOnly is returned by Insert on providers that cannot write.
	ErrReadOnly = errors.New("calendar is read-only")
	// ErrNotAuthenticated means no stored token exists yet; run `daybrief auth`.
	ErrNotAuthenticated = errors.New("calendar not authenticated")
)

const (
	DefaultMaxResults = 10
	DefaultHorizon    = 7 * 24 * time.Hour
)

// Provider is the calendar collaborator used by the scheduler.
type Provider interface {
	Name() string
	Authenticate(ctx context.Context) error
	// ListUpcoming returns events starting from now, ordered by start time.
	// An empty slice means there are no events; nil with a nil error means
	// the calendar gave no answer.
	ListUpcoming(ctx context.Context) ([]model.CalendarEvent, error)
	Insert(ctx context.Context, ev model.CalendarEvent) (model.InsertedEvent, error)
}

type options struct {
	now func() time.Time
	loc *time.Location
}

// Option customizes a provider.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the zone timestamps are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.loc = loc }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	if o.loc == nil {
		o.loc = time.Local
	}
	return o
}
