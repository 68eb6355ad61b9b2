// Package scheduler is the façade the CLI and the HTTP surface talk to. It
// owns the two cached data sources and runs one model round trip per call.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"daybrief/internal/cache"
	"daybrief/internal/intent"
	appLog "daybrief/internal/log"
	"daybrief/internal/model"
	"daybrief/internal/prompt"
	"daybrief/internal/schema"
	"daybrief/internal/weather"
)

// Calendar is the calendar collaborator.
type Calendar interface {
	ListUpcoming(ctx context.Context) ([]model.CalendarEvent, error)
	Insert(ctx context.Context, ev model.CalendarEvent) (model.InsertedEvent, error)
}

// Gateway sends serialized payloads under a named prompt.
type Gateway interface {
	Send(ctx context.Context, key prompt.Key, payload string) (string, error)
}

// Router dispatches one intent.
type Router interface {
	Route(ctx context.Context, in intent.Intent, payload any) (intent.Result, error)
}

// Prompts lists the prompt keys the scheduler sends under directly.
var Prompts = []prompt.Key{prompt.Summarizer}

type options struct {
	now        func() time.Time
	loc        *time.Location
	eventsTTL  time.Duration
	weatherTTL time.Duration
	observer   cache.Observer
}

// Option customizes a Scheduler.
type Option func(*options)

// WithClock replaces time.Now for the caches and payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the zone timestamps sent to the model are written in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithTTL sets the freshness window per kind. Zero keeps the default.
func WithTTL(events, weather time.Duration) Option {
	return func(o *options) {
		o.eventsTTL = events
		o.weatherTTL = weather
	}
}

// WithCacheObserver reports cache hits, misses and failed fetches.
func WithCacheObserver(obs cache.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Scheduler exclusively owns one cache entry per data kind.
type Scheduler struct {
	calendar Calendar
	gateway  Gateway
	router   Router
	schemas  *schema.Pipeline
	now      func() time.Time
	loc      *time.Location

	events  *cache.Entry[[]model.CalendarEvent]
	weather *cache.Entry[*model.WeatherSnapshot]
}

func New(cal Calendar, src weather.Source, gw Gateway, router Router, opts ...Option) *Scheduler {
	o := options{
		now:        time.Now,
		loc:        time.Local,
		eventsTTL:  cache.DefaultTTL,
		weatherTTL: cache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cacheOpts := []cache.Option{cache.WithClock(o.now)}
	if o.observer != nil {
		cacheOpts = append(cacheOpts, cache.WithObserver(o.observer))
	}

	return &Scheduler{
		calendar: cal,
		gateway:  gw,
		router:   router,
		schemas:  schema.New(),
		now:      o.now,
		loc:      o.loc,
		events:   cache.NewEntry[[]model.CalendarEvent](cache.KindEvents, o.eventsTTL, cal.ListUpcoming, cacheOpts...),
		weather:  cache.NewEntry[*model.WeatherSnapshot](cache.KindWeather, o.weatherTTL, src.Current, cacheOpts...),
	}
}

// Events returns the cached upcoming events, fetching them when stale.
func (s *Scheduler) Events(ctx context.Context) ([]model.CalendarEvent, error) {
	return s.events.Get(ctx)
}

// Weather returns the cached weather, fetching it when stale.
func (s *Scheduler) Weather(ctx context.Context) (model.WeatherSnapshot, error) {
	w, err := s.weather.Get(ctx)
	if err != nil {
		return model.WeatherSnapshot{}, err
	}
	return *w, nil
}

// GetSummary asks the model for a briefing of the upcoming events and the
// current weather.
func (s *Scheduler) GetSummary(ctx context.Context) (string, error) {
	events, err := s.events.Get(ctx)
	if err != nil {
		return "", err
	}
	w, err := s.weather.Get(ctx)
	if err != nil {
		return "", err
	}

	payload, err := schema.Validate[intent.SummarizerPayload](s.schemas, "SummarizerPayload", intent.SummarizerPayload{
		CurrentCondition:   string(weather.Classify(w.ConditionCode)),
		CurrentTemperature: w.Temperature,
		Events:             events,
		CurrentDate:        model.FormatTime(s.localNow()),
	})
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode summarizer payload: %w", err)
	}

	text, err := s.gateway.Send(ctx, prompt.Summarizer, string(body))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// HandleUserInput runs one user-input cycle. Every input is treated as a
// request to add an event.
func (s *Scheduler) HandleUserInput(ctx context.Context, text string) (intent.Result, error) {
	cycle := uuid.NewString()
	in := classify(text)
	appLog.Info("user input cycle", "cycle", cycle, "intent", in, "input_len", len(text))

	events, err := s.events.Get(ctx)
	if err != nil {
		return intent.Result{}, err
	}

	res, err := s.router.Route(ctx, in, intent.AddEventPayload{
		Events:      events,
		NewEvent:    model.CalendarEvent{Summary: strings.TrimSpace(text)},
		CurrentDate: model.FormatTime(s.localNow()),
	})
	if err != nil {
		appLog.Error("user input cycle failed", err, "cycle", cycle, "intent", in)
		return intent.Result{}, err
	}
	appLog.Info("user input cycle done", "cycle", cycle, "intent", res.Type)
	return res, nil
}

// SourceStatus describes one cached source without fetching it.
type SourceStatus struct {
	Kind      cache.Kind `json:"kind"`
	Cached    bool       `json:"cached"`
	FetchedAt string     `json:"fetchedAt,omitempty"`
	Fresh     bool       `json:"fresh"`
}

// Status reports what each cache holds. It never triggers a fetch.
func (s *Scheduler) Status() []SourceStatus {
	return []SourceStatus{
		statusOf(s.events, s.now(), s.loc),
		statusOf(s.weather, s.now(), s.loc),
	}
}

func statusOf[T any](e *cache.Entry[T], now time.Time, loc *time.Location) SourceStatus {
	st := SourceStatus{Kind: e.Kind()}
	_, fetchedAt, ok := e.Peek()
	if !ok {
		return st
	}
	st.Cached = true
	// An invalidated entry keeps its value but loses its fetch time.
	if !fetchedAt.IsZero() {
		st.FetchedAt = model.FormatTime(fetchedAt.In(loc))
		st.Fresh = now.Sub(fetchedAt) < e.TTL()
	}
	return st
}

// localNow is the wall clock in the configured zone.
func (s *Scheduler) localNow() time.Time {
	return s.now().In(s.loc)
}

// classify is fixed until a real intent classifier exists.
func classify(string) intent.Intent {
	return intent.AddEvent
}

// RefreshCache refetches both sources concurrently. A failure in one source
// does not stop or hide the other; each failing kind is reported as a
// *cache.FetchError in the joined error.
func (s *Scheduler) RefreshCache(ctx context.Context) error {
	return cache.RefreshAll(ctx, s.events, s.weather)
}

// CommitEvent writes the event proposed by an ADD_EVENT result to the
// calendar, titled with the user's text, and marks the events cache stale.
func (s *Scheduler) CommitEvent(ctx context.Context, text string, res intent.AddEventResult) (model.InsertedEvent, error) {
	ev, err := schema.Validate[model.CalendarEvent](s.schemas, "CalendarEvent", model.CalendarEvent{
		Summary:   strings.TrimSpace(text),
		StartTime: model.StringPtr(res.StartTime),
		EndTime:   model.StringPtr(res.EndTime),
	})
	if err != nil {
		return model.InsertedEvent{}, err
	}

	inserted, err := s.calendar.Insert(ctx, ev)
	if err != nil {
		return model.InsertedEvent{}, fmt.Errorf("commit event: %w", err)
	}
	s.events.Invalidate()
	appLog.Info("event committed", "id", inserted.ID)
	return inserted, nil
}
