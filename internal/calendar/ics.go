package calendar

import (
	"context"
	"errors"
	"time"

	"daybrief/internal/ics"
	appLog "daybrief/internal/log"
	"daybrief/internal/model"
)

// ICSConfig lists the subscriptions an ICS provider merges.
type ICSConfig struct {
	Feeds      []ics.Feed
	CacheDir   string
	Horizon    time.Duration
	MaxResults int
	Timeout    time.Duration
}

// ICS merges read-only iCalendar subscriptions.
type ICS struct {
	cfg     ICSConfig
	opts    options
	fetcher *ics.Fetcher
}

func NewICS(cfg ICSConfig, opts ...Option) *ICS {
	if cfg.Horizon <= 0 {
		cfg.Horizon = DefaultHorizon
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &ICS{
		cfg:     cfg,
		opts:    buildOptions(opts),
		fetcher: ics.NewFetcher(cfg.CacheDir, cfg.Timeout),
	}
}

func (c *ICS) Name() string { return "ics" }

// Authenticate is a no-op; feed URLs carry their own credentials.
func (c *ICS) Authenticate(context.Context) error {
	if len(c.cfg.Feeds) == 0 {
		return errors.New("no ics feeds configured")
	}
	return nil
}

// ListUpcoming returns instances in [now, now+horizon) across all feeds.
// Failed feeds are skipped as long as at least one feed answered.
func (c *ICS) ListUpcoming(ctx context.Context) ([]model.CalendarEvent, error) {
	docs, fetchErr := c.fetcher.FetchAll(ctx, c.cfg.Feeds)
	if len(docs) == 0 {
		if fetchErr == nil {
			fetchErr = errors.New("no ics feeds configured")
		}
		return nil, fetchErr
	}
	if fetchErr != nil {
		appLog.Warn("some ics feeds failed", "ok", len(docs), "total", len(c.cfg.Feeds))
	}

	var parsed []ics.VEvent
	for _, doc := range docs {
		evs, err := ics.Parse(doc, c.opts.loc)
		if err != nil {
			appLog.Error("ics parse failed", err, "feed", doc.Feed.ID)
			continue
		}
		parsed = append(parsed, evs...)
	}

	now := c.opts.now()
	instances, err := ics.Expand(parsed, ics.Window{From: now, To: now.Add(c.cfg.Horizon)}, c.opts.loc)
	if err != nil {
		return nil, err
	}
	if len(instances) > c.cfg.MaxResults {
		instances = instances[:c.cfg.MaxResults]
	}

	events := make([]model.CalendarEvent, 0, len(instances))
	for _, in := range instances {
		events = append(events, in.CalendarEvent())
	}
	appLog.Info("ics events listed", "feeds", len(docs), "count", len(events))
	return events, nil
}

func (c *ICS) Insert(context.Context, model.CalendarEvent) (model.InsertedEvent, error) {
	return model.InsertedEvent{}, ErrReadOnly
}
