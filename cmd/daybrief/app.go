package main

import (
	"context"
	"errors"
	"fmt"

	"daybrief/internal/calendar"
	"daybrief/internal/completion"
	"daybrief/internal/config"
	"daybrief/internal/ics"
	"daybrief/internal/intent"
	appLog "daybrief/internal/log"
	"daybrief/internal/metrics"
	"daybrief/internal/prompt"
	"daybrief/internal/scheduler"
	"daybrief/internal/weather"
)

// app is everything a command needs, wired from the config file.
type app struct {
	cfg       *config.Config
	calendar  calendar.Provider
	metrics   *metrics.Metrics
	scheduler *scheduler.Scheduler
}

// loadConfig reads .env and the config file and applies the log level.
func loadConfig() (*config.Config, error) {
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !verbose {
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	}
	appLog.Debug("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"cache_ttl", cfg.CacheTTL,
		"refresh", cfg.RefreshCron,
		"calendar", cfg.Calendar.Provider,
		"completion", cfg.Completion.Provider,
		"ics_count", len(cfg.Calendar.ICS),
	)
	return cfg, nil
}

// newApp wires every collaborator. Prompt files for the required keys are
// loaded here so a missing prompt fails before any request is made.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	cal := newCalendar(cfg)
	if err := cal.Authenticate(ctx); err != nil {
		if errors.Is(err, calendar.ErrNotAuthenticated) {
			return nil, fmt.Errorf("%w: run `daybrief auth` first", err)
		}
		return nil, fmt.Errorf("calendar %s: %w", cal.Name(), err)
	}

	src, err := weather.NewOpenWeather(weather.Config{
		APIKey:   cfg.Weather.APIKey,
		BaseURL:  cfg.Weather.BaseURL,
		Location: cfg.Weather.Location,
		Units:    cfg.Weather.Units,
		Timeout:  cfg.Weather.TimeoutDuration(),
	})
	if err != nil {
		return nil, err
	}

	chatter, err := newChatter(ctx, cfg.Completion)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	keys := append(append([]prompt.Key{}, scheduler.Prompts...), intent.Prompts...)
	gw, err := completion.NewGateway(chatter, prompt.FromConfig(cfg.Prompts.Dir), keys, completion.WithObserver(m))
	if err != nil {
		return nil, err
	}

	eventsTTL, weatherTTL := cfg.TTLs()
	sched := scheduler.New(cal, src, gw, intent.NewRouter(gw, nil),
		scheduler.WithTTL(eventsTTL, weatherTTL),
		scheduler.WithLocation(cfg.Location()),
		scheduler.WithCacheObserver(m),
	)

	appLog.Info("daybrief ready",
		"calendar", cal.Name(),
		"completion", cfg.Completion.Provider,
		"weather_location", cfg.Weather.Location,
	)
	return &app{cfg: cfg, calendar: cal, metrics: m, scheduler: sched}, nil
}

func newCalendar(cfg *config.Config) calendar.Provider {
	if cfg.Calendar.Provider == "ics" {
		return calendar.NewICS(icsConfig(cfg.Calendar), calendar.WithLocation(cfg.Location()))
	}
	return newGoogle(cfg)
}

func icsConfig(cc config.CalendarConfig) calendar.ICSConfig {
	feeds := make([]ics.Feed, 0, len(cc.ICS))
	for _, f := range cc.ICS {
		feeds = append(feeds, ics.Feed{ID: f.ID, Name: f.Name, URL: f.URL})
	}
	return calendar.ICSConfig{
		Feeds:      feeds,
		CacheDir:   cc.ICSCacheDir,
		Horizon:    cc.Horizon(),
		MaxResults: cc.MaxResults,
		Timeout:    cc.ICSTimeoutDuration(),
	}
}

func newGoogle(cfg *config.Config) *calendar.Google {
	cc := cfg.Calendar
	return calendar.NewGoogle(calendar.GoogleConfig{
		CredentialsPath: cc.CredentialsPath,
		TokenPath:       cc.TokenPath,
		CalendarID:      cc.CalendarID,
		MaxResults:      int64(cc.MaxResults),
		Horizon:         cc.Horizon(),
	}, calendar.WithLocation(cfg.Location()))
}

func newChatter(ctx context.Context, cc config.CompletionConfig) (completion.Chatter, error) {
	switch cc.Provider {
	case "gemini":
		g, err := completion.NewGemini(ctx, cc.APIKey, cc.Model, float32(cc.Temperature))
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai", "azure":
		oc := completion.OpenAIConfig{
			APIKey:      cc.APIKey,
			BaseURL:     cc.BaseURL,
			Model:       cc.Model,
			APIVersion:  cc.APIVersion,
			Temperature: cc.Temperature,
			Timeout:     cc.TimeoutDuration(),
		}
		if cc.Provider == "azure" {
			oc.Deployment = cc.Deployment
		}
		c, err := completion.NewOpenAI(oc)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cc.Provider)
	}
}
