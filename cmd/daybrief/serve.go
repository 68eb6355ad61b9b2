package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "daybrief/internal/log"
	"daybrief/internal/web"
)

const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if serveListen != "" {
		a.cfg.Listen = serveListen
	}

	refresh := func() {
		err := a.scheduler.RefreshCache(ctx)
		a.metrics.RefreshRun(err)
		if err != nil {
			appLog.Error("scheduled refresh failed", err)
			return
		}
		appLog.Info("scheduled refresh done")
	}

	// Warm both caches so the first request does not pay for the fetches.
	refresh()

	if !serveNoCron {
		c := cron.New(cron.WithLocation(a.cfg.Location()))
		if _, err := c.AddFunc(a.cfg.RefreshCron, refresh); err != nil {
			return fmt.Errorf("schedule refresh %q: %w", a.cfg.RefreshCron, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		appLog.Info("refresh scheduled", "cron", a.cfg.RefreshCron, "timezone", a.cfg.Timezone)
	}

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           web.NewServer(a.cfg, a.scheduler, a.metrics.Handler()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+a.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	appLog.Info("daybrief exiting")
	return nil
}
