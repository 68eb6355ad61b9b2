package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"daybrief/internal/cache"
	appLog "daybrief/internal/log"
	"daybrief/internal/model"
)

func runSummary(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	summary, err := a.scheduler.GetSummary(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("nothing to add: the request text is empty")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	res, err := a.scheduler.HandleUserInput(cmd.Context(), text)
	if err != nil {
		return err
	}
	proposal, ok := res.AddEvent()
	if !ok {
		return fmt.Errorf("unexpected %s result", res.Type)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, proposal.Message)
	fmt.Fprintf(out, "  %s\n  %s → %s\n", text, proposal.StartTime, proposal.EndTime)

	if !addCommit {
		return nil
	}
	inserted, err := a.scheduler.CommitEvent(cmd.Context(), text, proposal)
	if err != nil {
		return err
	}
	printInserted(out, inserted)
	return nil
}

func printInserted(out io.Writer, ev model.InsertedEvent) {
	if ev.Link != "" {
		fmt.Fprintf(out, "Added: %s\n", ev.Link)
		return
	}
	fmt.Fprintf(out, "Added event %s\n", ev.ID)
}

// runRefresh reports every failing source, not only the first.
func runRefresh(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	err = a.scheduler.RefreshCache(cmd.Context())
	a.metrics.RefreshRun(err)
	if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "events and weather refreshed")
		return nil
	}

	var ferr *cache.FetchError
	if errors.As(err, &ferr) {
		appLog.Warn("refresh incomplete", "first_failed_kind", ferr.Kind)
	}
	return err
}

func runAuth(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Calendar.Provider != "google" {
		return fmt.Errorf("calendar provider %q needs no authorization", cfg.Calendar.Provider)
	}

	g := newGoogle(cfg)
	code := strings.TrimSpace(authCodeFlag)
	if code == "" {
		url, err := g.AuthCodeURL("daybrief")
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Open this URL in a browser and grant calendar access:")
		fmt.Fprintln(out, url)
		fmt.Fprint(out, "Paste the authorization code: ")

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read authorization code: %w", err)
		}
		code = strings.TrimSpace(line)
	}
	if code == "" {
		return errors.New("no authorization code given")
	}

	if err := g.Exchange(cmd.Context(), code); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Token saved to %s\n", cfg.Calendar.TokenPath)
	return nil
}
