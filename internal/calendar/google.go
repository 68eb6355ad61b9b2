package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "daybrief/internal/log"
	"daybrief/internal/model"
)

const (
	DefaultCredentialsPath = "credentials/credentials.json"
	DefaultTokenPath       = "credentials/token.json"
	DefaultCalendarID      = "primary"
)

// GoogleConfig locates the OAuth client secrets and the stored user token.
type GoogleConfig struct {
	CredentialsPath string
	TokenPath       string
	CalendarID      string
	MaxResults      int64
	// Horizon bounds timeMax; zero lists without an upper bound.
	Horizon time.Duration
	// APIOptions are appended to the calendar client options (endpoint
	// overrides in tests).
	APIOptions []option.ClientOption
}

// Google reads and writes one Google calendar.
type Google struct {
	cfg  GoogleConfig
	opts options

	mu  sync.Mutex
	svc *gcal.Service
}

func NewGoogle(cfg GoogleConfig, opts ...Option) *Google {
	if cfg.CredentialsPath == "" {
		cfg.CredentialsPath = DefaultCredentialsPath
	}
	if cfg.TokenPath == "" {
		cfg.TokenPath = DefaultTokenPath
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = DefaultCalendarID
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	return &Google{cfg: cfg, opts: buildOptions(opts)}
}

func (g *Google) Name() string { return "google:" + g.cfg.CalendarID }

func (g *Google) oauthConfig() (*oauth2.Config, error) {
	data, err := os.ReadFile(g.cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client credentials (download credentials.json from the Google Cloud console): %w", err)
	}
	conf, err := google.ConfigFromJSON(data, gcal.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse client credentials: %w", err)
	}
	return conf, nil
}

// Authenticate builds the API client from the stored token. Refreshed
// tokens are written back to TokenPath.
func (g *Google) Authenticate(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authenticateLocked(ctx)
}

func (g *Google) authenticateLocked(ctx context.Context) error {
	if g.svc != nil {
		return nil
	}

	conf, err := g.oauthConfig()
	if err != nil {
		return err
	}
	tok, err := readToken(g.cfg.TokenPath)
	if err != nil {
		return err
	}

	// The token source outlives this call, so it must not carry ctx.
	ts := &persistingSource{
		base: conf.TokenSource(context.Background(), tok),
		path: g.cfg.TokenPath,
		last: tok.AccessToken,
	}
	httpClient := oauth2.NewClient(context.Background(), oauth2.ReuseTokenSource(tok, ts))

	apiOpts := append([]option.ClientOption{option.WithHTTPClient(httpClient)}, g.cfg.APIOptions...)
	svc, err := gcal.NewService(ctx, apiOpts...)
	if err != nil {
		return fmt.Errorf("create calendar service: %w", err)
	}
	g.svc = svc
	appLog.Info("google calendar authenticated", "calendar", g.cfg.CalendarID)
	return nil
}

func (g *Google) service(ctx context.Context) (*gcal.Service, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.authenticateLocked(ctx); err != nil {
		return nil, err
	}
	return g.svc, nil
}

// AuthCodeURL returns the consent page for the installed-app flow.
func (g *Google) AuthCodeURL(state string) (string, error) {
	conf, err := g.oauthConfig()
	if err != nil {
		return "", err
	}
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// Exchange trades an authorization code for a token and stores it.
func (g *Google) Exchange(ctx context.Context, code string) error {
	conf, err := g.oauthConfig()
	if err != nil {
		return err
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := writeToken(g.cfg.TokenPath, tok); err != nil {
		return err
	}
	g.mu.Lock()
	g.svc = nil
	g.mu.Unlock()
	appLog.Info("google token saved", "path", g.cfg.TokenPath)
	return nil
}

// ListUpcoming lists single (expanded) events from now on, ordered by start.
func (g *Google) ListUpcoming(ctx context.Context) ([]model.CalendarEvent, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return nil, err
	}

	now := g.opts.now()
	call := svc.Events.List(g.cfg.CalendarID).
		TimeMin(now.Format(time.RFC3339)).
		MaxResults(g.cfg.MaxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if g.cfg.Horizon > 0 {
		call = call.TimeMax(now.Add(g.cfg.Horizon).Format(time.RFC3339))
	}

	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if res == nil {
		return nil, nil
	}

	events := make([]model.CalendarEvent, 0, len(res.Items))
	for _, item := range res.Items {
		if item == nil || item.Status == "cancelled" {
			continue
		}
		events = append(events, fromGoogle(item))
	}
	appLog.Info("google events listed", "calendar", g.cfg.CalendarID, "count", len(events))
	return events, nil
}

// Insert creates ev. Bare dates become all-day events.
func (g *Google) Insert(ctx context.Context, ev model.CalendarEvent) (model.InsertedEvent, error) {
	svc, err := g.service(ctx)
	if err != nil {
		return model.InsertedEvent{}, err
	}

	body := &gcal.Event{
		Summary: ev.Summary,
		Start:   toGoogleTime(ev.StartTime, g.opts.loc),
		End:     toGoogleTime(ev.EndTime, g.opts.loc),
	}
	if ev.Location != nil {
		body.Location = *ev.Location
	}

	created, err := svc.Events.Insert(g.cfg.CalendarID, body).Context(ctx).Do()
	if err != nil {
		return model.InsertedEvent{}, fmt.Errorf("insert event: %w", err)
	}
	appLog.Info("google event inserted", "calendar", g.cfg.CalendarID, "id", created.Id)
	return model.InsertedEvent{ID: created.Id, Link: created.HtmlLink}, nil
}

func fromGoogle(item *gcal.Event) model.CalendarEvent {
	ev := model.CalendarEvent{
		Summary:  item.Summary,
		Location: model.StringPtr(item.Location),
	}
	if ev.Summary == "" {
		ev.Summary = "(no title)"
	}
	ev.StartTime = fromGoogleTime(item.Start)
	ev.EndTime = fromGoogleTime(item.End)
	return ev
}

func fromGoogleTime(t *gcal.EventDateTime) *string {
	if t == nil {
		return nil
	}
	if t.DateTime != "" {
		return model.StringPtr(t.DateTime)
	}
	return model.StringPtr(t.Date)
}

func toGoogleTime(s *string, loc *time.Location) *gcal.EventDateTime {
	if s == nil || *s == "" {
		return nil
	}
	if len(*s) == len(time.DateOnly) {
		return &gcal.EventDateTime{Date: *s}
	}
	t, err := model.ParseTimeIn(*s, loc)
	if err != nil {
		return &gcal.EventDateTime{DateTime: *s}
	}
	out := &gcal.EventDateTime{DateTime: t.Format(time.RFC3339)}
	if loc != nil && loc != time.Local && loc != time.UTC {
		out.TimeZone = loc.String()
	}
	return out
}

// persistingSource writes every newly minted token to disk.
type persistingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := writeToken(s.path, tok); err != nil {
			appLog.Error("failed to persist refreshed token", err, "path", s.path)
		}
	}
	return tok, nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s not found", ErrNotAuthenticated, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s holds no token", ErrNotAuthenticated, path)
	}
	return &tok, nil
}

// writeToken stores tok with 0600 permissions via temp file and rename.
func writeToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
