package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daybrief/internal/calendar"
	"daybrief/internal/completion"
	"daybrief/internal/config"
	"daybrief/internal/ics"
	"daybrief/internal/model"
)

func TestNewCalendar(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Equal(t, "google:primary", newCalendar(cfg).Name())

	cfg.Calendar.Provider = "ics"
	cfg.Calendar.ICS = []config.FeedConfig{{ID: "team", URL: "https://calendar.example.com/team.ics"}}
	cal := newCalendar(cfg)
	assert.Equal(t, "ics", cal.Name())
	require.NoError(t, cal.Authenticate(context.Background()))

	_, err := cal.Insert(context.Background(), model.CalendarEvent{Summary: "Lunch"})
	assert.ErrorIs(t, err, calendar.ErrReadOnly)
}

func TestICSConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Calendar.ICS = []config.FeedConfig{{ID: "team", Name: "Team", URL: "https://calendar.example.com/team.ics"}}

	ic := icsConfig(cfg.Calendar)
	assert.Equal(t, 15*time.Second, ic.Timeout)
	assert.Equal(t, cfg.Calendar.ICSCacheDir, ic.CacheDir)
	assert.Equal(t, []ics.Feed{{ID: "team", Name: "Team", URL: "https://calendar.example.com/team.ics"}}, ic.Feeds)

	cfg.Calendar.ICSTimeout = "45s"
	assert.Equal(t, 45*time.Second, icsConfig(cfg.Calendar).Timeout)
}

func TestNewChatter(t *testing.T) {
	tests := []struct {
		name    string
		cc      config.CompletionConfig
		wantErr string
	}{
		{"openai", config.CompletionConfig{Provider: "openai", APIKey: "k"}, ""},
		{"azure", config.CompletionConfig{Provider: "azure", APIKey: "k", BaseURL: "https://x.openai.azure.com", Deployment: "d"}, ""},
		{"azure without base url", config.CompletionConfig{Provider: "azure", APIKey: "k", Deployment: "d"}, "base url"},
		{"openai without key", config.CompletionConfig{Provider: "openai"}, "api key"},
		{"gemini without key", config.CompletionConfig{Provider: "gemini"}, "api key"},
		{"unknown", config.CompletionConfig{Provider: "llama"}, "unknown completion provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chatter, err := newChatter(context.Background(), tt.cc)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &completion.OpenAI{}, chatter)
		})
	}
}

func TestNewApp_RequiresGoogleToken(t *testing.T) {
	dir := t.TempDir()
	configPath = filepath.Join(dir, "daybrief.yaml")
	envFile = filepath.Join(dir, ".env")
	t.Cleanup(func() { configPath, envFile = config.DefaultPath, ".env" })

	require.NoError(t, os.WriteFile(configPath, []byte(`
calendar:
  provider: google
  credentials_path: `+filepath.Join(dir, "credentials.json")+`
  token_path: `+filepath.Join(dir, "token.json")+`
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.json"), []byte(`{"installed":{
		"client_id":"id","client_secret":"secret",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token",
		"redirect_uris":["urn:ietf:wg:oauth:2.0:oob"]}}`), 0o600))

	_, err := newApp(context.Background())
	require.ErrorIs(t, err, calendar.ErrNotAuthenticated)
	assert.Contains(t, err.Error(), "daybrief auth")
}
