package calendar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"daybrief/internal/ics"
	"daybrief/internal/model"
)

const clientSecrets = `{"installed":{"client_id":"client-id","client_secret":"client-secret",
"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",
"redirect_uris":["http://localhost"]}}`

var fixedNow = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

func writeCredentials(t *testing.T, withToken bool) GoogleConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := GoogleConfig{
		CredentialsPath: filepath.Join(dir, "credentials.json"),
		TokenPath:       filepath.Join(dir, "token.json"),
	}
	require.NoError(t, os.WriteFile(cfg.CredentialsPath, []byte(clientSecrets), 0o600))
	if withToken {
		tok := `{"access_token":"access-1","token_type":"Bearer","refresh_token":"refresh-1","expiry":"2099-01-01T00:00:00Z"}`
		require.NoError(t, os.WriteFile(cfg.TokenPath, []byte(tok), 0o600))
	}
	return cfg
}

func TestGoogle_ListUpcoming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendar/v3/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		q := r.URL.Query()
		assert.Equal(t, "2025-03-04T00:00:00Z", q.Get("timeMin"))
		assert.Equal(t, "10", q.Get("maxResults"))
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Empty(t, q.Get("timeMax"))

		_, _ = w.Write([]byte(`{"items":[
			{"id":"1","summary":"Standup","location":"Office","start":{"dateTime":"2025-03-04T09:00:00+08:00"},"end":{"dateTime":"2025-03-04T09:15:00+08:00"}},
			{"id":"2","summary":"Holiday","start":{"date":"2025-03-05"},"end":{"date":"2025-03-06"}},
			{"id":"3","status":"cancelled"}
		]}`))
	}))
	defer srv.Close()

	cfg := writeCredentials(t, true)
	cfg.APIOptions = []option.ClientOption{option.WithEndpoint(srv.URL + "/calendar/v3/")}
	g := NewGoogle(cfg, WithClock(func() time.Time { return fixedNow }))

	events, err := g.ListUpcoming(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.CalendarEvent{
		{
			Summary:   "Standup",
			StartTime: model.StringPtr("2025-03-04T09:00:00+08:00"),
			EndTime:   model.StringPtr("2025-03-04T09:15:00+08:00"),
			Location:  model.StringPtr("Office"),
		},
		{
			Summary:   "Holiday",
			StartTime: model.StringPtr("2025-03-05"),
			EndTime:   model.StringPtr("2025-03-06"),
		},
	}, events)
}

func TestGoogle_ListUpcomingEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	cfg := writeCredentials(t, true)
	cfg.APIOptions = []option.ClientOption{option.WithEndpoint(srv.URL + "/")}
	g := NewGoogle(cfg)

	events, err := g.ListUpcoming(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestGoogle_Insert(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"id":"new-1","htmlLink":"https://calendar.google.com/event?eid=new-1"}`))
	}))
	defer srv.Close()

	cfg := writeCredentials(t, true)
	cfg.APIOptions = []option.ClientOption{option.WithEndpoint(srv.URL + "/")}
	g := NewGoogle(cfg)

	res, err := g.Insert(context.Background(), model.CalendarEvent{
		Summary:   "Dentist",
		StartTime: model.StringPtr("2025-03-04T15:00:00+08:00"),
		EndTime:   model.StringPtr("2025-03-04T16:00:00+08:00"),
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", res.ID)
	assert.Contains(t, res.Link, "new-1")

	assert.Equal(t, "Dentist", got["summary"])
	assert.Equal(t, map[string]any{"dateTime": "2025-03-04T15:00:00+08:00"}, got["start"])
	assert.Nil(t, got["location"])
}

func TestGoogle_NotAuthenticated(t *testing.T) {
	g := NewGoogle(writeCredentials(t, false))

	err := g.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = g.ListUpcoming(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestGoogle_AuthCodeURL(t *testing.T) {
	g := NewGoogle(writeCredentials(t, false))

	u, err := g.AuthCodeURL("state-1")
	require.NoError(t, err)
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "state=state-1")
}

func TestToGoogleTime(t *testing.T) {
	assert.Nil(t, toGoogleTime(nil, time.UTC))

	hk, err := time.LoadLocation("Asia/Hong_Kong")
	require.NoError(t, err)

	tests := []struct {
		name     string
		in       string
		loc      *time.Location
		date     string
		dateTime string
		zone     string
	}{
		{"all day", "2025-03-05", time.UTC, "2025-03-05", "", ""},
		{"offset kept", "2025-03-05T10:00:00+08:00", hk, "", "2025-03-05T10:00:00+08:00", "Asia/Hong_Kong"},
		{"utc instant", "2025-03-05T02:00:00Z", hk, "", "2025-03-05T02:00:00Z", "Asia/Hong_Kong"},
		{"no offset is local wall time", "2025-03-04T15:00:00", hk, "", "2025-03-04T15:00:00+08:00", "Asia/Hong_Kong"},
		{"no offset without zone", "2025-03-04T15:00:00", time.UTC, "", "2025-03-04T15:00:00Z", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toGoogleTime(model.StringPtr(tt.in), tt.loc)
			require.NotNil(t, got)
			assert.Equal(t, tt.date, got.Date)
			assert.Equal(t, tt.dateTime, got.DateTime)
			assert.Equal(t, tt.zone, got.TimeZone)
		})
	}
}

type staticSource struct{ tok *oauth2.Token }

func (s staticSource) Token() (*oauth2.Token, error) { return s.tok, nil }

func TestPersistingSource_WritesNewTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	src := &persistingSource{
		base: staticSource{tok: &oauth2.Token{AccessToken: "access-2", RefreshToken: "refresh-1"}},
		path: path,
		last: "access-1",
	}

	_, err := src.Token()
	require.NoError(t, err)

	stored, err := readToken(path)
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AccessToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

const feed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//daybrief//test//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:a@test\r\nDTSTAMP:20250301T000000Z\r\nDTSTART:20250304T020000Z\r\nDTEND:20250304T030000Z\r\nSUMMARY:Later\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:b@test\r\nDTSTAMP:20250301T000000Z\r\nDTSTART:20250304T010000Z\r\nDTEND:20250304T013000Z\r\nSUMMARY:Sooner\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:c@test\r\nDTSTAMP:20250301T000000Z\r\nDTSTART:20250401T010000Z\r\nDTEND:20250401T013000Z\r\nSUMMARY:Next month\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestICS_ListUpcoming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down.ics" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	c := NewICS(ICSConfig{
		Feeds: []ics.Feed{
			{ID: "home", URL: srv.URL + "/home.ics"},
			{ID: "down", URL: srv.URL + "/down.ics"},
		},
		CacheDir:   t.TempDir(),
		MaxResults: 1,
	}, WithClock(func() time.Time { return fixedNow }), WithLocation(time.UTC))

	require.NoError(t, c.Authenticate(context.Background()))

	events, err := c.ListUpcoming(context.Background())
	require.NoError(t, err, "one working feed is enough")
	require.Len(t, events, 1)
	assert.Equal(t, "Sooner", events[0].Summary)
	assert.Equal(t, "2025-03-04T01:00:00Z", *events[0].StartTime)

	_, err = c.Insert(context.Background(), model.CalendarEvent{Summary: "x"})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestICS_AllFeedsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewICS(ICSConfig{
		Feeds:    []ics.Feed{{ID: "home", URL: srv.URL + "/home.ics"}},
		CacheDir: t.TempDir(),
	})

	events, err := c.ListUpcoming(context.Background())
	assert.Error(t, err)
	assert.Nil(t, events)

	assert.Error(t, NewICS(ICSConfig{}).Authenticate(context.Background()))
}
