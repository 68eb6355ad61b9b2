package weather

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		code int32
		want Condition
	}{
		{math.MinInt32, Thunderstorm},
		{0, Thunderstorm},
		{299, Thunderstorm},
		{300, Drizzle},
		{399, Drizzle},
		{400, Rain},
		{599, Rain},
		{600, Snow},
		{699, Snow},
		{700, Mist},
		{799, Mist},
		{800, Clear},
		{801, Cloudy},
		{804, Cloudy},
		{math.MaxInt32, Cloudy},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.code), "code %d", tt.code)
	}
}

func TestOpenWeather_Current(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/weather", r.URL.Path)
		assert.Equal(t, "Hong Kong", r.URL.Query().Get("q"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "k", r.URL.Query().Get("appid"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"main":{"temp":27.5},"weather":[{"id":501,"description":"moderate rain"}],"name":"Hong Kong"}`))
	}))
	defer srv.Close()

	ow, err := NewOpenWeather(Config{APIKey: "k", BaseURL: srv.URL, Location: "Hong Kong"})
	require.NoError(t, err)

	snap, err := ow.Current(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 27.5, snap.Temperature)
	assert.EqualValues(t, 501, snap.ConditionCode)
	assert.Equal(t, Rain, Classify(snap.ConditionCode))
}

func TestOpenWeather_MissingDataIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"main":{},"weather":[]}`))
	}))
	defer srv.Close()

	ow, err := NewOpenWeather(Config{APIKey: "k", BaseURL: srv.URL, Location: "Oslo"})
	require.NoError(t, err)

	snap, err := ow.Current(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestOpenWeather_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"cod":401,"message":"Invalid API key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	ow, err := NewOpenWeather(Config{APIKey: "bad", BaseURL: srv.URL, Location: "Oslo"})
	require.NoError(t, err)

	_, err = ow.Current(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestNewOpenWeather_RequiresKeyAndLocation(t *testing.T) {
	_, err := NewOpenWeather(Config{Location: "Oslo"})
	assert.Error(t, err)
	_, err = NewOpenWeather(Config{APIKey: "k"})
	assert.Error(t, err)
}
