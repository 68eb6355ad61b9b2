package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	appLog "daybrief/internal/log"
	"daybrief/internal/model"
)

const DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

// Source is the weather collaborator used by the scheduler.
type Source interface {
	Current(ctx context.Context) (*model.WeatherSnapshot, error)
}

// Config configures the OpenWeather client.
type Config struct {
	APIKey   string
	BaseURL  string
	Location string
	Units    string
	Timeout  time.Duration
}

// OpenWeather reads current conditions from the OpenWeather "weather" endpoint.
type OpenWeather struct {
	client   *http.Client
	apiKey   string
	baseURL  string
	location string
	units    string
}

// currentResponse is the subset of the OpenWeather payload we use.
type currentResponse struct {
	Main struct {
		Temp *float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		ID          int32  `json:"id"`
		Description string `json:"description"`
	} `json:"weather"`
	Name string `json:"name"`
}

// NewOpenWeather creates a client. Location is a city query such as
// "Hong Kong"; units default to metric.
func NewOpenWeather(cfg Config) (*OpenWeather, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openweather: api key is empty")
	}
	if cfg.Location == "" {
		return nil, errors.New("openweather: location is empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &OpenWeather{
		client:   &http.Client{Timeout: cfg.Timeout},
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		location: cfg.Location,
		units:    cfg.Units,
	}, nil
}

// Current fetches the current temperature and condition code.
func (o *OpenWeather) Current(ctx context.Context) (*model.WeatherSnapshot, error) {
	q := url.Values{}
	q.Set("q", o.location)
	q.Set("units", o.units)
	q.Set("appid", o.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	appLog.Info("weather fetch start", "location", o.location, "units", o.units)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openweather request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openweather read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openweather: %s: %s", resp.Status, truncate(string(body), 200))
	}

	var cur currentResponse
	if err := json.Unmarshal(body, &cur); err != nil {
		return nil, fmt.Errorf("openweather decode: %w", err)
	}
	if cur.Main.Temp == nil || len(cur.Weather) == 0 {
		// Nothing usable; the cache reports this as unavailable.
		appLog.Warn("weather response missing temperature or condition", "location", o.location)
		return nil, nil
	}

	snap := &model.WeatherSnapshot{
		Temperature:   *cur.Main.Temp,
		ConditionCode: cur.Weather[0].ID,
	}
	appLog.Info("weather fetch success",
		"location", o.location,
		"temperature", snap.Temperature,
		"condition", Classify(snap.ConditionCode),
	)
	return snap, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
