package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"daybrief/internal/schema"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "./daybrief.yaml"

// FeedConfig describes a single ICS subscription.
type FeedConfig struct {
	ID   string `yaml:"id" json:"id" validate:"required"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url" validate:"required,url"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type CalendarConfig struct {
	// Provider is "google" (read/write) or "ics" (read-only subscriptions).
	Provider        string       `yaml:"provider" json:"provider" validate:"oneof=google ics"`
	CredentialsPath string       `yaml:"credentials_path" json:"credentials_path"`
	TokenPath       string       `yaml:"token_path" json:"token_path"`
	CalendarID      string       `yaml:"calendar_id" json:"calendar_id"`
	MaxResults      int          `yaml:"max_results" json:"max_results" validate:"min=1,max=250"`
	HorizonDays     int          `yaml:"horizon_days" json:"horizon_days" validate:"min=1,max=366"`
	ICS             []FeedConfig `yaml:"ics" json:"ics" validate:"dive"`
	ICSCacheDir     string       `yaml:"ics_cache_dir" json:"ics_cache_dir"`
	ICSTimeout      string       `yaml:"ics_timeout" json:"ics_timeout" validate:"duration"`
}

type WeatherConfig struct {
	// APIKey is normally supplied through OPENWEATHER_API_KEY.
	APIKey   string `yaml:"api_key,omitempty" json:"-"`
	Location string `yaml:"location" json:"location" validate:"required"`
	Units    string `yaml:"units" json:"units" validate:"oneof=metric imperial standard"`
	BaseURL  string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	Timeout  string `yaml:"timeout" json:"timeout" validate:"duration"`
}

type CompletionConfig struct {
	// Provider is "gemini", "openai" or "azure".
	Provider    string  `yaml:"provider" json:"provider" validate:"oneof=gemini openai azure"`
	Model       string  `yaml:"model,omitempty" json:"model,omitempty"`
	APIKey      string  `yaml:"api_key,omitempty" json:"-"`
	BaseURL     string  `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	APIVersion  string  `yaml:"api_version,omitempty" json:"api_version,omitempty"`
	Deployment  string  `yaml:"deployment,omitempty" json:"deployment,omitempty"`
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"min=0,max=2"`
	Timeout     string  `yaml:"timeout" json:"timeout" validate:"duration"`
}

type PromptsConfig struct {
	// Dir overrides the built-in prompts; files are <key>.md or <key>.txt.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address used by `serve`.
	Listen string `yaml:"listen" json:"listen" validate:"required,hostname_port"`

	// Timezone is the IANA zone used for timestamps sent to the model.
	Timezone string `yaml:"timezone" json:"timezone" validate:"timezone"`

	// CacheTTL is the freshness window of both data sources. EventsTTL and
	// WeatherTTL override it per kind.
	CacheTTL   string `yaml:"cache_ttl" json:"cache_ttl" validate:"duration"`
	EventsTTL  string `yaml:"events_ttl,omitempty" json:"events_ttl,omitempty" validate:"omitempty,duration"`
	WeatherTTL string `yaml:"weather_ttl,omitempty" json:"weather_ttl,omitempty" validate:"omitempty,duration"`

	// RefreshCron is the standard 5-field cron schedule of background
	// refreshes under `serve`.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"cron"`

	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	Calendar   CalendarConfig   `yaml:"calendar" json:"calendar"`
	Weather    WeatherConfig    `yaml:"weather" json:"weather"`
	Completion CompletionConfig `yaml:"completion" json:"completion"`
	Prompts    PromptsConfig    `yaml:"prompts" json:"prompts"`

	// BasicAuth, if set with both fields, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so partially filled
// files still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Hong_Kong"
	}
	if c.CacheTTL == "" {
		c.CacheTTL = "5m"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	cal := &c.Calendar
	if cal.Provider == "" {
		cal.Provider = "google"
	}
	if cal.CredentialsPath == "" {
		cal.CredentialsPath = "credentials/credentials.json"
	}
	if cal.TokenPath == "" {
		cal.TokenPath = "credentials/token.json"
	}
	if cal.CalendarID == "" {
		cal.CalendarID = "primary"
	}
	if cal.MaxResults <= 0 {
		cal.MaxResults = 10
	}
	if cal.HorizonDays <= 0 {
		cal.HorizonDays = 7
	}
	if cal.ICS == nil {
		cal.ICS = []FeedConfig{}
	}
	if cal.ICSCacheDir == "" {
		cal.ICSCacheDir = "./var/ics-cache"
	}
	if cal.ICSTimeout == "" {
		cal.ICSTimeout = "15s"
	}

	if c.Weather.Location == "" {
		c.Weather.Location = "Hong Kong"
	}
	if c.Weather.Units == "" {
		c.Weather.Units = "metric"
	}
	if c.Weather.Timeout == "" {
		c.Weather.Timeout = "10s"
	}

	if c.Completion.Provider == "" {
		c.Completion.Provider = "gemini"
	}
	if c.Completion.Timeout == "" {
		c.Completion.Timeout = "2m"
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	schema.RegisterRules(v)
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field rules and the cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Calendar.Provider == "ics" && len(c.Calendar.ICS) == 0 {
		return errors.New("config: calendar.provider is ics but no calendar.ics feeds are listed")
	}
	if c.Completion.Provider == "azure" && (c.Completion.BaseURL == "" || c.Completion.Deployment == "") {
		return errors.New("config: azure completion needs base_url and deployment")
	}
	return nil
}

// Location returns the configured zone, or time.Local if it cannot be loaded.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

// TTLs returns the freshness window for events and weather.
func (c *Config) TTLs() (events, weather time.Duration) {
	base := parseDuration(c.CacheTTL, 5*time.Minute)
	return parseDuration(c.EventsTTL, base), parseDuration(c.WeatherTTL, base)
}

// Horizon is the calendar look-ahead window.
func (c CalendarConfig) Horizon() time.Duration {
	return time.Duration(c.HorizonDays) * 24 * time.Hour
}

// ICSTimeoutDuration bounds each feed download.
func (c CalendarConfig) ICSTimeoutDuration() time.Duration {
	return parseDuration(c.ICSTimeout, 15*time.Second)
}

func (c WeatherConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

func (c CompletionConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 2*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}

// LoadEnv reads KEY=VALUE files into the process environment. Variables
// already set win; missing files are skipped.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays secrets and endpoint settings from the environment.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Weather.APIKey, "OPENWEATHER_API_KEY")

	switch c.Completion.Provider {
	case "gemini":
		set(&c.Completion.APIKey, "GEMINI_API_KEY")
	case "openai":
		set(&c.Completion.APIKey, "OPENAI_API_KEY")
	case "azure":
		set(&c.Completion.APIKey, "AZURE_OPENAI_API_KEY")
		set(&c.Completion.BaseURL, "AZURE_OPENAI_BASE_URL")
		set(&c.Completion.Deployment, "AZURE_OPENAI_DEPLOYMENT_NAME")
		set(&c.Completion.APIVersion, "AZURE_OPENAI_API_VERSION")
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and normalized.
//
// Environment overrides are applied after the file is read, so secrets
// from the environment are never written back. The result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Normalize()
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) when needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".daybrief-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
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
