// Package config provides configuration loading for calslots.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source types.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
	SourceFile   = "file"
	SourceCalDAV = "caldav"
	SourceICloud = "icloud"
	SourceMS365  = "ms365"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Availability AvailabilityConfig `yaml:"availability"`
	Sources      []SourceConfig     `yaml:"sources"`
	Filters      FilterConfig       `yaml:"filters"` // Applied to every source
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string
	APIKeys         []string
	APIKeysCmd      string
	CORSOrigins     []string
	MaxBodyBytes    int64
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RateLimit       RateLimitConfig
}

// RateLimitConfig configures per-client request limiting. Requests <= 0
// disables it. With RedisAddr set the window is shared between instances.
type RateLimitConfig struct {
	Requests   int
	Window     time.Duration
	RedisAddr  string
	FailClosed bool // reject requests when Redis is unreachable

	// TrustForwardedFor keys clients by X-Forwarded-For instead of the peer
	// address. Enable it only behind a proxy that sets the header.
	TrustForwardedFor bool
}

// AvailabilityConfig holds the defaults applied to free-slot queries.
type AvailabilityConfig struct {
	Timezone     string
	WorkingHours WorkingHoursConfig
	MinDuration  time.Duration
	MaxDays      int
	FetchTimeout time.Duration
	FetchPadding time.Duration

	// RequireSource fails requests when no source answers instead of
	// treating the range as free.
	RequireSource bool
}

// WorkingHoursConfig is the daily window, as "HH:MM".
type WorkingHoursConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// SourceConfig configures a calendar source.
type SourceConfig struct {
	Name        string   `yaml:"name"`
	Type        string   `yaml:"type"` // "google", "ics", "file", "caldav", "icloud", "ms365"
	URL         string   `yaml:"url,omitempty"`
	Path        string   `yaml:"path,omitempty"` // For file sources
	Username    string   `yaml:"username,omitempty"`
	Password    string   `yaml:"password,omitempty"`
	PasswordCmd string   `yaml:"password_cmd,omitempty"`
	Calendars   []string `yaml:"calendars,omitempty"` // For Google/CalDAV: which calendars to query
	Timezone    string   `yaml:"timezone,omitempty"`  // Zone for floating ICS times

	// Google OAuth.
	Credentials  string `yaml:"credentials,omitempty"`
	Token        string `yaml:"token,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`

	// Microsoft 365.
	Tenant string `yaml:"tenant,omitempty"`

	Filters FilterConfig `yaml:"filters,omitempty"` // Per-source filters
}

// FilterConfig configures event filtering. Rules include events, Exclude
// drops them afterwards.
type FilterConfig struct {
	Mode    string       `yaml:"mode"` // "or" or "and"
	Rules   []FilterRule `yaml:"rules"`
	Exclude []FilterRule `yaml:"exclude,omitempty"`
}

// FilterRule defines a single filter rule.
// Use exactly one of: Contains, Exact, Prefix, Suffix, or Regex.
type FilterRule struct {
	Field           string `yaml:"field"`              // "title", "organizer", "source", "calendar", "description", "location"
	Contains        string `yaml:"contains,omitempty"` // Substring match
	Exact           string `yaml:"exact,omitempty"`    // Exact string match
	Prefix          string `yaml:"prefix,omitempty"`   // Starts with
	Suffix          string `yaml:"suffix,omitempty"`   // Ends with
	Regex           string `yaml:"regex,omitempty"`    // Regular expression
	CaseInsensitive bool   `yaml:"case_insensitive"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	ServiceName string  `yaml:"service_name"`
}

// Path returns the default config file location (~/.config/calslots/config.yaml).
func Path() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config dir: %w", err)
	}
	return filepath.Join(configDir, "calslots", "config.yaml"), nil
}

// Load reads configuration from the default location. A missing file
// yields the defaults so the server can run from environment variables
// alone.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	cfg, err := LoadFrom(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return &cfg
}

// LoadFrom reads configuration from a specific path.
func LoadFrom(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration, then applies environment overrides and
// defaults.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.LookupEnv)
}

func parse(data []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyEnv(lookup)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides file values with the deployment environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("TIMEZONE"); ok && v != "" {
		c.Availability.Timezone = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Server.Addr = ":" + v
	}
	if v, ok := lookup("API_KEYS"); ok {
		c.Server.APIKeys = splitList(v)
	}
	if v, ok := lookup("FRONTEND_URL"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Server.RateLimit.RedisAddr = v
	}
}

// applyDefaults sets default values for unspecified config options.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 64 << 10
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit.Window == 0 {
		c.Server.RateLimit.Window = time.Minute
	}

	if c.Availability.Timezone == "" {
		c.Availability.Timezone = "Asia/Tokyo"
	}
	if c.Availability.WorkingHours.Start == "" {
		c.Availability.WorkingHours.Start = "09:00"
	}
	if c.Availability.WorkingHours.End == "" {
		c.Availability.WorkingHours.End = "18:00"
	}
	if c.Availability.MinDuration == 0 {
		c.Availability.MinDuration = 30 * time.Minute
	}
	if c.Availability.MaxDays == 0 {
		c.Availability.MaxDays = 92
	}
	if c.Availability.FetchTimeout == 0 {
		c.Availability.FetchTimeout = 8 * time.Second
	}
	if c.Availability.FetchPadding == 0 {
		c.Availability.FetchPadding = 24 * time.Hour
	}

	if c.Filters.Mode == "" {
		c.Filters.Mode = "or"
	}

	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.SampleRatio == 0 {
		c.Telemetry.SampleRatio = 1
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "calslots"
	}

	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Name == "" {
			s.Name = s.Type
		}
		if s.Filters.Mode == "" {
			s.Filters.Mode = "or"
		}
		s.Path = expandPath(s.Path)
		s.Credentials = expandPath(s.Credentials)
		s.Token = expandPath(s.Token)
	}
}

// Validate checks values that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.Availability.MinDuration < 0 {
		return fmt.Errorf("availability.min_duration must not be negative")
	}
	if c.Availability.MaxDays < 0 {
		return fmt.Errorf("availability.max_days must not be negative")
	}

	seen := make(map[string]bool)
	for i, s := range c.Sources {
		if seen[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true

		switch s.Type {
		case SourceICS, SourceCalDAV:
			if s.URL == "" {
				return fmt.Errorf("sources[%d] (%s): url is required for %s", i, s.Name, s.Type)
			}
		case SourceFile:
			if s.Path == "" {
				return fmt.Errorf("sources[%d] (%s): path is required for file", i, s.Name)
			}
		case SourceICloud:
			if s.Username == "" {
				return fmt.Errorf("sources[%d] (%s): username is required for icloud", i, s.Name)
			}
		case SourceGoogle, SourceMS365:
		default:
			return fmt.Errorf("sources[%d] (%s): unknown type %q", i, s.Name, s.Type)
		}
	}
	return nil
}

// GetPassword returns the password for a source, executing password_cmd if needed.
func (s *SourceConfig) GetPassword() (string, error) {
	if s.Password != "" {
		return s.Password, nil
	}
	if s.PasswordCmd == "" {
		return "", nil
	}

	out, err := runCmd(s.PasswordCmd)
	if err != nil {
		return "", fmt.Errorf("execute password_cmd: %w", err)
	}
	return out, nil
}

// Keys returns the accepted API keys, running api_keys_cmd if set. The
// command prints keys separated by commas or newlines.
func (s *ServerConfig) Keys() ([]string, error) {
	keys := append([]string(nil), s.APIKeys...)
	if s.APIKeysCmd == "" {
		return keys, nil
	}

	out, err := runCmd(s.APIKeysCmd)
	if err != nil {
		return nil, fmt.Errorf("execute api_keys_cmd: %w", err)
	}
	return append(keys, splitList(strings.ReplaceAll(out, "\n", ","))...), nil
}

func runCmd(command string) (string, error) {
	cmd := exec.Command("sh", "-c", command)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// parseDuration extends time.ParseDuration with day ("d") and week ("w")
// suffixes. Negative values are rejected.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	var unit time.Duration
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		unit = 7 * 24 * time.Hour
	}

	if unit != 0 {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * unit, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: negative", s)
	}
	return d, nil
}

// UnmarshalYAML implements custom unmarshaling for duration fields.
func (c *ServerConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Addr            string          `yaml:"addr"`
		APIKeys         []string        `yaml:"api_keys"`
		APIKeysCmd      string          `yaml:"api_keys_cmd"`
		CORSOrigins     []string        `yaml:"cors_origins"`
		MaxBodyBytes    int64           `yaml:"max_body_bytes"`
		RequestTimeout  string          `yaml:"request_timeout"`
		ShutdownTimeout string          `yaml:"shutdown_timeout"`
		RateLimit       RateLimitConfig `yaml:"rate_limit"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if c.RequestTimeout, err = parseDuration(raw.RequestTimeout); err != nil {
		return fmt.Errorf("parse request_timeout: %w", err)
	}
	if c.ShutdownTimeout, err = parseDuration(raw.ShutdownTimeout); err != nil {
		return fmt.Errorf("parse shutdown_timeout: %w", err)
	}
	c.Addr = raw.Addr
	c.APIKeys = raw.APIKeys
	c.APIKeysCmd = raw.APIKeysCmd
	c.CORSOrigins = raw.CORSOrigins
	c.MaxBodyBytes = raw.MaxBodyBytes
	c.RateLimit = raw.RateLimit
	return nil
}

// UnmarshalYAML implements custom unmarshaling for the rate limit window.
func (c *RateLimitConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Requests          int    `yaml:"requests"`
		Window            string `yaml:"window"`
		RedisAddr         string `yaml:"redis_addr"`
		FailClosed        bool   `yaml:"fail_closed"`
		TrustForwardedFor bool   `yaml:"trust_forwarded_for"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	d, err := parseDuration(raw.Window)
	if err != nil {
		return fmt.Errorf("parse window: %w", err)
	}
	c.Requests = raw.Requests
	c.Window = d
	c.RedisAddr = raw.RedisAddr
	c.FailClosed = raw.FailClosed
	c.TrustForwardedFor = raw.TrustForwardedFor
	return nil
}

// UnmarshalYAML implements custom unmarshaling for availability defaults.
func (c *AvailabilityConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Timezone      string             `yaml:"timezone"`
		WorkingHours  WorkingHoursConfig `yaml:"working_hours"`
		MinDuration   string             `yaml:"min_duration"`
		MaxDays       int                `yaml:"max_days"`
		FetchTimeout  string             `yaml:"fetch_timeout"`
		FetchPadding  string             `yaml:"fetch_padding"`
		RequireSource bool               `yaml:"require_source"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var err error
	if c.MinDuration, err = parseDuration(raw.MinDuration); err != nil {
		return fmt.Errorf("parse min_duration: %w", err)
	}
	if c.FetchTimeout, err = parseDuration(raw.FetchTimeout); err != nil {
		return fmt.Errorf("parse fetch_timeout: %w", err)
	}
	if c.FetchPadding, err = parseDuration(raw.FetchPadding); err != nil {
		return fmt.Errorf("parse fetch_padding: %w", err)
	}
	c.Timezone = raw.Timezone
	c.WorkingHours = raw.WorkingHours
	c.MaxDays = raw.MaxDays
	c.RequireSource = raw.RequireSource
	return nil
}
