// Package config loads, validates, and normalises mock server configuration.
//
// It supports layered YAML files with environment variable overrides and is
// shared by both the runtime and CLI so embedders can reuse the same schema.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theroutercompany/mock_api/pkg/mock/fixture"
)

const (
	defaultPort            = 3000
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxBodyBytes    = 1 << 20
	defaultFixtureRoot     = "./mocks"
	defaultRateLimitWindow = 60 * time.Second
	defaultMetricsEnabled  = true
	defaultAdminListen     = "127.0.0.1:9091"
	defaultWatchDebounce   = 200 * time.Millisecond
	defaultConfigEnvVar    = "MOCKAPI_CONFIG"
	envPort                = "PORT"
	envShutdownTimeout     = "SHUTDOWN_TIMEOUT_MS"
	envGitSHA              = "GIT_SHA"
	envMockRoot            = "MOCK_ROOT"
	envProfile             = "CHAPTER"
	envMockExtension       = "MOCK_EXTENSION"
	envMockWildcard        = "MOCK_WILDCARD"
	envOptionsFallback     = "MOCK_OPTIONS_FALLBACK"
	envCorsEnabled         = "CORS_ENABLED"
	envCorsAllowedOrigins  = "CORS_ALLOWED_ORIGINS"
	envRateLimitWindow     = "RATE_LIMIT_WINDOW_MS"
	envRateLimitMax        = "RATE_LIMIT_MAX"
	envMetricsEnabled      = "METRICS_ENABLED"
	envAdminEnabled        = "ADMIN_ENABLED"
	envAdminListen         = "ADMIN_LISTEN"
	envAdminToken          = "ADMIN_TOKEN"
	envAdminJWTSecret      = "ADMIN_JWT_SECRET"
	envWatchEnabled        = "WATCH_ENABLED"
)

// Config captures runtime configuration for the mock server.
type Config struct {
	Version   string          `yaml:"version" json:"version"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	Fixtures  FixturesConfig  `yaml:"fixtures" json:"fixtures"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	RateLimit RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Watch     WatchConfig     `yaml:"watch" json:"watch"`
}

// HTTPConfig configures listener behaviour.
type HTTPConfig struct {
	Port            int      `yaml:"port" json:"port"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MaxBodyBytes    int64    `yaml:"maxBodyBytes" json:"maxBodyBytes"`
}

// FixturesConfig locates the fixture tree and tunes its naming rules.
type FixturesConfig struct {
	Root            string `yaml:"root" json:"root"`
	Profile         string `yaml:"profile" json:"profile"`
	Extension       string `yaml:"extension" json:"extension"`
	Wildcard        string `yaml:"wildcard" json:"wildcard"`
	OptionsFallback string `yaml:"optionsFallback" json:"optionsFallback"`
}

// CORSConfig captures allowed origins. CORS handling is off unless enabled.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
}

// RateLimitConfig captures throttling settings. Max of zero disables limiting.
type RateLimitConfig struct {
	Window Duration `yaml:"window" json:"window"`
	Max    int      `yaml:"max" json:"max"`
}

// MetricsConfig toggles metrics exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// AdminConfig controls the admin control plane.
type AdminConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Listen    string   `yaml:"listen" json:"listen"`
	Token     string   `yaml:"token" json:"token,omitempty"`
	JWTSecret string   `yaml:"jwtSecret" json:"jwtSecret,omitempty"`
	JWTIssuer string   `yaml:"jwtIssuer" json:"jwtIssuer,omitempty"`
	Allow     []string `yaml:"allow" json:"allow"`
}

// WatchConfig controls fixture change notifications.
type WatchConfig struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Debounce Duration `yaml:"debounce" json:"debounce"`
}

// Duration is a YAML-friendly wrapper over time.Duration supporting numeric millisecond inputs.
type Duration time.Duration

// AsDuration returns the underlying time.Duration.
func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.AsDuration().String(), nil
}

// MarshalText renders the duration for JSON admin output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.AsDuration().String()), nil
}

// UnmarshalYAML decodes scalar duration values from either Go duration strings or millisecond integers.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}

	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalText accepts the same forms as UnmarshalYAML, so admin JSON output round-trips.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDuration(raw string) (Duration, error) {
	txt := strings.TrimSpace(raw)
	if txt == "" {
		return 0, nil
	}
	if ms, err := strconv.Atoi(txt); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("duration must be non-negative, got %d", ms)
		}
		return Duration(time.Duration(ms) * time.Millisecond), nil
	}
	parsed, err := time.ParseDuration(txt)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", txt, err)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("duration must be non-negative, got %s", parsed)
	}
	return Duration(parsed), nil
}

// DurationFrom constructs a Duration from a time.Duration.
func DurationFrom(d time.Duration) Duration {
	return Duration(d)
}

// Default returns baseline configuration values.
func Default() Config {
	return Config{
		Version: os.Getenv(envGitSHA),
		HTTP: HTTPConfig{
			Port:            defaultPort,
			ShutdownTimeout: DurationFrom(defaultShutdownTimeout),
			MaxBodyBytes:    defaultMaxBodyBytes,
		},
		Fixtures: FixturesConfig{
			Root:            defaultFixtureRoot,
			Extension:       fixture.DefaultExtension,
			Wildcard:        fixture.DefaultWildcard,
			OptionsFallback: string(fixture.FallbackSame),
		},
		RateLimit: RateLimitConfig{
			Window: DurationFrom(defaultRateLimitWindow),
		},
		Metrics: MetricsConfig{
			Enabled: defaultMetricsEnabled,
		},
		Admin: AdminConfig{
			Listen: defaultAdminListen,
		},
		Watch: WatchConfig{
			Debounce: DurationFrom(defaultWatchDebounce),
		},
	}
}

// Option customises the load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	paths     []string
	lookupEnv func(string) (string, bool)
}

// WithPath adds a YAML config path to attempt loading.
func WithPath(path string) Option {
	return func(o *loaderOptions) {
		if strings.TrimSpace(path) != "" {
			o.paths = append(o.paths, path)
		}
	}
}

// WithLookupEnv overrides the environment lookup function (useful for tests).
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *loaderOptions) {
		o.lookupEnv = fn
	}
}

// Load builds a Config from defaults, YAML files, and environment overrides (in that order).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		lookupEnv: os.LookupEnv,
	}
	if envPath := strings.TrimSpace(os.Getenv(defaultConfigEnvVar)); envPath != "" {
		options.paths = append(options.paths, envPath)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	cfg := Default()

	for _, path := range options.paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %q: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, options.lookupEnv); err != nil {
		return cfg, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	get := func(key string) (string, bool) {
		val, ok := lookup(key)
		val = strings.TrimSpace(val)
		return val, ok && val != ""
	}

	if val, ok := get(envPort); ok {
		port, err := strconv.Atoi(val)
		if err != nil || port <= 0 {
			return fmt.Errorf("invalid %s value: %s", envPort, val)
		}
		cfg.HTTP.Port = port
	}

	if val, ok := get(envShutdownTimeout); ok {
		timeout, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envShutdownTimeout, err)
		}
		cfg.HTTP.ShutdownTimeout = DurationFrom(timeout)
	}

	if val, ok := get(envGitSHA); ok {
		cfg.Version = val
	}

	if val, ok := get(envMockRoot); ok {
		cfg.Fixtures.Root = val
	}
	if val, ok := get(envProfile); ok {
		cfg.Fixtures.Profile = val
	}
	if val, ok := get(envMockExtension); ok {
		cfg.Fixtures.Extension = val
	}
	if val, ok := get(envMockWildcard); ok {
		cfg.Fixtures.Wildcard = val
	}
	if val, ok := get(envOptionsFallback); ok {
		cfg.Fixtures.OptionsFallback = val
	}

	if val, ok := get(envCorsEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envCorsEnabled, err)
		}
		cfg.CORS.Enabled = enabled
	}

	if val, ok := get(envCorsAllowedOrigins); ok {
		cfg.CORS.AllowedOrigins = splitAndTrim(val)
		cfg.CORS.Enabled = true
	}

	if val, ok := get(envRateLimitWindow); ok {
		window, err := parsePositiveDurationMillis(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envRateLimitWindow, err)
		}
		cfg.RateLimit.Window = DurationFrom(window)
	}

	if val, ok := get(envRateLimitMax); ok {
		max, err := strconv.Atoi(val)
		if err != nil || max < 0 {
			return fmt.Errorf("invalid %s: %s", envRateLimitMax, val)
		}
		cfg.RateLimit.Max = max
	}

	if val, ok := get(envMetricsEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envMetricsEnabled, err)
		}
		cfg.Metrics.Enabled = enabled
	}

	if val, ok := get(envAdminEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envAdminEnabled, err)
		}
		cfg.Admin.Enabled = enabled
	}
	if val, ok := get(envAdminListen); ok {
		cfg.Admin.Listen = val
	}
	if val, ok := get(envAdminToken); ok {
		cfg.Admin.Token = val
	}
	if val, ok := get(envAdminJWTSecret); ok {
		cfg.Admin.JWTSecret = val
	}

	if val, ok := get(envWatchEnabled); ok {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", envWatchEnabled, err)
		}
		cfg.Watch.Enabled = enabled
	}

	return nil
}

// normalize fills in defaults that may be missing after YAML/env overrides.
func (cfg *Config) normalize() {
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = defaultPort
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		cfg.HTTP.ShutdownTimeout = DurationFrom(defaultShutdownTimeout)
	}
	if cfg.HTTP.MaxBodyBytes == 0 {
		cfg.HTTP.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(cfg.Fixtures.Root) == "" {
		cfg.Fixtures.Root = defaultFixtureRoot
	}
	cfg.Fixtures.Profile = strings.Trim(strings.TrimSpace(cfg.Fixtures.Profile), "/")
	cfg.Fixtures.Extension = strings.TrimPrefix(strings.TrimSpace(cfg.Fixtures.Extension), ".")
	if cfg.Fixtures.Extension == "" {
		cfg.Fixtures.Extension = fixture.DefaultExtension
	}
	cfg.Fixtures.Wildcard = strings.TrimSpace(cfg.Fixtures.Wildcard)
	if cfg.Fixtures.Wildcard == "" {
		cfg.Fixtures.Wildcard = fixture.DefaultWildcard
	}
	cfg.Fixtures.OptionsFallback = strings.ToLower(strings.TrimSpace(cfg.Fixtures.OptionsFallback))
	if cfg.Fixtures.OptionsFallback == "" {
		cfg.Fixtures.OptionsFallback = string(fixture.FallbackSame)
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		cfg.RateLimit.Window = DurationFrom(defaultRateLimitWindow)
	}
	if strings.TrimSpace(cfg.Admin.Listen) == "" {
		cfg.Admin.Listen = defaultAdminListen
	}
	if cfg.Watch.Debounce.AsDuration() <= 0 {
		cfg.Watch.Debounce = DurationFrom(defaultWatchDebounce)
	}
}

// Validate performs semantic validation on the configuration.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port must be between 1 and 65535"))
	}
	if cfg.HTTP.ShutdownTimeout.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("http.shutdownTimeout must be positive"))
	}
	if cfg.HTTP.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("http.maxBodyBytes must not be negative"))
	}

	if strings.TrimSpace(cfg.Fixtures.Root) == "" {
		errs = append(errs, fmt.Errorf("fixtures.root is required"))
	}
	if p := cfg.Fixtures.Profile; p != "" && (strings.Contains(p, "..") || filepath.IsAbs(p)) {
		errs = append(errs, fmt.Errorf("fixtures.profile %q must be a relative sub-directory", p))
	}
	if w := cfg.Fixtures.Wildcard; w == "" || w == "." || w == ".." || strings.ContainsAny(w, `/\`) {
		errs = append(errs, fmt.Errorf("fixtures.wildcard %q is not a valid directory name", w))
	}
	if strings.ContainsAny(cfg.Fixtures.Extension, `/\`) {
		errs = append(errs, fmt.Errorf("fixtures.extension %q must not contain path separators", cfg.Fixtures.Extension))
	}
	if _, err := fixture.ParseFallbackMode(cfg.Fixtures.OptionsFallback); err != nil {
		errs = append(errs, fmt.Errorf("fixtures.optionsFallback: %w", err))
	}

	if cfg.RateLimit.Max < 0 {
		errs = append(errs, fmt.Errorf("rateLimit.max must not be negative"))
	}
	if cfg.RateLimit.Window.AsDuration() <= 0 {
		errs = append(errs, fmt.Errorf("rateLimit.window must be positive"))
	}

	if cfg.Admin.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Admin.Listen); err != nil {
			errs = append(errs, fmt.Errorf("admin.listen invalid: %w", err))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// FixtureRoot returns the absolute directory fixtures are served from,
// including the profile sub-directory when one is configured.
func (cfg Config) FixtureRoot() (string, error) {
	root := cfg.Fixtures.Root
	if cfg.Fixtures.Profile != "" {
		root = filepath.Join(root, filepath.FromSlash(cfg.Fixtures.Profile))
	}
	return filepath.Abs(root)
}

// StoreOptions maps the fixture settings onto fixture.Store options.
func (cfg Config) StoreOptions() []fixture.Option {
	mode, _ := fixture.ParseFallbackMode(cfg.Fixtures.OptionsFallback)
	return []fixture.Option{
		fixture.WithExtension(cfg.Fixtures.Extension),
		fixture.WithWildcard(cfg.Fixtures.Wildcard),
		fixture.WithOptionsFallback(mode),
	}
}

// Redacted returns a copy with secrets cleared, suitable for display.
func (cfg Config) Redacted() Config {
	cfg.Admin.Token = ""
	cfg.Admin.JWTSecret = ""
	cfg.Admin.Allow = append([]string(nil), cfg.Admin.Allow...)
	cfg.CORS.AllowedOrigins = append([]string(nil), cfg.CORS.AllowedOrigins...)
	return cfg
}

func parsePositiveDurationMillis(value string) (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if ms <= 0 {
		return 0, fmt.Errorf("value must be positive: %d", ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func splitAndTrim(value string) []string {
	parts := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
