// Package shadowdiff replays fixtures against a live backend and reports
// where the recorded responses have drifted from what the backend returns.
package shadowdiff

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Config defines the inputs required to run a verification session.
type Config struct {
	BackendBaseURL string            `json:"backendBaseUrl"`
	FixtureRoot    string            `json:"fixtureRoot"`
	Wildcard       string            `json:"wildcard"`
	Extension      string            `json:"extension"`
	Samples        map[string]string `json:"samples"`
	StripKeys      []string          `json:"stripKeys"`
	Methods        []string          `json:"methods"`
	Headers        map[string]string `json:"headers"`
	Concurrency    int               `json:"concurrency"`
}

// DefaultMethods are the methods replayed when none are configured. Only
// safe methods are replayed by default so verification never mutates the backend.
var DefaultMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// LoadConfig reads configuration from a JSON file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if strings.TrimSpace(cfg.BackendBaseURL) == "" {
		return Config{}, fmt.Errorf("backendBaseUrl is required")
	}
	if strings.TrimSpace(cfg.FixtureRoot) == "" {
		return Config{}, fmt.Errorf("fixtureRoot is required")
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if len(c.Methods) == 0 {
		c.Methods = append([]string(nil), DefaultMethods...)
	}
	for i, m := range c.Methods {
		c.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
}

// allows reports whether method is configured for replay.
func (c Config) allows(method string) bool {
	methods := c.Methods
	if len(methods) == 0 {
		methods = DefaultMethods
	}
	for _, m := range methods {
		if m == method {
			return true
		}
	}
	return false
}

func (c Config) ignoredKeys() map[string]struct{} {
	if len(c.StripKeys) == 0 {
		return nil
	}
	keys := make(map[string]struct{}, len(c.StripKeys))
	for _, k := range c.StripKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}
