package shadowdiff

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigSetsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"backendBaseUrl":"http://backend","fixtureRoot":"./mocks","samples":{"__":"123"},"methods":["get"," post "]}`

	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Concurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.Concurrency)
	}
	if cfg.Samples["__"] != "123" {
		t.Fatalf("expected sample value, got %v", cfg.Samples)
	}
	if !cfg.allows(http.MethodPost) || cfg.allows(http.MethodHead) {
		t.Fatalf("expected configured methods normalised, got %v", cfg.Methods)
	}
}

func TestLoadConfigDefaultsToSafeMethods(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"backendBaseUrl":"http://backend","fixtureRoot":"mocks"}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		if !cfg.allows(m) {
			t.Fatalf("expected %s allowed by default", m)
		}
	}
	if cfg.allows(http.MethodDelete) {
		t.Fatalf("expected DELETE excluded by default")
	}
}

func TestLoadConfigRequiresBackendAndRoot(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing backend": `{"fixtureRoot":"mocks"}`,
		"missing root":    `{"backendBaseUrl":"http://backend"}`,
		"invalid json":    `{`,
	}
	for name, data := range cases {
		path := filepath.Join(dir, "config.json")
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
