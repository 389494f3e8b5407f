package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Port != 8421 {
		t.Errorf("expected default port 8421, got %d", cfg.Gateway.Port)
	}
	if cfg.Guard.MaxResponsesPerHour != 30 {
		t.Errorf("expected default rate limit 30, got %d", cfg.Guard.MaxResponsesPerHour)
	}
	if cfg.Store.TTLHours != 168 {
		t.Errorf("expected default TTL of 7 days, got %d hours", cfg.Store.TTLHours)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"gateway": {"host": "0.0.0.0", "port": 9000},
		"guard": {"max_responses_per_hour": 5, "cooldown_seconds": 3, "duplicate_content_threshold": 0.7}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TINYMESH_GATEWAY_PORT", "9999")
	t.Setenv("TINYMESH_GUARD_COOLDOWN_SECONDS", "42")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Host != "0.0.0.0" {
		t.Errorf("expected host from file, got %q", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("expected env to override file port, got %d", cfg.Gateway.Port)
	}
	if cfg.Guard.CooldownSeconds != 42 {
		t.Errorf("expected env cooldown 42, got %d", cfg.Guard.CooldownSeconds)
	}
	if cfg.Guard.MaxResponsesPerHour != 5 {
		t.Errorf("expected file rate limit 5, got %d", cfg.Guard.MaxResponsesPerHour)
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	var f FlexibleStringSlice
	if err := json.Unmarshal([]byte(`["athena", 42, true]`), &f); err != nil {
		t.Fatal(err)
	}
	want := []string{"athena", "42", "true"}
	if len(f) != len(want) {
		t.Fatalf("expected %v, got %v", want, f)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("index %d: expected %q, got %q", i, want[i], f[i])
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := DefaultConfig()
	cfg.Gateway.AuthToken = "secret-token"
	cfg.Gateway.AllowFrom = FlexibleStringSlice{"athena", "boreas"}

	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Gateway.AuthToken != "secret-token" {
		t.Errorf("expected token to round-trip, got %q", loaded.Gateway.AuthToken)
	}
	if len(loaded.Gateway.AllowFrom) != 2 {
		t.Errorf("expected allowlist to round-trip, got %v", loaded.Gateway.AllowFrom)
	}
}
