// Package config loads tinymesh configuration from a JSON file with
// environment-variable overrides (TINYMESH_* via caarlos0/env).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers, so an
// allowlist can contain both "athena" and 42.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the complete gateway configuration.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Guard    GuardConfig    `json:"guard"`
	Presence PresenceConfig `json:"presence"`
	Store    StoreConfig    `json:"store"`
	LogLevel string         `env:"TINYMESH_LOG_LEVEL" json:"log_level,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host      string              `env:"TINYMESH_GATEWAY_HOST"       json:"host"`
	Port      int                 `env:"TINYMESH_GATEWAY_PORT"       json:"port"`
	AuthToken string              `env:"TINYMESH_GATEWAY_AUTH_TOKEN" json:"auth_token,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// GuardConfig tunes the anti-spam guard.
type GuardConfig struct {
	MaxResponsesPerHour       int     `env:"TINYMESH_GUARD_MAX_RESPONSES_PER_HOUR"      json:"max_responses_per_hour"`
	CooldownSeconds           int     `env:"TINYMESH_GUARD_COOLDOWN_SECONDS"            json:"cooldown_seconds"`
	DuplicateContentThreshold float64 `env:"TINYMESH_GUARD_DUPLICATE_CONTENT_THRESHOLD" json:"duplicate_content_threshold"`
	CleanupIntervalSeconds    int     `env:"TINYMESH_GUARD_CLEANUP_INTERVAL_SECONDS"    json:"cleanup_interval_seconds"`
}

// PresenceConfig tunes the registry's stale-connection sweep.
type PresenceConfig struct {
	SweepIntervalSeconds  int `env:"TINYMESH_PRESENCE_SWEEP_INTERVAL_SECONDS"  json:"sweep_interval_seconds"`
	StaleThresholdSeconds int `env:"TINYMESH_PRESENCE_STALE_THRESHOLD_SECONDS" json:"stale_threshold_seconds"`
}

// StoreConfig selects the durable store backend. An empty RedisAddr selects
// the in-memory store.
type StoreConfig struct {
	RedisAddr     string `env:"TINYMESH_STORE_REDIS_ADDR"     json:"redis_addr,omitempty"`
	RedisPassword string `env:"TINYMESH_STORE_REDIS_PASSWORD" json:"redis_password,omitempty"`
	RedisDB       int    `env:"TINYMESH_STORE_REDIS_DB"       json:"redis_db,omitempty"`
	TTLHours      int    `env:"TINYMESH_STORE_TTL_HOURS"      json:"ttl_hours"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 8421,
		},
		Guard: GuardConfig{
			MaxResponsesPerHour:       30,
			CooldownSeconds:           10,
			DuplicateContentThreshold: 0.8,
			CleanupIntervalSeconds:    300,
		},
		Presence: PresenceConfig{
			SweepIntervalSeconds:  30,
			StaleThresholdSeconds: 60,
		},
		Store: StoreConfig{
			TTLHours: 7 * 24,
		},
		LogLevel: "info",
	}
}

// DefaultPath returns ~/.tinymesh/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".tinymesh", "config.json")
}

// Load reads the config file at path (defaults apply when it does not
// exist), then applies TINYMESH_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults plus env only.
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as indented JSON, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
