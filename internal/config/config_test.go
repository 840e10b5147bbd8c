package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8436 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8436)
	}
	if !cfg.API.MetricsEnabled {
		t.Error("API.MetricsEnabled should be true by default")
	}
	if cfg.Ledger.IdempotencyRetentionDays != 30 {
		t.Errorf("IdempotencyRetentionDays = %d, want 30", cfg.Ledger.IdempotencyRetentionDays)
	}
	if cfg.Saga.HoldTTLMinutes != 15 {
		t.Errorf("HoldTTLMinutes = %d, want 15", cfg.Saga.HoldTTLMinutes)
	}
	if cfg.Jobs.SweepSchedule != "@every 1m" {
		t.Errorf("SweepSchedule = %q, want %q", cfg.Jobs.SweepSchedule, "@every 1m")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("missing file should yield defaults, got port %d", cfg.API.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[api]
host = "0.0.0.0"
port = 9000

[ledger]
alert_threshold_credits = 50
signing_seed = "aabb"

[log]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Host != "0.0.0.0" || cfg.API.Port != 9000 {
		t.Errorf("api = %+v, want overridden host/port", cfg.API)
	}
	if cfg.Ledger.AlertThresholdCredits != 50 {
		t.Errorf("alert threshold = %d, want 50", cfg.Ledger.AlertThresholdCredits)
	}
	if cfg.Ledger.SigningSeed != "aabb" {
		t.Errorf("signing seed = %q, want aabb", cfg.Ledger.SigningSeed)
	}
	// Untouched sections keep their defaults.
	if cfg.Saga.HoldTTLMinutes != 15 {
		t.Errorf("hold ttl = %d, want default 15", cfg.Saga.HoldTTLMinutes)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Log.Format)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.API.Port = 0 }},
		{"huge port", func(c *Config) { c.API.Port = 70000 }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"zero hold ttl", func(c *Config) { c.Saga.HoldTTLMinutes = 0 }},
		{"zero retention", func(c *Config) { c.Ledger.IdempotencyRetentionDays = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}
