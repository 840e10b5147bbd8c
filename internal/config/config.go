// Package config loads the daemon configuration from TOML with sane
// defaults: a missing file just means the defaults run.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full daemon configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Storage StorageConfig `toml:"storage"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Saga    SagaConfig    `toml:"saga"`
	Jobs    JobsConfig    `toml:"jobs"`
	Log     LogConfig     `toml:"log"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
}

// StorageConfig configures the database location.
type StorageConfig struct {
	Path string `toml:"path"`
}

// LedgerConfig configures the write path.
type LedgerConfig struct {
	// SigningSeed is the hex-encoded 32-byte Ed25519 seed. Empty means a
	// fresh key per process (development mode).
	SigningSeed string `toml:"signing_seed"`

	// AlertThresholdCredits fires a balance alert when a balance drops
	// below it. Zero disables alerts.
	AlertThresholdCredits int64 `toml:"alert_threshold_credits"`

	// EventBuffer is the post-commit stream capacity.
	EventBuffer int `toml:"event_buffer"`

	// IdempotencyRetentionDays bounds the idempotency key window.
	IdempotencyRetentionDays int `toml:"idempotency_retention_days"`
}

// SagaConfig configures reservations.
type SagaConfig struct {
	// HoldTTLMinutes bounds how long a reservation stays open.
	HoldTTLMinutes int `toml:"hold_ttl_minutes"`
}

// JobsConfig holds the cron schedules for background maintenance.
type JobsConfig struct {
	SweepSchedule   string `toml:"sweep_schedule"`
	PurgeSchedule   string `toml:"purge_schedule"`
	CleanupSchedule string `toml:"cleanup_schedule"`
	AuditSchedule   string `toml:"audit_schedule"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8436,
			MetricsEnabled: true,
		},
		Storage: StorageConfig{
			Path: defaultDBPath(),
		},
		Ledger: LedgerConfig{
			AlertThresholdCredits:    10,
			EventBuffer:              256,
			IdempotencyRetentionDays: 30,
		},
		Saga: SagaConfig{
			HoldTTLMinutes: 15,
		},
		Jobs: JobsConfig{
			SweepSchedule:   "@every 1m",
			PurgeSchedule:   "@daily",
			CleanupSchedule: "@daily",
			AuditSchedule:   "@daily",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if c.Ledger.EventBuffer < 0 {
		return fmt.Errorf("ledger.event_buffer must not be negative")
	}
	if c.Saga.HoldTTLMinutes <= 0 {
		return fmt.Errorf("saga.hold_ttl_minutes must be positive")
	}
	if c.Ledger.IdempotencyRetentionDays <= 0 {
		return fmt.Errorf("ledger.idempotency_retention_days must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	return filepath.Join(home(), "config.toml")
}

func defaultDBPath() string {
	return filepath.Join(home(), "ledger.db")
}

// home returns the daemon state directory, honoring CREDD_HOME.
func home() string {
	if env := os.Getenv("CREDD_HOME"); env != "" {
		return env
	}
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".credd")
}
