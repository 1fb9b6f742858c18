// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the orchestrator configuration.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Storage   StorageConfig   `toml:"storage"`
	Skillsets SkillsetsConfig `toml:"skillsets"`
	Queue     QueueConfig     `toml:"queue"` // Optional NATS bridge
	Watch     WatchConfig     `toml:"watch"` // Optional file watcher
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// EngineConfig contains pipeline engine settings.
type EngineConfig struct {
	ID                 string `toml:"id"`
	SkipExploration    bool   `toml:"skip_exploration"`     // Never explore sites; synthesis uses sources only
	MaxConcurrentSites int    `toml:"max_concurrent_sites"` // Upper bound on exploration fan-out (0 = unlimited)
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path        string `toml:"path"`         // Base directory for all persistent data
	PersistLogs bool   `toml:"persist_logs"` // true = session event logs survive across runs
}

// SkillsetsConfig locates the skillset registry.
type SkillsetsConfig struct {
	Path string `toml:"path"` // Directory of per-site skillset files; defaults under storage
}

// QueueConfig contains NATS command queue settings.
type QueueConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`     // nats://host:port
	Subject string `toml:"subject"` // Base subject, defaults to "reportforge"
}

// WatchConfig contains source file watcher settings.
type WatchConfig struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level string `toml:"level"` // debug|info|warn|error
	JSON  bool   `toml:"json"`  // JSON output instead of console encoding
}

// TelemetryConfig contains tracing settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:        "~/.local/reportforge",
			PersistLogs: true,
		},
		Queue: QueueConfig{
			Subject: "reportforge",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from reportforge.toml in the current
// directory, falling back to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, "reportforge.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// StoragePath returns the storage base directory with ~ expanded.
func (c *Config) StoragePath() string {
	path := c.Storage.Path
	if path == "" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "reportforge")
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// SkillsetPath returns the skillset registry directory, defaulting to a
// subdirectory of storage.
func (c *Config) SkillsetPath() string {
	if c.Skillsets.Path != "" {
		return c.Skillsets.Path
	}
	return filepath.Join(c.StoragePath(), "skillsets")
}

// SessionLogPath returns the directory holding session event logs.
func (c *Config) SessionLogPath() string {
	return filepath.Join(c.StoragePath(), "sessions")
}
