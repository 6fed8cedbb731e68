package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log         LogConfig       `yaml:"log"`
	Web         WebConfig       `yaml:"web"`
	Broadcast   BroadcastConfig `yaml:"broadcast"`
	Connections []string        `yaml:"connections"` // endpoints opened at startup
}

// LogConfig contains logging settings
type LogConfig struct {
	Level           string `yaml:"level"`            // debug, info, warn, error
	TimestampFormat string `yaml:"timestamp_format"` // "time" or "unix"
}

// WebConfig contains API server settings
type WebConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// BroadcastConfig contains telemetry fan-out settings
type BroadcastConfig struct {
	TickMs      int `yaml:"tick_ms"`       // snapshot tick interval
	FullSyncSec int `yaml:"full_sync_sec"` // full-state resend interval
}

// Load reads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Web.Host == "" {
		cfg.Web.Host = "0.0.0.0"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8000
	}
	if len(cfg.Web.CORSOrigins) == 0 {
		cfg.Web.CORSOrigins = []string{"*"}
	}
	if cfg.Broadcast.TickMs == 0 {
		cfg.Broadcast.TickMs = 100
	}
	if cfg.Broadcast.FullSyncSec == 0 {
		cfg.Broadcast.FullSyncSec = 5
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", c.Web.Port)
	}
	if c.Broadcast.TickMs < 10 || c.Broadcast.TickMs > 1000 {
		return fmt.Errorf("invalid broadcast tick: %dms", c.Broadcast.TickMs)
	}
	if c.Broadcast.FullSyncSec < 1 {
		return fmt.Errorf("invalid broadcast full sync interval: %ds", c.Broadcast.FullSyncSec)
	}
	return nil
}

// GetAddress returns the listen address for the API server
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// Save writes the configuration back to a YAML file
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
