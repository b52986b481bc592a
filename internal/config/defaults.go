package config

import (
	"strings"
	"time"
)

const (
	DefaultAddress         = ":2121"
	DefaultMetricsAddress  = "127.0.0.1:9121"
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultDataTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
)

// ApplyDefaults replaces zero values with defaults. Explicit values are kept.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = DefaultAddress
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.DataTimeout == 0 {
		cfg.Server.DataTimeout = DefaultDataTimeout
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = DefaultMetricsAddress
	}
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
