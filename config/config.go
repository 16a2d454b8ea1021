// Package config loads server configuration from the environment, with an
// optional .env file for development. Priority: env vars > .env > defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
type Config struct {
	// Server basics
	Addr string `env:"SOLINK_ADDR" envDefault:":8080"`

	// Auth
	SessionTTLSeconds int `env:"SOLINK_SESSION_TTL" envDefault:"3600"`

	// Rate limiting
	RateLimit  int           `env:"SOLINK_RATE_LIMIT" envDefault:"60"`
	RateWindow time.Duration `env:"SOLINK_RATE_WINDOW" envDefault:"60s"`

	// CORS / websocket origins
	AllowedOrigins []string `env:"SOLINK_ALLOWED_ORIGINS" envSeparator:","`
	AllowNoOrigin  bool     `env:"SOLINK_ALLOW_NO_ORIGIN" envDefault:"true"`

	// Push
	NATSURL string `env:"SOLINK_NATS_URL"`

	// Housekeeping
	CleanupInterval time.Duration `env:"SOLINK_CLEANUP_INTERVAL" envDefault:"30s"`
	SweepInterval   time.Duration `env:"SOLINK_SWEEP_INTERVAL" envDefault:"1s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file and environment variables.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("SOLINK_ADDR is required")
	}
	if c.SessionTTLSeconds < 1 {
		return fmt.Errorf("SOLINK_SESSION_TTL must be > 0, got %d", c.SessionTTLSeconds)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("SOLINK_RATE_LIMIT must be > 0, got %d", c.RateLimit)
	}
	if c.RateWindow < time.Second {
		return fmt.Errorf("SOLINK_RATE_WINDOW must be >= 1s, got %v", c.RateWindow)
	}
	if c.CleanupInterval < time.Second {
		return fmt.Errorf("SOLINK_CLEANUP_INTERVAL must be >= 1s, got %v", c.CleanupInterval)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger from the logging settings.
func (c *Config) NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if c.LogFormat == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "solink-server").Logger()
}

// LogConfig logs the effective configuration.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Int("session_ttl", c.SessionTTLSeconds).
		Int("rate_limit", c.RateLimit).
		Dur("rate_window", c.RateWindow).
		Strs("allowed_origins", c.AllowedOrigins).
		Bool("allow_no_origin", c.AllowNoOrigin).
		Bool("push_enabled", c.NATSURL != "").
		Dur("cleanup_interval", c.CleanupInterval).
		Dur("sweep_interval", c.SweepInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
