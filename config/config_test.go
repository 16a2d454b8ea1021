package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr default = %q", cfg.Addr)
	}
	if cfg.RateLimit != 60 || cfg.RateWindow != time.Minute {
		t.Fatalf("rate defaults = %d/%v", cfg.RateLimit, cfg.RateWindow)
	}
	if cfg.SessionTTLSeconds != 3600 {
		t.Fatalf("session ttl default = %d", cfg.SessionTTLSeconds)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SOLINK_ADDR", ":9999")
	t.Setenv("SOLINK_ALLOWED_ORIGINS", "https://app.example.com,example.org")
	t.Setenv("SOLINK_NATS_URL", "nats://localhost:4222")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "example.org" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.NATSURL == "" {
		t.Fatalf("nats url not picked up")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"zero rate limit", func(c *Config) { c.RateLimit = 0 }},
		{"tiny window", func(c *Config) { c.RateWindow = time.Millisecond }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(nil)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
