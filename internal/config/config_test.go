// Flagwarden - Feature Flag Management and Audit Logging
// Copyright 2026 Flagwarden Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/flagwarden/flagwarden

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Audit.RetentionDays != 365 {
		t.Errorf("default retention = %d", cfg.Audit.RetentionDays)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }},
		{"cache enabled without ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"nats without url", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.EmbeddedServer = false
			c.NATS.URL = ""
		}},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"rate limit zero requests", func(c *Config) { c.Security.RateLimitReqs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadLayersFileOverEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9090
audit:
  retention_days: 30
cache:
  ttl: 10s
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Env beats file, file beats defaults.
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Audit.RetentionDays != 30 {
		t.Errorf("retention = %d, want file value 30", cfg.Audit.RetentionDays)
	}
	if cfg.Cache.TTL != 10*time.Second {
		t.Errorf("cache ttl = %v, want 10s", cfg.Cache.TTL)
	}
	if cfg.Database.MaxMemory != "512MB" {
		t.Errorf("max memory = %q, want default", cfg.Database.MaxMemory)
	}

	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[0] != want[0] || cfg.Security.CORSOrigins[1] != want[1] {
		t.Errorf("cors origins = %v, want %v", cfg.Security.CORSOrigins, want)
	}
}

func TestRetentionDuration(t *testing.T) {
	cfg := AuditConfig{RetentionDays: 2}
	if cfg.Retention() != 48*time.Hour {
		t.Errorf("retention = %v", cfg.Retention())
	}
}
