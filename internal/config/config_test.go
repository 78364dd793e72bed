package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Server.Listen != ":3000" {
		t.Errorf("expected listen :3000, got %s", cfg.Server.Listen)
	}
	if cfg.Security.Level != 1 {
		t.Errorf("expected level 1, got %d", cfg.Security.Level)
	}
	if cfg.Security.MaxFailedAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Security.MaxFailedAttempts)
	}
	if cfg.BanDuration() != 30*time.Minute {
		t.Errorf("expected 30m ban, got %v", cfg.BanDuration())
	}
	if cfg.TimeLimit() != time.Hour {
		t.Errorf("expected 60m window, got %v", cfg.TimeLimit())
	}
	if cfg.Tokens.AccessLength != 16 || cfg.Tokens.AdminLength != 32 {
		t.Errorf("unexpected token lengths %d/%d", cfg.Tokens.AccessLength, cfg.Tokens.AdminLength)
	}
	if cfg.RateLimit.PerMinute != 30 || cfg.RateLimit.PerHour != 200 {
		t.Errorf("unexpected rate limits %d/%d", cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  listen: ":9000"
  trusted_proxies: ["10.0.0.0/8"]
security:
  level: 3
  allowed_ips: ["203.0.113.7", "10.1.0.0/16"]
  max_failed_attempts: 3
  time_limit_min: 15
paths:
  api_prefix: "/v1/"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.Server.Listen)
	}
	if len(cfg.Server.TrustedProxyCIDRs) != 1 || cfg.Server.TrustedProxyCIDRs[0].String() != "10.0.0.0/8" {
		t.Errorf("unexpected trusted proxies %v", cfg.Server.TrustedProxyCIDRs)
	}
	if cfg.Security.Level != 3 || cfg.Security.MaxFailedAttempts != 3 {
		t.Errorf("unexpected security %+v", cfg.Security)
	}
	if cfg.TimeLimit() != 15*time.Minute {
		t.Errorf("expected 15m window, got %v", cfg.TimeLimit())
	}
	// untouched fields keep defaults
	if cfg.Security.BanDurationMin != 30 {
		t.Errorf("expected default ban duration, got %d", cfg.Security.BanDurationMin)
	}
	if !cfg.RateLimit.Enabled || !cfg.CORS.Enabled {
		t.Error("expected rate limit and CORS to stay enabled when absent from the file")
	}
	if cfg.Paths.APIPrefix != "/v1/" || cfg.Paths.Health != "/health" {
		t.Errorf("unexpected paths %+v", cfg.Paths)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
listen = ":7000"

[security]
level = 2
allowed_ips = ["192.0.2.1"]

[logging]
level = "debug"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":7000" {
		t.Errorf("expected :7000, got %s", cfg.Server.Listen)
	}
	if cfg.Security.Level != 2 || len(cfg.Security.AllowedIPs) != 1 {
		t.Errorf("unexpected security %+v", cfg.Security)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Logging.Level)
	}
}

func TestLoad_BadTrustedProxy(t *testing.T) {
	path := writeFile(t, "config.yaml", "server:\n  trusted_proxies: [\"not-a-cidr\"]\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid trusted proxy")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"level too high":     func(c *Config) { c.Security.Level = 4 },
		"no attempts":        func(c *Config) { c.Security.MaxFailedAttempts = -1 },
		"negative ban":       func(c *Config) { c.Security.BanDurationMin = -5 },
		"short access token": func(c *Config) { c.Tokens.AccessLength = 4 },
		"long admin token":   func(c *Config) { c.Tokens.AdminLength = 1000 },
		"relative api path":  func(c *Config) { c.Paths.APIPrefix = "api/" },
		"tls without cert":   func(c *Config) { c.Server.TLSEnabled = true },
		"window at level 3": func(c *Config) {
			c.Security.Level = 3
			c.Security.TimeLimitMin = -1
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
