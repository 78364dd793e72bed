package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type ServerCfg struct {
	Listen            string       `yaml:"listen" toml:"listen"`
	ReadTimeoutMs     int          `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
	WriteTimeoutMs    int          `yaml:"write_timeout_ms" toml:"write_timeout_ms"`
	TLSEnabled        bool         `yaml:"tls_enabled" toml:"tls_enabled"`
	TLSCertFile       string       `yaml:"tls_cert_file" toml:"tls_cert_file"`
	TLSKeyFile        string       `yaml:"tls_key_file" toml:"tls_key_file"`
	ContentDir        string       `yaml:"content_dir" toml:"content_dir"`
	IndexFile         string       `yaml:"index_file" toml:"index_file"`
	TrustedProxies    []string     `yaml:"trusted_proxies" toml:"trusted_proxies"`
	TrustedProxyCIDRs []*net.IPNet `yaml:"-" toml:"-"`
}

// SecurityCfg holds the layered access rules. Layers are additive:
// 1 = token + ban, 2 = + allow-list, 3 = + time window.
type SecurityCfg struct {
	Level             int      `yaml:"level" toml:"level"`
	AllowedIPs        []string `yaml:"allowed_ips" toml:"allowed_ips"`
	MaxFailedAttempts int      `yaml:"max_failed_attempts" toml:"max_failed_attempts"`
	BanDurationMin    int      `yaml:"ban_duration_min" toml:"ban_duration_min"`
	TimeLimitMin      int      `yaml:"time_limit_min" toml:"time_limit_min"`
}

type PathsCfg struct {
	Health     string `yaml:"health" toml:"health"`
	APIPrefix  string `yaml:"api_prefix" toml:"api_prefix"`
	DeniedPage string `yaml:"denied_page" toml:"denied_page"`
}

type TokensCfg struct {
	AccessLength int    `yaml:"access_length" toml:"access_length"`
	AdminLength  int    `yaml:"admin_length" toml:"admin_length"`
	File         string `yaml:"file" toml:"file"` // empty disables persistence
}

type LedgerCfg struct {
	File       string `yaml:"file" toml:"file"`
	BufferSize int    `yaml:"buffer_size" toml:"buffer_size"`
	Console    bool   `yaml:"console" toml:"console"` // mirror entries to the process log
}

type RateLimitCfg struct {
	Enabled   bool `yaml:"enabled" toml:"enabled"`
	PerMinute int  `yaml:"per_minute" toml:"per_minute"`
	PerHour   int  `yaml:"per_hour" toml:"per_hour"`
	Capacity  int  `yaml:"capacity" toml:"capacity"`
}

type CORSCfg struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

type LoggingCfg struct {
	Level string `yaml:"level" toml:"level"` // info|debug
}

type Config struct {
	Server    ServerCfg    `yaml:"server" toml:"server"`
	Security  SecurityCfg  `yaml:"security" toml:"security"`
	Paths     PathsCfg     `yaml:"paths" toml:"paths"`
	Tokens    TokensCfg    `yaml:"tokens" toml:"tokens"`
	Ledger    LedgerCfg    `yaml:"ledger" toml:"ledger"`
	RateLimit RateLimitCfg `yaml:"rate_limit" toml:"rate_limit"`
	CORS      CORSCfg      `yaml:"cors" toml:"cors"`
	Logging   LoggingCfg   `yaml:"logging" toml:"logging"`
}

// base carries the defaults a zero value cannot express. Files are decoded
// on top of it, so keys absent from the file keep these values.
func base() *Config {
	return &Config{
		Security: SecurityCfg{
			AllowedIPs: []string{"127.0.0.1", "::1"},
		},
		Tokens: TokensCfg{
			File: "access_tokens.txt",
		},
		Ledger: LedgerCfg{
			File: "security_access.log",
		},
		RateLimit: RateLimitCfg{
			Enabled: true,
		},
		CORS: CORSCfg{
			Enabled: true,
		},
	}
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := base()
	_ = cfg.applyDefaults() // no trusted proxies to parse
	return cfg
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := base()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(b), cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Server.Listen == "" {
		c.Server.Listen = ":3000"
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 5000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 30000
	}
	if c.Server.ContentDir == "" {
		c.Server.ContentDir = "."
	}
	if c.Server.IndexFile == "" {
		c.Server.IndexFile = "index.html"
	}
	c.Server.TrustedProxyCIDRs = c.Server.TrustedProxyCIDRs[:0]
	for _, s := range c.Server.TrustedProxies {
		_, n, err := net.ParseCIDR(s)
		if err != nil {
			return fmt.Errorf("invalid trusted proxy %q: %w", s, err)
		}
		c.Server.TrustedProxyCIDRs = append(c.Server.TrustedProxyCIDRs, n)
	}
	if c.Security.Level == 0 {
		c.Security.Level = 1
	}
	if c.Security.MaxFailedAttempts == 0 {
		c.Security.MaxFailedAttempts = 5
	}
	if c.Security.BanDurationMin == 0 {
		c.Security.BanDurationMin = 30
	}
	if c.Security.TimeLimitMin == 0 {
		c.Security.TimeLimitMin = 60
	}
	if c.Paths.Health == "" {
		c.Paths.Health = "/health"
	}
	if c.Paths.APIPrefix == "" {
		c.Paths.APIPrefix = "/api/"
	}
	if c.Paths.DeniedPage == "" {
		c.Paths.DeniedPage = "/access-denied"
	}
	if c.Tokens.AccessLength == 0 {
		c.Tokens.AccessLength = 16
	}
	if c.Tokens.AdminLength == 0 {
		c.Tokens.AdminLength = 32
	}
	if c.Ledger.BufferSize == 0 {
		c.Ledger.BufferSize = 1024
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = 30
	}
	if c.RateLimit.PerHour == 0 {
		c.RateLimit.PerHour = 200
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 10000
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	return nil
}

func (c *Config) BanDuration() time.Duration {
	return time.Duration(c.Security.BanDurationMin) * time.Minute
}

func (c *Config) TimeLimit() time.Duration {
	return time.Duration(c.Security.TimeLimitMin) * time.Minute
}

func (c *Config) Validate() error {
	if c.Security.Level < 1 || c.Security.Level > 3 {
		return errors.New("security.level must be 1, 2 or 3")
	}
	if c.Security.MaxFailedAttempts < 1 {
		return errors.New("security.max_failed_attempts must be >= 1")
	}
	if c.Security.BanDurationMin <= 0 {
		return errors.New("security.ban_duration_min must be > 0")
	}
	if c.Security.Level >= 3 && c.Security.TimeLimitMin <= 0 {
		return errors.New("security.time_limit_min must be > 0 at level 3")
	}
	if c.Tokens.AccessLength < 8 || c.Tokens.AccessLength > 256 {
		return errors.New("tokens.access_length must be in [8,256]")
	}
	if c.Tokens.AdminLength < 8 || c.Tokens.AdminLength > 256 {
		return errors.New("tokens.admin_length must be in [8,256]")
	}
	for name, p := range map[string]string{
		"paths.health":      c.Paths.Health,
		"paths.api_prefix":  c.Paths.APIPrefix,
		"paths.denied_page": c.Paths.DeniedPage,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with '/'", name)
		}
	}
	if c.RateLimit.Enabled && (c.RateLimit.PerMinute < 0 || c.RateLimit.PerHour < 0) {
		return errors.New("rate_limit limits must be >= 0")
	}
	if c.Server.TLSEnabled && (c.Server.TLSCertFile == "" || c.Server.TLSKeyFile == "") {
		return errors.New("server.tls_cert_file and server.tls_key_file required when tls_enabled")
	}
	return nil
}
