// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/prefix-gateway/config.toml",
	"configs/config.toml",
}

// reservedRoutes are served by the gateway itself and never proxied.
var reservedRoutes = []string{"/healthz", "/readyz", "/statusz"}

// Store backends.
const (
	BackendRedis  = "redis"
	BackendValkey = "valkey"
)

// Overflow policies applied when a buffered response body exceeds the cap.
const (
	OverflowAbort       = "abort"
	OverflowPassthrough = "passthrough"
)

// DefaultHashKey is the Redis hash holding prefix -> RouteConfig entries.
const DefaultHashKey = "configurable-proxy-redis-storage"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	StoreAddr string `kong:"help='Route store address host:port (overrides config).',env='STORE_ADDR'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Upstream UpstreamConfig `toml:"upstream"`
	Rewrite  RewriteConfig  `toml:"rewrite"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	ServerName   string          `toml:"server_name"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// StoreConfig holds route store connection settings.
type StoreConfig struct {
	Backend             string `toml:"backend"`
	Addr                string `toml:"addr"`
	Password            string `toml:"password"`
	DB                  int    `toml:"db"`
	HashKey             string `toml:"hash_key"`
	LookupTimeoutMs     int    `toml:"lookup_timeout_ms"`
	StartupPingAttempts int    `toml:"startup_ping_attempts"`
}

// LookupTimeout returns the per-lookup deadline.
func (s *StoreConfig) LookupTimeout() time.Duration {
	return time.Duration(s.LookupTimeoutMs) * time.Millisecond
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds        int  `toml:"timeout_seconds"`
	IdleConnections       int  `toml:"idle_connections"`
	TLSInsecureSkipVerify bool `toml:"tls_insecure_skip_verify"`
}

// RewriteConfig bounds response body buffering.
type RewriteConfig struct {
	MaxBufferBytes int64  `toml:"max_buffer_bytes"` // 0 means "use default"; negative disables the cap
	OverflowPolicy string `toml:"overflow_policy"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// An explicit path (via --config or CONFIG_PATH) must exist. Without one, it searches
// /etc/prefix-gateway/config.toml then configs/config.toml and falls back to defaults.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.StoreAddr != "" {
		c.Store.Addr = cli.StoreAddr
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if c.Store.DB < 0 {
		return fmt.Errorf("store.db must be non-negative; got %d", c.Store.DB)
	}
	if c.Store.LookupTimeoutMs < 0 {
		return fmt.Errorf("store.lookup_timeout_ms must be non-negative; got %d", c.Store.LookupTimeoutMs)
	}
	if c.Store.StartupPingAttempts < 0 {
		return fmt.Errorf("store.startup_ping_attempts must be non-negative; got %d", c.Store.StartupPingAttempts)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	switch strings.ToLower(c.Store.Backend) {
	case BackendRedis, BackendValkey, "":
	default:
		return fmt.Errorf("store.backend must be one of: redis, valkey; got %q", c.Store.Backend)
	}
	switch strings.ToLower(c.Rewrite.OverflowPolicy) {
	case OverflowAbort, OverflowPassthrough, "":
	default:
		return fmt.Errorf("rewrite.overflow_policy must be one of: abort, passthrough; got %q", c.Rewrite.OverflowPolicy)
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled). Any path with two
	// or more segments would shadow a route prefix.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		if strings.Contains(strings.TrimSuffix(p[1:], "/"), "/") {
			return fmt.Errorf("metrics.path must be a single path segment; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if strings.TrimSuffix(p, "/") == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish between an
// explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.ServerName == "" {
		c.Server.ServerName = "prefix-gateway"
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	if c.Store.Backend == "" {
		c.Store.Backend = BackendRedis
	}
	if c.Store.Addr == "" {
		c.Store.Addr = "127.0.0.1:6379"
	}
	if c.Store.HashKey == "" {
		c.Store.HashKey = DefaultHashKey
	}
	if c.Store.LookupTimeoutMs == 0 {
		c.Store.LookupTimeoutMs = 2000
	}
	if c.Store.StartupPingAttempts == 0 {
		c.Store.StartupPingAttempts = 5
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Rewrite.MaxBufferBytes == 0 {
		c.Rewrite.MaxBufferBytes = 10 * 1024 * 1024
	}
	c.Rewrite.OverflowPolicy = strings.ToLower(c.Rewrite.OverflowPolicy)
	if c.Rewrite.OverflowPolicy == "" {
		c.Rewrite.OverflowPolicy = OverflowAbort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file that was loaded, or empty when defaults were used.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file may carry the store password.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
