// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/claude-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string           `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int              `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	TokenPath string           `kong:"help='Token store path (overrides config).',env='TOKEN_PATH'"`
	LogLevel  string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Version   kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Anthropic AnthropicConfig `toml:"anthropic"`
	Token     TokenConfig     `toml:"token"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
	TLS          TLSConfig       `toml:"tls"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// TLSConfig enables ACME-managed certificates on the listener.
type TLSConfig struct {
	Enabled  bool     `toml:"enabled"`
	Domains  []string `toml:"domains"`
	Email    string   `toml:"email"`
	CacheDir string   `toml:"cache_dir"`
}

// AnthropicConfig holds upstream API settings. The access credential itself
// lives in the token store, never in this file.
type AnthropicConfig struct {
	BaseURL         string `toml:"base_url"`
	APIVersion      string `toml:"api_version"`
	Beta            string `toml:"beta"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// TokenConfig selects where the OAuth credential is stored and under which key.
type TokenConfig struct {
	Backend string `toml:"backend"` // file | sqlite | memory
	Path    string `toml:"path"`
	Key     string `toml:"key"`
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
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/claude-proxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
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
	if cli.TokenPath != "" {
		c.Token.Path = cli.TokenPath
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: optional (defaults to the Anthropic API) but must be
	// HTTPS when set.
	if c.Anthropic.BaseURL != "" {
		u, err := url.Parse(c.Anthropic.BaseURL)
		if err != nil {
			return fmt.Errorf("anthropic.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("anthropic.base_url must use HTTPS; got %q", c.Anthropic.BaseURL)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Anthropic.TimeoutSeconds < 0 {
		return fmt.Errorf("anthropic.timeout_seconds must be non-negative; got %d", c.Anthropic.TimeoutSeconds)
	}
	if c.Anthropic.IdleConnections < 0 {
		return fmt.Errorf("anthropic.idle_connections must be non-negative; got %d", c.Anthropic.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Token store.
	switch strings.ToLower(c.Token.Backend) {
	case "file", "sqlite", "memory", "":
		// valid
	default:
		return fmt.Errorf("token.backend must be one of: file, sqlite, memory; got %q", c.Token.Backend)
	}

	// TLS.
	if c.Server.TLS.Enabled && len(c.Server.TLS.Domains) == 0 {
		return fmt.Errorf("server.tls.domains must list at least one domain when TLS is enabled")
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

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/v1/messages", "/healthz", "/proxy/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.TLS.CacheDir == "" {
		c.Server.TLS.CacheDir = "data/autocert"
	}
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = "https://api.anthropic.com"
	}
	if c.Anthropic.APIVersion == "" {
		c.Anthropic.APIVersion = "2023-06-01"
	}
	if c.Anthropic.Beta == "" {
		c.Anthropic.Beta = "oauth-2025-04-20"
	}
	if c.Anthropic.TimeoutSeconds == 0 {
		c.Anthropic.TimeoutSeconds = 120
	}
	if c.Anthropic.IdleConnections == 0 {
		c.Anthropic.IdleConnections = 100
	}
	if c.Token.Backend == "" {
		c.Token.Backend = "file"
	}
	if c.Token.Path == "" && c.Token.Backend != "memory" {
		c.Token.Path = "data/tokens.json"
		if c.Token.Backend == "sqlite" {
			c.Token.Path = "data/tokens.db"
		}
	}
	if c.Token.Key == "" {
		c.Token.Key = "claude_token"
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

// WarnPermissions logs a warning when the config file or the token store
// file is readable by group or others. The token store holds the OAuth
// credential, so a loose mode on it matters more than on the config itself.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	warnLoosePermissions(logger, "config file", c.filePath)
	switch strings.ToLower(c.Token.Backend) {
	case "file", "sqlite":
		warnLoosePermissions(logger, "token store", c.Token.Path)
	}
}

func warnLoosePermissions(logger *slog.Logger, what, path string) {
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn(what+" is readable by group/others; consider chmod 600",
			"path", path,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
