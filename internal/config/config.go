// Package config handles TOML/YAML configuration loading and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"broker-proxy-go/internal/transcode"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/broker-proxy/config.toml",
	"configs/config.toml",
	"configs/config.yaml",
}

// reservedRoutes are served by the proxy itself and cannot host the metrics endpoint.
var reservedRoutes = []string{"/Broker", "/broker", "/healthz", "/proxy/status", "/openapi.yaml"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	TokenURL     string `kong:"name='token-url',help='Identity provider token endpoint (overrides config).',env='WEBGUARD_CLIENT_AUTHENTICATION_URL'"`
	ClientSecret string `kong:"help='Client secret for the token endpoint (overrides config).',env='BROKER_CLIENT_SECRET'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Broker   BrokerConfig   `toml:"broker" yaml:"broker"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
	Docs     DocsConfig     `toml:"docs" yaml:"docs"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host" yaml:"host"`
	Port         int             `toml:"port" yaml:"port"` // 0 means "use default" (8080)
	BodyMaxBytes int64           `toml:"body_max_bytes" yaml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// BrokerConfig controls how inbound XML requests are translated and targeted.
// The boolean switches are phrased so that false is the strict behavior, because
// neither format can tell an explicit false from an omitted key.
type BrokerConfig struct {
	TargetHeader string `toml:"target_header" yaml:"target_header"`
	RootElement  string `toml:"root_element" yaml:"root_element"`
	// AllowEmptyTarget forwards requests without a target header instead of
	// rejecting them; the empty URL then fails at the transport.
	AllowEmptyTarget bool `toml:"allow_empty_target" yaml:"allow_empty_target"`
	// IgnoreUpstreamStatus transcodes upstream bodies regardless of status code.
	IgnoreUpstreamStatus bool `toml:"ignore_upstream_status" yaml:"ignore_upstream_status"`
}

// UpstreamConfig holds outbound connection settings.
type UpstreamConfig struct {
	TimeoutSeconds     int      `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections    int      `toml:"idle_connections" yaml:"idle_connections"`
	MaxResponseBytes   int64    `toml:"max_response_bytes" yaml:"max_response_bytes"`
	AllowedHosts       []string `toml:"allowed_hosts" yaml:"allowed_hosts"` // empty allows any host
	InsecureSkipVerify bool     `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// AuthConfig configures the token attached to every outbound request.
type AuthConfig struct {
	TokenURL     string   `toml:"token_url" yaml:"token_url"`
	ClientID     string   `toml:"client_id" yaml:"client_id"`
	ClientSecret string   `toml:"client_secret" yaml:"client_secret"`
	Scopes       []string `toml:"scopes" yaml:"scopes"`
	StaticToken  string   `toml:"static_token" yaml:"static_token"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// DocsConfig controls the OpenAPI document endpoint.
type DocsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Load reads the config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/broker-proxy/config.toml, configs/config.toml, then configs/config.yaml.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
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
	if err := decode(path, data, &cfg); err != nil {
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

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.TokenURL != "" {
		c.Auth.TokenURL = cli.TokenURL
	}
	if cli.ClientSecret != "" {
		c.Auth.ClientSecret = cli.ClientSecret
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
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Broker fields. The root element is stripped from the JSON by name, so it must
	// be a plain XML name.
	if c.Broker.RootElement != "" && !transcode.IsName(c.Broker.RootElement) {
		return fmt.Errorf("broker.root_element must be an XML name without a prefix; got %q", c.Broker.RootElement)
	}
	if strings.ContainsAny(c.Broker.TargetHeader, " :\t") {
		return fmt.Errorf("broker.target_header is not a valid header name; got %q", c.Broker.TargetHeader)
	}

	// Auth fields.
	if c.Auth.TokenURL != "" {
		u, err := url.Parse(c.Auth.TokenURL)
		if err != nil {
			return fmt.Errorf("auth.token_url is not a valid URL: %w", err)
		}
		if !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("auth.token_url must be an absolute http(s) URL; got %q", c.Auth.TokenURL)
		}
		if c.Auth.ClientID == "" {
			return fmt.Errorf("auth.client_id is required when auth.token_url is set")
		}
		if c.Auth.StaticToken != "" {
			return fmt.Errorf("auth.static_token and auth.token_url are mutually exclusive")
		}
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
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// The upstream timeout defaults to 100 seconds, the usual HTTP client default of
// the services this proxy fronts.
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
	if c.Broker.TargetHeader == "" {
		c.Broker.TargetHeader = "Url"
	}
	if c.Broker.RootElement == "" {
		c.Broker.RootElement = "root"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 100
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = 10 * 1024 * 1024
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

// AuthMode describes how outbound requests are authenticated.
func (c *AuthConfig) AuthMode() string {
	switch {
	case c.StaticToken != "":
		return "static"
	case c.TokenURL != "":
		return "client_credentials"
	default:
		return "none"
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

// WarnPermissions logs a warning if the config file is readable by group or others.
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
