// Package config provides configuration types for the MCP router.
//
// Configuration is resolved once at startup, in increasing precedence:
// hardcoded defaults, the optional mcp-router.yaml file, MCP_ROUTER_*
// environment variables, and explicit Overrides (CLI flags). The result is
// validated before any transport binds a socket and is treated as immutable
// afterwards.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Defaults for every configurable field.
const (
	DefaultHost                 = "127.0.0.1"
	DefaultPort                 = 3000
	DefaultMaxConnections       = 100
	DefaultLogLevel             = "info"
	DefaultShutdownTimeout      = "10s"
	DefaultRequestsPerMinute    = 100
	DefaultCleanupInterval      = "5m"
	DefaultMaxTTL               = "1h"
	DefaultMaxHeaderBytes       = 16 << 10
	DefaultMaxHeaderCount       = 100
	DefaultIdleTimeout          = 30 * time.Second
	DefaultReadHeaderTimeout    = 10 * time.Second
	DefaultImplementationName   = "mcp-router"
	DefaultStdioEnabled         = true
	DefaultRateLimitEnabled     = true
	DefaultMetricsEnabled       = true
	DefaultTrustProxyHeaders    = false
	DefaultHTTPEnabled          = false
	DefaultSSEEnabled           = false
	defaultConfigFileBaseName   = "mcp-router"
	defaultEnvPrefix            = "MCP_ROUTER"
)

// Config is the top-level configuration for the router.
type Config struct {
	// Transport selects and tunes the client-facing transports.
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty,duration"`

	// RateLimit configures the per-peer request budget enforced by the security gate.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Security configures header validation.
	Security SecurityConfig `yaml:"security" mapstructure:"security"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// TransportConfig is the immutable transport selection read once at startup.
type TransportConfig struct {
	// StdioEnabled connects the protocol engine to stdin/stdout.
	StdioEnabled bool `yaml:"stdio_enabled" mapstructure:"stdio_enabled"`

	// HTTPEnabled starts the HTTP listener (health and message endpoints).
	HTTPEnabled bool `yaml:"http_enabled" mapstructure:"http_enabled"`

	// SSEEnabled exposes GET /sse. Enabling it also starts the HTTP listener.
	SSEEnabled bool `yaml:"sse_enabled" mapstructure:"sse_enabled"`

	// Host is the listen host. Defaults to loopback.
	Host string `yaml:"host" mapstructure:"host" validate:"required"`

	// Port is the listen port. 0 picks a free port.
	Port int `yaml:"port" mapstructure:"port" validate:"min=0,max=65535"`

	// MaxConnections caps simultaneous streaming sessions.
	MaxConnections int `yaml:"max_connections" mapstructure:"max_connections" validate:"min=1"`

	// TLSCertFile and TLSKeyFile are PEM files. Set both to serve HTTPS.
	TLSCertFile string `yaml:"tls_cert_file,omitempty" mapstructure:"tls_cert_file" validate:"omitempty,file"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty" mapstructure:"tls_key_file" validate:"omitempty,file"`
}

// TLSEnabled reports whether the listener serves HTTPS.
func (t TransportConfig) TLSEnabled() bool {
	return t.TLSCertFile != "" && t.TLSKeyFile != ""
}

// HTTPRequired reports whether the HTTP listener must be started.
func (t TransportConfig) HTTPRequired() bool {
	return t.HTTPEnabled || t.SSEEnabled
}

// Addr returns the host:port listen address.
func (t TransportConfig) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RequestsPerMinute is the sustained request budget per peer address.
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"omitempty,min=1"`

	// Burst is the number of requests admitted back to back. 0 means RequestsPerMinute.
	Burst int `yaml:"burst" mapstructure:"burst" validate:"omitempty,min=0"`

	// CleanupInterval is how often idle limiter keys are swept (e.g., "5m").
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty,duration"`

	// MaxTTL is how long an idle key is kept (e.g., "1h").
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty,duration"`
}

// SecurityConfig configures header validation.
type SecurityConfig struct {
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`

	// MaxHeaderBytes caps the combined size of all header names and values.
	MaxHeaderBytes int `yaml:"max_header_bytes" mapstructure:"max_header_bytes" validate:"omitempty,min=512"`

	// MaxHeaderCount caps the number of header values.
	MaxHeaderCount int `yaml:"max_header_count" mapstructure:"max_header_count" validate:"omitempty,min=1"`

	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that sets them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" mapstructure:"trust_proxy_headers"`
}

// MetricsConfig configures the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// Default returns a Config populated with every default.
func Default() Config {
	cfg := Config{
		Transport: TransportConfig{
			StdioEnabled: DefaultStdioEnabled,
			HTTPEnabled:  DefaultHTTPEnabled,
			SSEEnabled:   DefaultSSEEnabled,
			Port:         DefaultPort,
		},
		RateLimit: RateLimitConfig{Enabled: DefaultRateLimitEnabled},
		Metrics:   MetricsConfig{Enabled: DefaultMetricsEnabled},
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero-valued fields. Booleans and the port are defaulted
// by the loader, which can tell "unset" from false or 0.
func (c *Config) SetDefaults() {
	if c.Transport.Host == "" {
		c.Transport.Host = DefaultHost
	}
	if c.Transport.MaxConnections == 0 {
		c.Transport.MaxConnections = DefaultMaxConnections
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = DefaultCleanupInterval
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = DefaultMaxTTL
	}
	if c.Security.MaxHeaderBytes == 0 {
		c.Security.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if c.Security.MaxHeaderCount == 0 {
		c.Security.MaxHeaderCount = DefaultMaxHeaderCount
	}
}

// Overrides are explicit values that win over file and environment values.
// Nil fields leave the loaded value untouched.
type Overrides struct {
	StdioEnabled   *bool
	HTTPEnabled    *bool
	SSEEnabled     *bool
	Host           *string
	Port           *int
	MaxConnections *int
	LogLevel       *string
}

// Apply merges the overrides over c.
func (c *Config) Apply(o Overrides) {
	if o.StdioEnabled != nil {
		c.Transport.StdioEnabled = *o.StdioEnabled
	}
	if o.HTTPEnabled != nil {
		c.Transport.HTTPEnabled = *o.HTTPEnabled
	}
	if o.SSEEnabled != nil {
		c.Transport.SSEEnabled = *o.SSEEnabled
	}
	if o.Host != nil {
		c.Transport.Host = *o.Host
	}
	if o.Port != nil {
		c.Transport.Port = *o.Port
	}
	if o.MaxConnections != nil {
		c.Transport.MaxConnections = *o.MaxConnections
	}
	if o.LogLevel != nil {
		c.LogLevel = *o.LogLevel
	}
}

// ShutdownTimeoutDuration parses ShutdownTimeout, falling back to the default.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return parseDurationOr(c.ShutdownTimeout, 10*time.Second)
}

// CleanupIntervalDuration parses CleanupInterval, falling back to the default.
func (r RateLimitConfig) CleanupIntervalDuration() time.Duration {
	return parseDurationOr(r.CleanupInterval, 5*time.Minute)
}

// MaxTTLDuration parses MaxTTL, falling back to the default.
func (r RateLimitConfig) MaxTTLDuration() time.Duration {
	return parseDurationOr(r.MaxTTL, time.Hour)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// String renders the transport selection for startup logs.
func (t TransportConfig) String() string {
	return fmt.Sprintf("stdio=%t http=%t sse=%t addr=%s tls=%t max_connections=%d",
		t.StdioEnabled, t.HTTPEnabled, t.SSEEnabled, t.Addr(), t.TLSEnabled(), t.MaxConnections)
}
