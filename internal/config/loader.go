package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper prepares v to read configFile (or the first mcp-router.yaml/.yml
// found in the standard locations) and MCP_ROUTER_* environment variables.
func InitViper(v *viper.Viper, configFile string) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		// No file anywhere: ReadInConfig returns ConfigFileNotFoundError,
		// which Load treats as "environment only".
		v.SetConfigName(defaultConfigFileBaseName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(defaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setViperDefaults(v)
	bindEnvKeys(v)
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mcp-router"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "mcp-router"))
		}
	} else {
		paths = append(paths, "/etc/mcp-router")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first mcp-router.yaml or .yml found in
// paths, or "" if there is none.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, defaultConfigFileBaseName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// setViperDefaults registers the defaults viper must know about to tell an
// unset key from an explicit zero (booleans, port).
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("transport.stdio_enabled", DefaultStdioEnabled)
	v.SetDefault("transport.http_enabled", DefaultHTTPEnabled)
	v.SetDefault("transport.sse_enabled", DefaultSSEEnabled)
	v.SetDefault("transport.host", DefaultHost)
	v.SetDefault("transport.port", DefaultPort)
	v.SetDefault("transport.max_connections", DefaultMaxConnections)
	v.SetDefault("rate_limit.enabled", DefaultRateLimitEnabled)
	v.SetDefault("security.trust_proxy_headers", DefaultTrustProxyHeaders)
	v.SetDefault("metrics.enabled", DefaultMetricsEnabled)
}

// bindEnvKeys binds nested keys so AutomaticEnv can see them during Unmarshal.
// The three listen settings also accept the short names MCP_ROUTER_PORT,
// MCP_ROUTER_HOST and MCP_ROUTER_MAX_CONNECTIONS.
func bindEnvKeys(v *viper.Viper) {
	_ = v.BindEnv("transport.port", "MCP_ROUTER_PORT", "MCP_ROUTER_TRANSPORT_PORT")
	_ = v.BindEnv("transport.host", "MCP_ROUTER_HOST", "MCP_ROUTER_TRANSPORT_HOST")
	_ = v.BindEnv("transport.max_connections", "MCP_ROUTER_MAX_CONNECTIONS", "MCP_ROUTER_TRANSPORT_MAX_CONNECTIONS")
	_ = v.BindEnv("transport.stdio_enabled")
	_ = v.BindEnv("transport.http_enabled")
	_ = v.BindEnv("transport.sse_enabled")
	_ = v.BindEnv("transport.tls_cert_file")
	_ = v.BindEnv("transport.tls_key_file")

	_ = v.BindEnv("log_level")
	_ = v.BindEnv("shutdown_timeout")

	_ = v.BindEnv("rate_limit.enabled")
	_ = v.BindEnv("rate_limit.requests_per_minute")
	_ = v.BindEnv("rate_limit.burst")
	_ = v.BindEnv("rate_limit.cleanup_interval")
	_ = v.BindEnv("rate_limit.max_ttl")

	// security.allowed_origins is a list; set it in the config file.
	_ = v.BindEnv("security.max_header_bytes")
	_ = v.BindEnv("security.max_header_count")
	_ = v.BindEnv("security.trust_proxy_headers")

	_ = v.BindEnv("metrics.enabled")
}

// Load reads the config file (if any) and environment from v, merges the
// explicit overrides on top, applies defaults and validates the result.
func Load(v *viper.Viper, overrides Overrides) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Apply(overrides)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
