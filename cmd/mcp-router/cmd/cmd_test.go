package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Sentinel-Gate/mcp-router/internal/config"
)

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"start": false, "stop": false, "config": false, "version": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestStartFlagDefaults(t *testing.T) {
	port, err := startCmd.Flags().GetInt("port")
	if err != nil {
		t.Fatalf("failed to get port flag: %v", err)
	}
	if port != config.DefaultPort {
		t.Errorf("port default = %d, want %d", port, config.DefaultPort)
	}
	host, err := startCmd.Flags().GetString("host")
	if err != nil {
		t.Fatalf("failed to get host flag: %v", err)
	}
	if host != config.DefaultHost {
		t.Errorf("host default = %q, want %q", host, config.DefaultHost)
	}
	stdio, err := startCmd.Flags().GetBool("stdio")
	if err != nil {
		t.Fatalf("failed to get stdio flag: %v", err)
	}
	if !stdio {
		t.Error("stdio should default to true")
	}
}

func TestOverridesFromFlags(t *testing.T) {
	t.Run("unset flags leave config alone", func(t *testing.T) {
		fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
		registerStartFlags(fs)
		if err := fs.Parse(nil); err != nil {
			t.Fatalf("Parse: %v", err)
		}

		o := overridesFromFlags(fs)
		if o.StdioEnabled != nil || o.SSEEnabled != nil || o.HTTPEnabled != nil ||
			o.Host != nil || o.Port != nil || o.MaxConnections != nil || o.LogLevel != nil {
			t.Errorf("expected empty overrides, got %+v", o)
		}
	})

	t.Run("set flags become overrides", func(t *testing.T) {
		fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
		registerStartFlags(fs)
		args := []string{"--stdio=false", "--sse", "--host", "0.0.0.0", "--port", "8080", "--max-connections", "5", "--inspect"}
		if err := fs.Parse(args); err != nil {
			t.Fatalf("Parse: %v", err)
		}

		cfg := config.Default()
		cfg.Apply(overridesFromFlags(fs))

		if cfg.Transport.StdioEnabled {
			t.Error("StdioEnabled should be false")
		}
		if !cfg.Transport.SSEEnabled {
			t.Error("SSEEnabled should be true")
		}
		if cfg.Transport.HTTPEnabled {
			t.Error("HTTPEnabled should keep its default")
		}
		if got := cfg.Transport.Addr(); got != "0.0.0.0:8080" {
			t.Errorf("Addr() = %q, want 0.0.0.0:8080", got)
		}
		if cfg.Transport.MaxConnections != 5 {
			t.Errorf("MaxConnections = %d, want 5", cfg.Transport.MaxConnections)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVersionOutput(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)

	out := buf.String()
	if !strings.HasPrefix(out, "mcp-router "+Version+"\n") {
		t.Errorf("unexpected version header: %q", out)
	}
	if !strings.Contains(out, "Go version:") {
		t.Errorf("missing Go version line: %q", out)
	}
}

func TestConfigCommand_PrintsEffectiveConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-router.yaml")
	content := "transport:\n  sse_enabled: true\n  port: 4000\nlog_level: warn\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("MCP_ROUTER_PORT", "4100")

	saved := v
	v = viper.New()
	t.Cleanup(func() { v = saved })
	config.InitViper(v, path)

	var buf bytes.Buffer
	configCmd.SetOut(&buf)
	t.Cleanup(func() { configCmd.SetOut(nil) })

	if err := configCmd.RunE(configCmd, nil); err != nil {
		t.Fatalf("config command: %v", err)
	}

	var got config.Config
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if !got.Transport.SSEEnabled {
		t.Error("sse_enabled from file was lost")
	}
	if got.Transport.Port != 4100 {
		t.Errorf("port = %d, want 4100 (env wins over file)", got.Transport.Port)
	}
	if got.LogLevel != "warn" {
		t.Errorf("log_level = %q, want warn", got.LogLevel)
	}
	if got.Transport.Host != config.DefaultHost {
		t.Errorf("host = %q, want default %q", got.Transport.Host, config.DefaultHost)
	}
}

func TestConfigCommand_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp-router.yaml")
	if err := os.WriteFile(path, []byte("transport:\n  max_connections: -1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	saved := v
	v = viper.New()
	t.Cleanup(func() { v = saved })
	config.InitViper(v, path)

	if err := configCmd.RunE(configCmd, nil); err == nil {
		t.Fatal("expected validation error for negative max_connections")
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.pid")

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile = %d, want %d", got, os.Getpid())
	}
}

func TestReadPIDFile_MissingOrGarbage(t *testing.T) {
	dir := t.TempDir()
	if got := readPIDFile(filepath.Join(dir, "missing.pid")); got != 0 {
		t.Errorf("missing file: got %d, want 0", got)
	}

	garbage := filepath.Join(dir, "garbage.pid")
	if err := os.WriteFile(garbage, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if got := readPIDFile(garbage); got != 0 {
		t.Errorf("garbage file: got %d, want 0", got)
	}
}

func TestProcessIsAlive_Self(t *testing.T) {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if !processIsAlive(proc) {
		t.Error("current process should be reported alive")
	}
}

func TestPIDFilePath(t *testing.T) {
	if filepath.Base(pidFilePath()) == "" {
		t.Fatal("empty PID file path")
	}
	if !strings.Contains(pidFilePath(), "mcp-router") {
		t.Errorf("PID file path %q should mention mcp-router", pidFilePath())
	}
}
