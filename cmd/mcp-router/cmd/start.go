package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	httptransport "github.com/Sentinel-Gate/mcp-router/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/mcp-router/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/mcp-router/internal/config"
	"github.com/Sentinel-Gate/mcp-router/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/mcp-router/internal/service"
	"github.com/Sentinel-Gate/mcp-router/internal/transport"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the router",
	Long: `Start the MCP router.

Stdio is on by default. HTTP and SSE are off unless enabled by flag, config
file or environment. The process runs until stdin closes (stdio mode) or it
receives SIGINT/SIGTERM.

Examples:
  # stdio only
  mcp-router start

  # stdio plus SSE streams on the default address
  mcp-router start --sse

  # network only, on all interfaces
  mcp-router start --stdio=false --sse --host 0.0.0.0 --port 8080`,
	RunE: runStart,
}

var startFlags struct {
	stdio          bool
	sse            bool
	http           bool
	inspect        bool
	host           string
	port           int
	maxConnections int
}

func init() {
	registerStartFlags(startCmd.Flags())
	rootCmd.AddCommand(startCmd)
}

func registerStartFlags(f *pflag.FlagSet) {
	f.BoolVar(&startFlags.stdio, "stdio", config.DefaultStdioEnabled, "serve MCP over stdin/stdout")
	f.BoolVar(&startFlags.sse, "sse", config.DefaultSSEEnabled, "serve SSE streams on GET /sse")
	f.BoolVar(&startFlags.http, "http", config.DefaultHTTPEnabled, "start the HTTP listener")
	f.BoolVar(&startFlags.inspect, "inspect", false, "verbose (debug) logging")
	f.StringVar(&startFlags.host, "host", config.DefaultHost, "listen host")
	f.IntVar(&startFlags.port, "port", config.DefaultPort, "listen port")
	f.IntVar(&startFlags.maxConnections, "max-connections", config.DefaultMaxConnections, "maximum open SSE streams")
}

// overridesFromFlags turns the flags the user actually set into config
// overrides, so unset flags do not mask file or environment values.
func overridesFromFlags(flags *pflag.FlagSet) config.Overrides {
	var o config.Overrides
	if flags.Changed("stdio") {
		o.StdioEnabled = &startFlags.stdio
	}
	if flags.Changed("sse") {
		o.SSEEnabled = &startFlags.sse
	}
	if flags.Changed("http") {
		o.HTTPEnabled = &startFlags.http
	}
	if flags.Changed("host") {
		o.Host = &startFlags.host
	}
	if flags.Changed("port") {
		o.Port = &startFlags.port
	}
	if flags.Changed("max-connections") {
		o.MaxConnections = &startFlags.maxConnections
	}
	if startFlags.inspect {
		level := "debug"
		o.LogLevel = &level
	}
	return o
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(v, overridesFromFlags(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	// Logs go to stderr; stdout carries the MCP stream in stdio mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if configFile := v.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer func() { _ = os.Remove(pidPath) }()
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("mcp-router stopped")
	return nil
}

// run wires the components together and blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := httptransport.NewMetrics(reg)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		memLimiter := memory.NewRateLimiter(
			memory.WithSweepInterval(cfg.RateLimit.CleanupIntervalDuration()),
			memory.WithIdleTTL(cfg.RateLimit.MaxTTLDuration()),
			memory.WithLogger(logger),
		)
		memLimiter.Start(ctx)
		defer memLimiter.Stop()
		promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mcp_router",
			Name:      "rate_limit_keys",
			Help:      "Number of tracked rate limit keys",
		}, func() float64 { return float64(memLimiter.Len()) })
		limiter = memLimiter
	}

	gate := service.NewSecurityGate(service.SecurityGateConfig{
		AllowedOrigins:   cfg.Security.AllowedOrigins,
		MaxHeaderBytes:   cfg.Security.MaxHeaderBytes,
		MaxHeaderCount:   cfg.Security.MaxHeaderCount,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit:        ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
	}, limiter, logger, service.WithEventCounter(metrics.SecurityEvents))

	server := service.NewDefaultServer(config.DefaultImplementationName, Version, logger)
	engine := service.NewMCPEngine(server, logger)

	httpOpts := []httptransport.Option{
		httptransport.WithTrustProxyHeaders(cfg.Security.TrustProxyHeaders),
		httptransport.WithTimeouts(config.DefaultIdleTimeout, config.DefaultReadHeaderTimeout),
	}
	if cfg.Metrics.Enabled {
		httpOpts = append(httpOpts, httptransport.WithMetrics(metrics, reg))
	}

	mgr := transport.NewManager(cfg.Transport, engine, gate,
		transport.WithLogger(logger),
		transport.WithHTTPOptions(httpOpts...),
	)
	if err := mgr.StartTransport(ctx); err != nil {
		return err
	}
	logger.Info("mcp-router started",
		"version", Version,
		"stdio", cfg.Transport.StdioEnabled,
		"http_addr", mgr.HTTPAddr(),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-mgr.StdioDone():
		logger.Info("stdio client disconnected")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutDuration())
	defer cancel()
	if err := mgr.Close(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	return nil
}

// parseLogLevel converts a log level string to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
