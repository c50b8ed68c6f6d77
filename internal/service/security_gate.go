package service

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sentinel-Gate/mcp-router/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/mcp-router/internal/domain/security"
)

// SecurityGateConfig configures the default security gate.
type SecurityGateConfig struct {
	// AllowedOrigins restricts the Origin header. Empty, or an entry of "*",
	// allows any origin.
	AllowedOrigins []string
	// MaxHeaderBytes caps the summed length of header names and values. 0 disables.
	MaxHeaderBytes int
	// MaxHeaderCount caps the number of header values. 0 disables.
	MaxHeaderCount int
	// RateLimitEnabled turns the per-IP budget on.
	RateLimitEnabled bool
	// RateLimit is the per-IP budget.
	RateLimit ratelimit.Budget
}

// SecurityGate is the default security.Gate: static header rules plus a
// per-IP GCRA budget. Events are logged and counted.
type SecurityGate struct {
	cfg            SecurityGateConfig
	allowedOrigins map[string]struct{}
	anyOrigin      bool
	limiter        ratelimit.Limiter
	logger         *slog.Logger
	events         *prometheus.CounterVec
}

// GateOption configures a SecurityGate.
type GateOption func(*SecurityGate)

// WithEventCounter counts events by type and severity on cv.
// cv must have exactly the labels "type" and "severity".
func WithEventCounter(cv *prometheus.CounterVec) GateOption {
	return func(g *SecurityGate) {
		g.events = cv
	}
}

// NewSecurityGate creates a gate. limiter may be nil when rate limiting is disabled.
func NewSecurityGate(cfg SecurityGateConfig, limiter ratelimit.Limiter, logger *slog.Logger, opts ...GateOption) *SecurityGate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &SecurityGate{
		cfg:            cfg,
		allowedOrigins: make(map[string]struct{}, len(cfg.AllowedOrigins)),
		anyOrigin:      len(cfg.AllowedOrigins) == 0,
		limiter:        limiter,
		logger:         logger,
	}
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			g.anyOrigin = true
		}
		g.allowedOrigins[origin] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ValidateHeaders implements security.Gate. All rules run so the verdict lists
// every problem, not just the first.
func (g *SecurityGate) ValidateHeaders(header http.Header) security.HeaderVerdict {
	var errs []string

	count, size := 0, 0
	for name, values := range header {
		for _, value := range values {
			count++
			size += len(name) + len(value)
			if strings.ContainsAny(value, "\r\n\x00") {
				errs = append(errs, fmt.Sprintf("header %s contains control characters", name))
			}
		}
	}
	if g.cfg.MaxHeaderCount > 0 && count > g.cfg.MaxHeaderCount {
		errs = append(errs, fmt.Sprintf("too many headers: %d > %d", count, g.cfg.MaxHeaderCount))
	}
	if g.cfg.MaxHeaderBytes > 0 && size > g.cfg.MaxHeaderBytes {
		errs = append(errs, fmt.Sprintf("headers too large: %d bytes > %d", size, g.cfg.MaxHeaderBytes))
	}

	if origin := header.Get("Origin"); origin != "" && !g.anyOrigin {
		if _, ok := g.allowedOrigins[origin]; !ok {
			errs = append(errs, fmt.Sprintf("origin not allowed: %s", origin))
		}
	}

	if xff := header.Get("X-Forwarded-For"); xff != "" {
		for _, hop := range strings.Split(xff, ",") {
			if net.ParseIP(strings.TrimSpace(hop)) == nil {
				errs = append(errs, "malformed X-Forwarded-For")
				break
			}
		}
	}

	if len(errs) > 0 {
		return security.Reject(errs...)
	}
	return security.Accept()
}

// CheckRateLimit implements security.Gate.
func (g *SecurityGate) CheckRateLimit(ctx context.Context, ip string) (bool, error) {
	if !g.cfg.RateLimitEnabled || g.limiter == nil {
		return true, nil
	}
	decision, err := g.limiter.Allow(ctx, ratelimit.PeerKey(ip), g.cfg.RateLimit)
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !decision.Allowed {
		g.logger.Debug("rate limit exceeded", "ip", ip, "retry_after", decision.RetryAfter)
	}
	return decision.Allowed, nil
}

// LogEvent implements security.Gate.
func (g *SecurityGate) LogEvent(ctx context.Context, event security.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	attrs := []any{
		"type", string(event.Type),
		"severity", string(event.Severity),
		"ip", event.IP,
		"user_agent", event.UserAgent,
		"details", event.Details,
		"timestamp", event.Timestamp,
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	g.logger.Log(ctx, severityLevel(event.Severity), "security event", attrs...)
	if g.events != nil {
		g.events.WithLabelValues(string(event.Type), string(event.Severity)).Inc()
	}
}

func severityLevel(s security.Severity) slog.Level {
	switch s {
	case security.SeverityLow:
		return slog.LevelInfo
	case security.SeverityHigh, security.SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

var _ security.Gate = (*SecurityGate)(nil)
