package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/Sentinel-Gate/mcp-router/internal/domain/security"
	"github.com/Sentinel-Gate/mcp-router/internal/port/outbound"
)

// Route paths.
const (
	SSEPath     = "/sse"
	MessagePath = "/message"
	HealthPath  = "/health"
	MetricsPath = "/metrics"
)

// RouterConfig is the part of the transport configuration the router reads.
type RouterConfig struct {
	SSEEnabled        bool
	MaxConnections    int
	TrustProxyHeaders bool
}

// Router is the single entry point for every HTTP request. Each request
// passes the security gate (headers, then rate limit) before it is
// dispatched by method and path.
type Router struct {
	cfg            RouterConfig
	gate           security.Gate
	sessions       *SessionRegistry
	engine         outbound.ProtocolEngine
	health         *HealthChecker
	metrics        *Metrics
	metricsHandler http.Handler
	logger         *slog.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterMetrics records session metrics on m.
func WithRouterMetrics(m *Metrics) RouterOption {
	return func(rt *Router) {
		rt.metrics = m
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(rt *Router) {
		rt.metricsHandler = h
	}
}

// NewRouter creates a router over sessions. The caller owns sessions and
// closes them on shutdown.
func NewRouter(cfg RouterConfig, gate security.Gate, sessions *SessionRegistry, engine outbound.ProtocolEngine, logger *slog.Logger, opts ...RouterOption) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{
		cfg:      cfg,
		gate:     gate,
		sessions: sessions,
		engine:   engine,
		health:   NewHealthChecker(sessions),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// ServeHTTP implements http.Handler. Errors and panics that escape a handler
// are logged and answered with 500, unless a response was already started.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tracked, ok := w.(*responseTracker)
	if !ok {
		tracked = newResponseTracker(w)
	}
	logger := rt.requestLogger(r.Context())

	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("panic in request handler",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			internalError(tracked)
		}
	}()

	if err := rt.route(tracked, r); err != nil {
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		internalError(tracked)
	}
}

func (rt *Router) route(w *responseTracker, r *http.Request) error {
	ctx := r.Context()
	ip := clientIP(r, rt.cfg.TrustProxyHeaders)

	if verdict := rt.gate.ValidateHeaders(r.Header); !verdict.Valid {
		rt.gate.LogEvent(ctx, security.Event{
			Type:      security.EventSuspiciousHeaders,
			Severity:  security.SeverityMedium,
			IP:        ip,
			UserAgent: r.UserAgent(),
			RequestID: RequestIDFromContext(ctx),
			Details:   verdict.Errors,
		})
		http.Error(w, "forbidden", http.StatusForbidden)
		return nil
	}

	allowed, err := rt.gate.CheckRateLimit(ctx, ip)
	if err != nil {
		return err
	}
	if !allowed {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return nil
	}

	if r.Method == http.MethodOptions {
		writePreflight(w)
		return nil
	}

	switch r.URL.Path {
	case SSEPath:
		if !rt.cfg.SSEEnabled {
			break
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return nil
		}
		return rt.openStream(w, r)
	case MessagePath:
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return nil
		}
		rt.forward(w, r)
		return nil
	case HealthPath:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return nil
		}
		rt.health.Handler().ServeHTTP(w, r)
		return nil
	case MetricsPath:
		if rt.metricsHandler == nil {
			break
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return nil
		}
		rt.metricsHandler.ServeHTTP(w, r)
		return nil
	}

	http.NotFound(w, r)
	return nil
}

// openStream admits a new streaming session and holds the response open
// until the client goes away or the session is closed.
func (rt *Router) openStream(w *responseTracker, r *http.Request) error {
	ctx := r.Context()
	logger := rt.requestLogger(ctx)

	conn := NewStreamConnection(MessagePath, w)
	id := conn.SessionID()
	logger = logger.With("session_id", id)

	// Hooks go on before Admit: once admitted, CloseAll may close the
	// connection at any moment.
	conn.OnClose(func() {
		if rt.sessions.Remove(id) {
			logger.Info("stream closed")
		}
		rt.syncSessionGauge()
	})
	conn.OnError(func(err error) {
		logger.Warn("stream error", "error", err)
	})

	if err := rt.sessions.Admit(conn, rt.cfg.MaxConnections); err != nil {
		switch {
		case errors.Is(err, ErrCapacityReached):
			if rt.metrics != nil {
				rt.metrics.SessionsRejected.Inc()
			}
			logger.Warn("stream rejected", "reason", err, "limit", rt.cfg.MaxConnections)
		case errors.Is(err, ErrShuttingDown):
			logger.Info("stream rejected", "reason", err)
		default:
			return err
		}
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return nil
	}
	rt.syncSessionGauge()
	defer func() { _ = conn.Close() }()

	session, err := rt.engine.Connect(ctx, conn)
	if err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			// Closed by CloseAll between Admit and Connect.
			logger.Info("stream closed before connect")
			http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
			return nil
		}
		return fmt.Errorf("connect session %s: %w", id, err)
	}
	defer func() { _ = session.Close() }()
	logger.Info("stream opened", "endpoint", conn.Endpoint())

	select {
	case <-ctx.Done():
	case <-conn.Done():
	}
	return nil
}

// forward hands a posted message to its session. It never creates or
// removes sessions.
func (rt *Router) forward(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get(SessionIDParam)
	if id == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}
	session, ok := rt.sessions.Get(id)
	if !ok {
		http.Error(w, ErrSessionNotFound.Error(), http.StatusNotFound)
		return
	}
	session.HandleMessage(w, r)
}

// requestLogger prefers the request-scoped logger from RequestIDMiddleware.
func (rt *Router) requestLogger(ctx context.Context) *slog.Logger {
	return LoggerFromContext(ctx, rt.logger)
}

func (rt *Router) syncSessionGauge() {
	if rt.metrics != nil {
		rt.metrics.ActiveSessions.Set(float64(rt.sessions.Len()))
	}
}

func writePreflight(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

func internalError(w *responseTracker) {
	if w.Written() {
		return
	}
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

var _ http.Handler = (*Router)(nil)
