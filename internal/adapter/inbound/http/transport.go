package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/mcp-router/internal/domain/security"
	"github.com/Sentinel-Gate/mcp-router/internal/port/inbound"
	"github.com/Sentinel-Gate/mcp-router/internal/port/outbound"
)

const (
	defaultIdleTimeout       = 30 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	tcpKeepAlivePeriod       = 30 * time.Second
)

// HTTPTransport is the network listener. It binds synchronously in Start,
// serves in the background and routes every request through the Router.
type HTTPTransport struct {
	addr              string
	certFile          string
	keyFile           string
	routerCfg         RouterConfig
	idleTimeout       time.Duration
	readHeaderTimeout time.Duration

	gate     security.Gate
	engine   outbound.ProtocolEngine
	sessions *SessionRegistry
	logger   *slog.Logger

	metrics  *Metrics
	gatherer prometheus.Gatherer

	server    *http.Server
	listener  net.Listener
	serveDone chan struct{}
	serveErr  error

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:3000".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS serves HTTPS with the given PEM certificate and key files. The
// pair is loaded by Start, so a bad pair is a start error.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithSSE enables the GET /sse streaming endpoint.
func WithSSE(enabled bool) Option {
	return func(t *HTTPTransport) {
		t.routerCfg.SSEEnabled = enabled
	}
}

// WithMaxConnections caps the number of open streaming sessions.
func WithMaxConnections(n int) Option {
	return func(t *HTTPTransport) {
		t.routerCfg.MaxConnections = n
	}
}

// WithTrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
func WithTrustProxyHeaders(trust bool) Option {
	return func(t *HTTPTransport) {
		t.routerCfg.TrustProxyHeaders = trust
	}
}

// WithTimeouts overrides the idle and read-header timeouts.
func WithTimeouts(idle, readHeader time.Duration) Option {
	return func(t *HTTPTransport) {
		t.idleTimeout = idle
		t.readHeaderTimeout = readHeader
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithMetrics records request and session metrics on m and serves g on
// GET /metrics.
func WithMetrics(m *Metrics, g prometheus.Gatherer) Option {
	return func(t *HTTPTransport) {
		t.metrics = m
		t.gatherer = g
	}
}

// NewHTTPTransport creates the listener. gate screens every request; engine
// drives each streaming session.
func NewHTTPTransport(gate security.Gate, engine outbound.ProtocolEngine, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		addr:              "127.0.0.1:3000",
		routerCfg:         RouterConfig{MaxConnections: 100},
		idleTimeout:       defaultIdleTimeout,
		readHeaderTimeout: defaultReadHeaderTimeout,
		gate:              gate,
		engine:            engine,
		sessions:          NewSessionRegistry(),
		logger:            slog.Default(),
		conns:             make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler builds the full handler chain:
// Metrics -> RequestID -> Router.
func (t *HTTPTransport) Handler() http.Handler {
	var routerOpts []RouterOption
	if t.metrics != nil {
		routerOpts = append(routerOpts, WithRouterMetrics(t.metrics))
	}
	if t.gatherer != nil {
		routerOpts = append(routerOpts, WithMetricsHandler(promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})))
	}

	var handler http.Handler = NewRouter(t.routerCfg, t.gate, t.sessions, t.engine, t.logger, routerOpts...)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)
	return handler
}

// Start binds the listen address and serves in the background. It returns
// once the socket is bound, or with the bind error. ctx is only used for
// the bind.
func (t *HTTPTransport) Start(ctx context.Context) error {
	if t.server != nil {
		return errors.New("http transport already started")
	}

	var tlsConfig *tls.Config
	if t.certFile != "" || t.keyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.certFile, t.keyFile)
		if err != nil {
			return fmt.Errorf("load tls key pair: %w", err)
		}
		tlsConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.addr, err)
	}

	t.server = &http.Server{
		Handler:           t.Handler(),
		IdleTimeout:       t.idleTimeout,
		ReadHeaderTimeout: t.readHeaderTimeout,
		ConnState:         t.trackConn,
		ErrorLog:          slog.NewLogLogger(t.logger.Handler(), slog.LevelWarn),
		TLSConfig:         tlsConfig,
	}
	useTLS := tlsConfig != nil
	t.listener = ln
	t.serveDone = make(chan struct{})

	t.logger.Info("http transport listening",
		"addr", ln.Addr().String(),
		"tls", useTLS,
		"sse", t.routerCfg.SSEEnabled,
		"max_connections", t.routerCfg.MaxConnections,
	)

	go func() {
		defer close(t.serveDone)
		var err error
		if useTLS {
			// Certificates are already in TLSConfig.
			err = t.server.ServeTLS(ln, "", "")
		} else {
			err = t.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("http server stopped", "error", err)
			t.serveErr = err
		}
	}()
	return nil
}

// trackConn maintains the connection accounting set and tunes new sockets.
func (t *HTTPTransport) trackConn(c net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		if tcp, ok := c.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetKeepAlive(true)
			_ = tcp.SetKeepAlivePeriod(tcpKeepAlivePeriod)
		}
		t.connMu.Lock()
		t.conns[c] = struct{}{}
		t.connMu.Unlock()
	case http.StateClosed, http.StateHijacked:
		t.connMu.Lock()
		delete(t.conns, c)
		t.connMu.Unlock()
	}
}

// OpenConns returns the number of accepted sockets not yet closed.
func (t *HTTPTransport) OpenConns() int {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return len(t.conns)
}

// Addr returns the bound address, or "" before Start.
func (t *HTTPTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

// Sessions returns the streaming session registry.
func (t *HTTPTransport) Sessions() *SessionRegistry {
	return t.sessions
}

// CloseSessions closes every open streaming session. See SessionRegistry.CloseAll.
func (t *HTTPTransport) CloseSessions() error {
	err := t.sessions.CloseAll()
	if t.metrics != nil {
		t.metrics.ActiveSessions.Set(float64(t.sessions.Len()))
	}
	return err
}

// Shutdown stops accepting connections and waits for the server to report
// closed or for ctx to end. It is a no-op when Start never succeeded.
func (t *HTTPTransport) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	select {
	case <-t.serveDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	t.logger.Info("http transport shut down")
	return t.serveErr
}

// Close closes all sessions and shuts the server down with a default timeout.
func (t *HTTPTransport) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	return errors.Join(t.CloseSessions(), t.Shutdown(ctx))
}

// Compile-time check that HTTPTransport implements the Transport port.
var _ inbound.Transport = (*HTTPTransport)(nil)
