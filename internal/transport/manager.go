// Package transport starts and stops the router's client-facing transports.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Sentinel-Gate/mcp-router/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/mcp-router/internal/adapter/inbound/stdio"
	"github.com/Sentinel-Gate/mcp-router/internal/config"
	"github.com/Sentinel-Gate/mcp-router/internal/domain/security"
	"github.com/Sentinel-Gate/mcp-router/internal/port/outbound"
)

// Transport names used in TransportStartError.
const (
	NameStdio = "stdio"
	NameHTTP  = "http"
)

// ErrAlreadyStarted is returned by a second StartTransport.
var ErrAlreadyStarted = errors.New("transports already started")

// TransportStartError reports which transport failed to start.
type TransportStartError struct {
	Transport string
	Err       error
}

func (e *TransportStartError) Error() string {
	return fmt.Sprintf("failed to start %s transport: %v", e.Transport, e.Err)
}

func (e *TransportStartError) Unwrap() error {
	return e.Err
}

// Manager owns the stdio transport and the HTTP listener.
type Manager struct {
	cfg    config.TransportConfig
	engine outbound.ProtocolEngine
	gate   security.Gate
	logger *slog.Logger

	stdioOpts []stdio.Option
	httpOpts  []http.Option

	mu      sync.Mutex
	started bool
	stdio   *stdio.StdioTransport
	http    *http.HTTPTransport
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger passed to both transports.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithStdioOptions adds options for the stdio transport.
func WithStdioOptions(opts ...stdio.Option) Option {
	return func(m *Manager) {
		m.stdioOpts = append(m.stdioOpts, opts...)
	}
}

// WithHTTPOptions adds options for the HTTP transport. They are applied
// after the options derived from the transport configuration.
func WithHTTPOptions(opts ...http.Option) Option {
	return func(m *Manager) {
		m.httpOpts = append(m.httpOpts, opts...)
	}
}

// NewManager creates a manager for cfg. cfg is copied; later changes by the
// caller have no effect.
func NewManager(cfg config.TransportConfig, engine outbound.ProtocolEngine, gate security.Gate, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		engine: engine,
		gate:   gate,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartTransport starts stdio first, if enabled, and only after it is
// connected binds the HTTP listener, if HTTP or SSE is enabled. A failure is
// returned as *TransportStartError and is not retried. If the listener fails
// after stdio started, the stdio session is closed again.
func (m *Manager) StartTransport(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	m.logger.Info("starting transports", "config", m.cfg.String())

	if m.cfg.StdioEnabled {
		opts := append([]stdio.Option{stdio.WithLogger(m.logger)}, m.stdioOpts...)
		st := stdio.NewStdioTransport(m.engine, opts...)
		if err := st.Start(ctx); err != nil {
			return &TransportStartError{Transport: NameStdio, Err: err}
		}
		m.stdio = st
	}

	if m.cfg.HTTPRequired() {
		opts := append([]http.Option{
			http.WithAddr(m.cfg.Addr()),
			http.WithSSE(m.cfg.SSEEnabled),
			http.WithMaxConnections(m.cfg.MaxConnections),
			http.WithLogger(m.logger),
		}, m.httpOpts...)
		if m.cfg.TLSEnabled() {
			opts = append(opts, http.WithTLS(m.cfg.TLSCertFile, m.cfg.TLSKeyFile))
		}
		ht := http.NewHTTPTransport(m.gate, m.engine, opts...)
		if err := ht.Start(ctx); err != nil {
			if m.stdio != nil {
				if cerr := m.stdio.Close(); cerr != nil {
					m.logger.Warn("failed to close stdio after http start failure", "error", cerr)
				}
			}
			return &TransportStartError{Transport: NameHTTP, Err: err}
		}
		m.http = ht
	}
	return nil
}

// Shutdown closes every streaming session, then stops the listener. Session
// close failures are reported but do not prevent the listener from stopping.
// The stdio session is left alone; see Close.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ht := m.http
	m.mu.Unlock()
	if ht == nil {
		return nil
	}

	closeErr := ht.CloseSessions()
	if closeErr != nil {
		m.logger.Warn("some sessions failed to close", "error", closeErr)
	}
	return errors.Join(closeErr, ht.Shutdown(ctx))
}

// Close shuts everything down, the stdio session included.
func (m *Manager) Close(ctx context.Context) error {
	err := m.Shutdown(ctx)

	m.mu.Lock()
	st := m.stdio
	m.mu.Unlock()
	if st != nil {
		err = errors.Join(err, st.Close())
	}
	return err
}

// StdioDone is closed when the stdio session ends. It is nil, and so never
// ready, when stdio is not running.
func (m *Manager) StdioDone() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stdio == nil {
		return nil
	}
	return m.stdio.Done()
}

// HTTPAddr returns the bound listener address, or "" when HTTP is not running.
func (m *Manager) HTTPAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.http == nil {
		return ""
	}
	return m.http.Addr()
}

// ActiveSessions returns the number of open streaming sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.http == nil {
		return 0
	}
	return m.http.Sessions().Len()
}
