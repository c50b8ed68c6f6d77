// Package stdio provides the stdin/stdout transport for the MCP router.
package stdio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/mcp-router/internal/port/inbound"
	"github.com/Sentinel-Gate/mcp-router/internal/port/outbound"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("stdio transport already started")

// StdioTransport connects the protocol engine to the process's standard
// streams. There is exactly one session; it lives until the client closes
// stdin or the transport is closed.
type StdioTransport struct {
	engine    outbound.ProtocolEngine
	transport mcp.Transport
	logger    *slog.Logger

	mu      sync.Mutex
	session outbound.EngineSession
	started bool
	waitErr error
	done    chan struct{}
}

// Option is a functional option for configuring StdioTransport.
type Option func(*StdioTransport)

// WithIO replaces stdin/stdout with the given streams.
func WithIO(r io.ReadCloser, w io.WriteCloser) Option {
	return func(t *StdioTransport) {
		t.transport = &mcp.IOTransport{Reader: r, Writer: w}
	}
}

// WithLogger sets the logger for the stdio transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *StdioTransport) {
		t.logger = logger
	}
}

// NewStdioTransport creates a stdio transport driven by engine.
func NewStdioTransport(engine outbound.ProtocolEngine, opts ...Option) *StdioTransport {
	t := &StdioTransport{
		engine:    engine,
		transport: &mcp.StdioTransport{},
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start connects the engine to the standard streams and returns once the
// session is established. The session keeps running in the background;
// Done reports its end.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrAlreadyStarted
	}

	session, err := t.engine.Connect(ctx, t.transport)
	if err != nil {
		return fmt.Errorf("connect stdio session: %w", err)
	}
	t.session = session
	t.started = true
	t.logger.Info("stdio transport connected")

	go func() {
		err := session.Wait()
		t.mu.Lock()
		t.waitErr = err
		t.mu.Unlock()
		if err != nil && !errors.Is(err, io.EOF) {
			t.logger.Warn("stdio session ended", "error", err)
		} else {
			t.logger.Info("stdio session ended")
		}
		close(t.done)
	}()
	return nil
}

// Done is closed when the stdio session ends. It never closes if Start did
// not succeed.
func (t *StdioTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the error the session ended with, if any.
func (t *StdioTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitErr
}

// Close ends the session. Safe to call before Start and more than once.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	session := t.session
	t.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

// Compile-time check that StdioTransport implements the Transport port.
var _ inbound.Transport = (*StdioTransport)(nil)
