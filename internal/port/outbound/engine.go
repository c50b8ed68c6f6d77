// Package outbound defines the outbound port the transports use to reach the
// protocol engine.
package outbound

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProtocolEngine speaks the MCP message protocol over a connected transport.
// Transports (stdio, SSE streams) call Connect once per client connection.
type ProtocolEngine interface {
	// Connect binds t to the engine and starts the protocol exchange over it.
	// It returns once the connection is established; the exchange continues
	// until the session is closed by either side.
	Connect(ctx context.Context, t mcp.Transport) (EngineSession, error)
}

// EngineSession is one live engine connection.
type EngineSession interface {
	// Wait blocks until the client side closes the connection.
	Wait() error

	// Close terminates the session. Safe to call more than once.
	Close() error
}
