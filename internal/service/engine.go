// Package service contains the router's core services: the MCP protocol
// engine binding and the default security gate.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/mcp-router/internal/port/outbound"
)

// MCPEngine adapts an *mcp.Server to the outbound.ProtocolEngine port.
// Every connected transport gets its own server session; the server's tools,
// prompts and resources are shared by all of them.
type MCPEngine struct {
	server *mcp.Server
	logger *slog.Logger
}

// NewMCPEngine wraps server.
func NewMCPEngine(server *mcp.Server, logger *slog.Logger) *MCPEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &MCPEngine{server: server, logger: logger}
}

// NewDefaultServer builds the MCP server the CLI serves when no other server
// is supplied.
func NewDefaultServer(name, version string, logger *slog.Logger) *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, &mcp.ServerOptions{
		Logger: logger,
	})
}

// Connect implements outbound.ProtocolEngine.
func (e *MCPEngine) Connect(ctx context.Context, t mcp.Transport) (outbound.EngineSession, error) {
	ss, err := e.server.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect transport to engine: %w", err)
	}
	e.logger.Debug("engine session connected", "session_id", ss.ID())
	return ss, nil
}

// Server returns the wrapped MCP server, e.g. to register tools.
func (e *MCPEngine) Server() *mcp.Server {
	return e.server
}

var _ outbound.ProtocolEngine = (*MCPEngine)(nil)
