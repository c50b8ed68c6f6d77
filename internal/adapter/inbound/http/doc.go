// Package http provides the HTTP/SSE transport for the MCP router.
//
// Clients open a long-lived Server-Sent Events stream and post their
// messages separately; the router pairs the two by session ID and hands
// each stream to the protocol engine.
//
// # Usage
//
//	transport := http.NewHTTPTransport(gate, engine,
//	    http.WithAddr("127.0.0.1:3000"),
//	    http.WithSSE(true),
//	    http.WithMaxConnections(100),
//	    http.WithLogger(logger),
//	)
//	if err := transport.Start(ctx); err != nil { ... }
//	defer transport.Close()
//
// # Endpoints
//
//	GET  /sse                  - open a stream (only when SSE is enabled)
//	POST /message?sessionId=ID - deliver one message to an open stream
//	GET  /health               - {"status":"ok","activeConnections":N}
//	GET  /metrics              - Prometheus metrics (when configured)
//	OPTIONS *                  - CORS preflight, 204
//
// The first event on a new stream is "endpoint", whose data is the message
// URL for that session.
//
// # Request pipeline
//
// Every request, whatever its path, goes through:
//
//  1. MetricsMiddleware - request count and duration per route
//  2. RequestIDMiddleware - X-Request-ID and a request-scoped logger
//  3. Router - header validation (403), rate limit (429), then dispatch
//
// # Streaming sessions
//
// Open sessions live in a SessionRegistry capped at the configured maximum;
// a stream opened at the cap is refused with 503. A session leaves the
// registry exactly once, when its connection closes, whether the client
// went away or the server closed it.
package http
