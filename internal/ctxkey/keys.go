// Package ctxkey defines context key types shared by the HTTP adapter and the
// services it calls. It must not import other internal packages.
package ctxkey

// LoggerKey is the context key type for the request-scoped logger
// (carries request_id, and session_id once a stream is bound).
type LoggerKey struct{}
