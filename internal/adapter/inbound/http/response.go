package http

import (
	"net/http"
	"sync/atomic"
)

// responseTracker records whether anything has been sent on a response so the
// router's last-resort error path never writes a second status line. It also
// keeps the status for metrics.
type responseTracker struct {
	http.ResponseWriter
	status  int
	written atomic.Bool
}

func newResponseTracker(w http.ResponseWriter) *responseTracker {
	return &responseTracker{ResponseWriter: w, status: http.StatusOK}
}

func (t *responseTracker) WriteHeader(code int) {
	if t.written.CompareAndSwap(false, true) {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTracker) Write(b []byte) (int, error) {
	t.written.Store(true)
	return t.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer. The SSE stream depends on it.
func (t *responseTracker) Flush() {
	t.written.Store(true)
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (t *responseTracker) Unwrap() http.ResponseWriter {
	return t.ResponseWriter
}

// Written reports whether a status or body has been sent.
func (t *responseTracker) Written() bool {
	return t.written.Load()
}

// Status returns the status sent, or 200 if none was set explicitly.
func (t *responseTracker) Status() int {
	return t.status
}

var _ http.Flusher = (*responseTracker)(nil)
