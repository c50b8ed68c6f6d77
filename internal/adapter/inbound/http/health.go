package http

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	ActiveConnections int    `json:"activeConnections"`
}

// HealthChecker reports liveness and the open session count. It never
// modifies the registry.
type HealthChecker struct {
	sessions *SessionRegistry
}

// NewHealthChecker creates a HealthChecker over sessions.
func NewHealthChecker(sessions *SessionRegistry) *HealthChecker {
	return &HealthChecker{sessions: sessions}
}

// Check builds the current health report.
func (h *HealthChecker) Check() HealthResponse {
	active := 0
	if h.sessions != nil {
		active = h.sessions.Len()
	}
	return HealthResponse{Status: "ok", ActiveConnections: active}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(h.Check())
	})
}
