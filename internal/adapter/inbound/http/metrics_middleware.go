package http

import (
	"net/http"
	"strconv"
	"time"
)

// MetricsMiddleware records request count and duration per route.
// /metrics itself is not recorded.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil || r.URL.Path == MetricsPath {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			tracked := newResponseTracker(w)
			next.ServeHTTP(tracked, r)

			route := routeLabel(r.URL.Path)
			metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(route, statusClass(tracked.Status())).Inc()
		})
	}
}

// routeLabel bounds label cardinality to the known routes.
func routeLabel(path string) string {
	switch path {
	case SSEPath, MessagePath, HealthPath:
		return path
	default:
		return "other"
	}
}

// statusClass reduces an HTTP status code to its class label, such as "2xx" or "5xx".
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
