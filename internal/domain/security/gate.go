// Package security defines the contract between the HTTP router and the
// security policy engine that vets every inbound request.
package security

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// EventType names a security event.
type EventType string

// EventSuspiciousHeaders is emitted when a request fails header validation.
const EventSuspiciousHeaders EventType = "suspicious_headers"

// Severity grades a security event.
type Severity string

// Severity levels, lowest first.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is a security-relevant observation reported to the gate.
type Event struct {
	Type      EventType
	Severity  Severity
	IP        string
	UserAgent string
	// RequestID ties the event to the request's log lines, when known.
	RequestID string
	// Details carries event specific reasons, e.g. the header validation errors.
	Details   []string
	Timestamp time.Time
}

// HeaderVerdict is the outcome of header validation.
type HeaderVerdict struct {
	Valid  bool
	Errors []string
}

// Reject returns a failing verdict carrying the given errors.
func Reject(errs ...string) HeaderVerdict {
	return HeaderVerdict{Valid: false, Errors: errs}
}

// Accept returns a passing verdict.
func Accept() HeaderVerdict {
	return HeaderVerdict{Valid: true}
}

// String joins the verdict errors for logging.
func (v HeaderVerdict) String() string {
	if v.Valid {
		return "valid"
	}
	return strings.Join(v.Errors, "; ")
}

// Gate answers the two admission questions the router asks for every request
// and records security events.
//
// The router calls ValidateHeaders first and CheckRateLimit only when the
// headers are valid.
type Gate interface {
	// ValidateHeaders reports whether the raw header set is admissible.
	ValidateHeaders(header http.Header) HeaderVerdict

	// CheckRateLimit reports whether the client identified by ip is within
	// its rate budget. An error means the check itself failed.
	CheckRateLimit(ctx context.Context, ip string) (bool, error)

	// LogEvent records a security event.
	LogEvent(ctx context.Context, event Event)
}
