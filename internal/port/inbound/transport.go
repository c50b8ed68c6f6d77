// Package inbound defines the inbound port implemented by the client-facing
// transports (stdio, HTTP).
package inbound

import (
	"context"
)

// Transport is a client-facing transport owned by the transport manager.
type Transport interface {
	// Start brings the transport up and returns once it is serving, or with
	// the error that prevented it. It does not block for the transport's
	// lifetime.
	Start(ctx context.Context) error

	// Close releases the transport's resources.
	Close() error
}
