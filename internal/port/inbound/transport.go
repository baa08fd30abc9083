// Package inbound defines the interface inbound adapters (stdio, HTTP)
// implement so the CLI can run them interchangeably.
package inbound

import (
	"context"
)

// Transport serves a dispatch server to clients.
type Transport interface {
	// Start serves until ctx is cancelled or the transport fails.
	// Returns nil on graceful shutdown.
	Start(ctx context.Context) error

	// Close shuts the transport down and releases its resources.
	Close() error
}
