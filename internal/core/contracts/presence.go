package contracts

import (
	"context"
	"time"
)

// PresenceStore tracks which clients are currently connected, shared across
// nodes through a scored set with TTL-based expiry.
type PresenceStore interface {
	// CheckIn refreshes the client presence marker.
	CheckIn(ctx context.Context, clientID string, ttl time.Duration) error
	// OnlineClients returns the ids checked in within the TTL window.
	OnlineClients(ctx context.Context) ([]string, error)
	// Remove drops the client marker immediately.
	Remove(ctx context.Context, clientID string) error
}
