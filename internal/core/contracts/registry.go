package contracts

import (
	"context"

	"parley/internal/core/domain"
)

// Registry is the in-memory map between live channels and client sessions.
// It is the single writer for session state; every mutation happens under
// its lock and other components work on snapshots.
type Registry interface {
	// Register binds a channel to a client session. The channel must be
	// connecting or open, anything later in the lifecycle is rejected.
	Register(ch Channel, client domain.ClientData) (domain.ClientSession, error)
	// Unregister drops both the channel and client mappings. It reports the
	// session that was removed so callers can finish client-side cleanup.
	Unregister(channelID string) (domain.ClientSession, bool)
	// SessionByChannel resolves the session owning a channel.
	SessionByChannel(channelID string) (domain.ClientSession, bool)
	// SessionByClient resolves the session for a client id.
	SessionByClient(clientID string) (domain.ClientSession, bool)
	// ChannelByClient resolves the live channel for a client.
	ChannelByClient(clientID string) (Channel, bool)
	// IsActive reports whether the client is registered on an open channel.
	IsActive(clientID string) bool
	// Sessions returns a snapshot of every registered session.
	Sessions() []domain.ClientSession
	Count() int

	// Touch refreshes the session activity clock and restores the session
	// to alive; inbound activity counts the same as a pong.
	Touch(clientID string) bool
	// RecordPong stores the pong arrival and restores the session to alive.
	RecordPong(clientID string) bool
	// MarkSuspect flips the session to suspect and reports the liveness it
	// had before, so one probe cycle cannot double-count a miss.
	MarkSuspect(clientID string) (domain.Liveness, bool)
	IncrMessage(clientID string)
	IncrImage(clientID string)
}

// Channel represents the minimal surface the session layer needs from an
// individual transport connection.
type Channel interface {
	ID() string
	State() domain.ChannelState
	Send(ctx context.Context, env domain.Envelope) error
	Close(reason string) error
}
