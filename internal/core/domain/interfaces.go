package domain

import "context"

// ArchiveRepository handles persistence and guaranteed ordering of the
// per-client transcript.
type ArchiveRepository interface {
	// SaveWithSequence increments the client sequence and inserts the entry
	// in one transaction, returning the assigned sequence number.
	SaveWithSequence(ctx context.Context, entry *ArchiveEntry) (seq int64, err error)
	// RecentEntries returns the newest entries for a client, oldest first.
	RecentEntries(ctx context.Context, clientID string, limit int) ([]ArchiveEntry, error)
}
