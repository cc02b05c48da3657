package postgres

import (
	"context"
	"database/sql"

	"parley/internal/core/domain"
)

type ArchiveRepo struct {
	db *sql.DB
}

func NewArchiveRepo(db *sql.DB) *ArchiveRepo {
	return &ArchiveRepo{
		db: db,
	}
}

/*
	-- Per-client transcript with a gapless sequence

	CREATE TABLE client_sequences (
		client_id  TEXT PRIMARY KEY,
		last_seq   BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE archive_entries (
		id          BIGSERIAL PRIMARY KEY,
		client_id   TEXT NOT NULL,
		message_id  TEXT NOT NULL,
		direction   TEXT NOT NULL,
		type        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		seq         BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (client_id, seq)
	);
*/

func (r *ArchiveRepo) SaveWithSequence(
	ctx context.Context,
	entry *domain.ArchiveEntry,
) (int64, error) {
	if entry.ClientID == "" {
		return 0, domain.ErrInvalidClientID
	}
	exec := GetExecutor(ctx, r.db)

	// First entry for a client creates its sequence row.
	if _, err := exec.ExecContext(ctx, `
        INSERT INTO client_sequences (client_id)
        VALUES ($1)
        ON CONFLICT (client_id) DO NOTHING
    `, entry.ClientID); err != nil {
		return 0, err
	}

	var seq int64
	err := exec.QueryRowContext(ctx, `
        UPDATE client_sequences
        SET last_seq = last_seq + 1
        WHERE client_id = $1
        RETURNING last_seq
    `, entry.ClientID).Scan(&seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, domain.ErrSequenceNotInitialized
		}
		return 0, err
	}

	if _, err := exec.ExecContext(ctx, `
        INSERT INTO archive_entries (
            client_id, message_id, direction, type, content, seq
        ) VALUES ($1, $2, $3, $4, $5, $6)
    `,
		entry.ClientID,
		entry.MessageID,
		entry.Direction,
		entry.Type,
		entry.Content,
		seq,
	); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *ArchiveRepo) RecentEntries(
	ctx context.Context,
	clientID string,
	limit int,
) ([]domain.ArchiveEntry, error) {
	if clientID == "" {
		return nil, domain.ErrInvalidClientID
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
		SELECT client_id, message_id, direction, type, content, seq, created_at
		FROM (
			SELECT client_id, message_id, direction, type, content, seq, created_at
			FROM archive_entries
			WHERE client_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) latest
		ORDER BY seq ASC
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.ArchiveEntry
	for rows.Next() {
		var e domain.ArchiveEntry
		if err := rows.Scan(
			&e.ClientID,
			&e.MessageID,
			&e.Direction,
			&e.Type,
			&e.Content,
			&e.Seq,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
