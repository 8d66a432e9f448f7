package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SyncState is the single-row sync checkpoint. TotalEmailsSynced accumulates
// across runs; it is a lifetime counter, not a per-run count.
type SyncState struct {
	LastHistoryID     uint64
	LastFullSync      time.Time
	TotalEmailsSynced int64
	UpdatedAt         time.Time
}

// GetSyncState returns the sync checkpoint. A store that has never synced
// returns a zero-valued state, not an error.
func (s *Store) GetSyncState(ctx context.Context) (*SyncState, error) {
	var (
		historyID    int64
		lastFullSync string
		total        int64
		updatedAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_history_id, last_full_sync, total_emails_synced, updated_at
		FROM sync_state WHERE id = 'state'
	`).Scan(&historyID, &lastFullSync, &total, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &SyncState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}

	st := &SyncState{
		LastHistoryID:     uint64(historyID),
		TotalEmailsSynced: total,
	}
	// Unparseable timestamps stay zero rather than failing the read.
	if t, err := time.Parse(time.RFC3339, lastFullSync); err == nil {
		st.LastFullSync = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		st.UpdatedAt = t
	}
	return st, nil
}

// UpdateSyncState records a completed sync pass: the new history checkpoint,
// the sync timestamp, and how many emails the pass added. The lifetime
// counter accumulates in-statement so concurrent writers cannot lose counts.
func (s *Store) UpdateSyncState(ctx context.Context, historyID uint64, syncedAt time.Time, addedCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (id, last_history_id, last_full_sync, total_emails_synced, updated_at)
		VALUES ('state', ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_history_id = excluded.last_history_id,
			last_full_sync = excluded.last_full_sync,
			total_emails_synced = sync_state.total_emails_synced + excluded.total_emails_synced,
			updated_at = excluded.updated_at
	`, int64(historyID), syncedAt.UTC().Format(time.RFC3339), int64(addedCount),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	return nil
}
