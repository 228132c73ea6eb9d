package postgres

import (
	"context"
	"fmt"

	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// CheckpointStore implements storage.ScanCheckpointStore using PostgreSQL.
// The checkpoint is a single upserted row.
type CheckpointStore struct {
	pool *Pool
}

// NewCheckpointStore creates a new CheckpointStore.
func NewCheckpointStore(pool *Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScanCheckpointStore = (*CheckpointStore)(nil)

// GetCheckpoint returns the last saved checkpoint.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context) (*storage.ScanCheckpoint, error) {
	query := `SELECT last_scan_at, swaps_scanned, checks_total FROM scan_checkpoints WHERE id = 1`

	var cp storage.ScanCheckpoint
	err := s.pool.QueryRow(ctx, query).Scan(&cp.LastScanAt, &cp.SwapsScanned, &cp.ChecksTotal)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get scan checkpoint: %w", err)
	}
	return &cp, nil
}

// SaveCheckpoint overwrites the checkpoint.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, cp *storage.ScanCheckpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO scan_checkpoints (id, last_scan_at, swaps_scanned, checks_total)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			last_scan_at = EXCLUDED.last_scan_at,
			swaps_scanned = EXCLUDED.swaps_scanned,
			checks_total = EXCLUDED.checks_total
	`

	if _, err := s.pool.Exec(ctx, query, cp.LastScanAt, cp.SwapsScanned, cp.ChecksTotal); err != nil {
		return fmt.Errorf("save scan checkpoint: %w", err)
	}
	return nil
}
