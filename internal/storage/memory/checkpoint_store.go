package memory

import (
	"context"
	"sync"

	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// CheckpointStore is an in-memory implementation of storage.ScanCheckpointStore.
type CheckpointStore struct {
	mu         sync.RWMutex
	checkpoint *storage.ScanCheckpoint
}

// NewCheckpointStore creates a new in-memory scan checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

// GetCheckpoint returns the last saved checkpoint.
func (s *CheckpointStore) GetCheckpoint(_ context.Context) (*storage.ScanCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.checkpoint == nil {
		return nil, storage.ErrNotFound
	}

	dup := *s.checkpoint
	return &dup, nil
}

// SaveCheckpoint overwrites the checkpoint.
func (s *CheckpointStore) SaveCheckpoint(_ context.Context, cp *storage.ScanCheckpoint) error {
	if cp == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *cp
	s.checkpoint = &dup
	return nil
}

var _ storage.ScanCheckpointStore = (*CheckpointStore)(nil)
