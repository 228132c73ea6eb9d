package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// SwapStore keeps swaps in a map, for tests and --use-memory runs.
type SwapStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Swap // keyed by swap id
}

func NewSwapStore() *SwapStore {
	return &SwapStore{
		data: make(map[string]*domain.Swap),
	}
}

// Insert adds a swap, rejecting duplicates with ErrDuplicateKey.
func (s *SwapStore) Insert(_ context.Context, swap *domain.Swap) error {
	if swap == nil || swap.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[swap.ID]; exists {
		return storage.ErrDuplicateKey
	}

	dup := *swap
	s.data[swap.ID] = &dup
	return nil
}

// GetByID returns a copy of the swap, or ErrNotFound.
func (s *SwapStore) GetByID(_ context.Context, swapID string) (*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swap, exists := s.data[swapID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	dup := *swap
	return &dup, nil
}

// GetByIDs retrieves the swaps for the given ids, ordered as requested.
// Missing ids are simply absent from the result.
func (s *SwapStore) GetByIDs(_ context.Context, swapIDs []string) ([]*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Swap, 0, len(swapIDs))
	for _, id := range swapIDs {
		if swap, exists := s.data[id]; exists {
			dup := *swap
			result = append(result, &dup)
		}
	}
	return result, nil
}

// ListExpired retrieves non-terminal swaps past their deadline, ordered by
// expires_at ASC, at most limit rows.
func (s *SwapStore) ListExpired(_ context.Context, asOf time.Time, limit int) ([]*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swap
	for _, swap := range s.data {
		if domain.SwapStatusTerminal(swap.Status) {
			continue
		}
		if swap.ExpiresAt.After(asOf) {
			continue
		}
		dup := *swap
		result = append(result, &dup)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].ExpiresAt.Equal(result[j].ExpiresAt) {
			return result[i].ExpiresAt.Before(result[j].ExpiresAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SetStatus overwrites the status of one swap.
func (s *SwapStore) SetStatus(_ context.Context, swapID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap, exists := s.data[swapID]
	if !exists {
		return storage.ErrNotFound
	}

	swap.Status = status
	swap.UpdatedAt = time.Now().UTC()
	return nil
}

var _ storage.SwapStore = (*SwapStore)(nil)
