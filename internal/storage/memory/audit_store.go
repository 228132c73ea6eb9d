package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// AuditStore is an in-memory implementation of storage.CompletionAuditStore.
type AuditStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SwapCompletionAudit // keyed by audit id
}

// NewAuditStore creates a new in-memory completion audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{
		data: make(map[string]*domain.SwapCompletionAudit),
	}
}

// Insert adds a new audit row. Returns ErrDuplicateKey if exists.
func (s *AuditStore) Insert(_ context.Context, a *domain.SwapCompletionAudit) error {
	if a == nil || a.ID == "" || a.ProposalID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[a.ID] = cloneAudit(a)
	return nil
}

// Update overwrites the row of an in-flight attempt.
func (s *AuditStore) Update(_ context.Context, a *domain.SwapCompletionAudit) error {
	if a == nil || a.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; !exists {
		return storage.ErrNotFound
	}

	s.data[a.ID] = cloneAudit(a)
	return nil
}

// GetByID retrieves an audit row by its ID. Returns ErrNotFound if not exists.
func (s *AuditStore) GetByID(_ context.Context, auditID string) (*domain.SwapCompletionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[auditID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneAudit(a), nil
}

// GetLatestByProposal retrieves the most recent attempt for a proposal.
func (s *AuditStore) GetLatestByProposal(_ context.Context, proposalID string) (*domain.SwapCompletionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.SwapCompletionAudit
	for _, a := range s.data {
		if a.ProposalID != proposalID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return cloneAudit(latest), nil
}

// ListByProposal retrieves every attempt for a proposal, ordered by created_at ASC.
func (s *AuditStore) ListByProposal(_ context.Context, proposalID string) ([]*domain.SwapCompletionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapCompletionAudit
	for _, a := range s.data {
		if a.ProposalID == proposalID {
			result = append(result, cloneAudit(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// GetLatestBySwap retrieves the most recent attempt touching a swap.
func (s *AuditStore) GetLatestBySwap(_ context.Context, swapID string) (*domain.SwapCompletionAudit, error) {
	return s.latestWhere(func(a *domain.SwapCompletionAudit) bool {
		return containsID(a.AffectedSwaps, swapID)
	})
}

// GetLatestByBooking retrieves the most recent attempt touching a booking.
func (s *AuditStore) GetLatestByBooking(_ context.Context, bookingID string) (*domain.SwapCompletionAudit, error) {
	return s.latestWhere(func(a *domain.SwapCompletionAudit) bool {
		return containsID(a.AffectedBookings, bookingID)
	})
}

// HasCompleted reports whether any attempt for the proposal reached completed.
func (s *AuditStore) HasCompleted(_ context.Context, proposalID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.data {
		if a.ProposalID == proposalID && a.Status == domain.AuditStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// ListByStatus retrieves attempts in the given status, most recent first.
func (s *AuditStore) ListByStatus(_ context.Context, status string, limit int) ([]*domain.SwapCompletionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SwapCompletionAudit
	for _, a := range s.data {
		if a.Status == status {
			result = append(result, cloneAudit(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *AuditStore) latestWhere(match func(*domain.SwapCompletionAudit) bool) (*domain.SwapCompletionAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.SwapCompletionAudit
	for _, a := range s.data {
		if !match(a) {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return cloneAudit(latest), nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// cloneAudit deep-copies an audit row so callers never alias store-owned
// slices or validation results.
func cloneAudit(a *domain.SwapCompletionAudit) *domain.SwapCompletionAudit {
	dup := *a
	dup.AffectedSwaps = append([]string(nil), a.AffectedSwaps...)
	dup.AffectedBookings = append([]string(nil), a.AffectedBookings...)
	dup.DatabaseTxID = clonePtr(a.DatabaseTxID)
	dup.LedgerTxID = clonePtr(a.LedgerTxID)
	dup.LedgerTimestamp = clonePtr(a.LedgerTimestamp)
	dup.ErrorDetails = clonePtr(a.ErrorDetails)
	dup.CompletedAt = clonePtr(a.CompletedAt)
	dup.PreValidation = cloneValidation(a.PreValidation)
	dup.PostValidation = cloneValidation(a.PostValidation)
	dup.AppliedChanges = cloneMutation(a.AppliedChanges)
	return &dup
}

func cloneValidation(r *domain.CompletionValidationResult) *domain.CompletionValidationResult {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Errors = append([]string(nil), r.Errors...)
	dup.Warnings = append([]string(nil), r.Warnings...)
	dup.InconsistentEntities = append([]domain.EntityMismatch(nil), r.InconsistentEntities...)
	dup.CorrectionAttempts = append([]domain.CorrectionAttempt(nil), r.CorrectionAttempts...)
	return &dup
}

func cloneMutation(m *domain.CompletionMutation) *domain.CompletionMutation {
	if m == nil {
		return nil
	}
	dup := *m
	dup.Swaps = append([]domain.SwapChange(nil), m.Swaps...)
	dup.Bookings = make([]domain.BookingChange, len(m.Bookings))
	for i, b := range m.Bookings {
		b.NewOwnerID = clonePtr(b.NewOwnerID)
		dup.Bookings[i] = b
	}
	return &dup
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ storage.CompletionAuditStore = (*AuditStore)(nil)
