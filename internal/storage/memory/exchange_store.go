package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// ExchangeStore is an in-memory implementation of storage.ExchangeStore.
// It writes through the memory swap and booking stores while holding both
// store locks, so a mutation is applied all-or-nothing.
type ExchangeStore struct {
	swaps    *SwapStore
	bookings *BookingStore
}

// NewExchangeStore creates an exchange store over the given memory stores.
func NewExchangeStore(swaps *SwapStore, bookings *BookingStore) *ExchangeStore {
	return &ExchangeStore{swaps: swaps, bookings: bookings}
}

// Apply commits every change in the mutation, or none of them. Guards are
// checked in a first pass before any write happens.
func (s *ExchangeStore) Apply(_ context.Context, m *domain.CompletionMutation) (string, error) {
	if m == nil || (len(m.Swaps) == 0 && len(m.Bookings) == 0) {
		return "", storage.ErrInvalidInput
	}

	// Lock order: swaps then bookings, same as Revert.
	s.swaps.mu.Lock()
	defer s.swaps.mu.Unlock()
	s.bookings.mu.Lock()
	defer s.bookings.mu.Unlock()

	// First pass: every row must exist and hold its expected status.
	for _, c := range m.Swaps {
		swap, exists := s.swaps.data[c.SwapID]
		if !exists {
			return "", storage.ErrNotFound
		}
		if swap.Status != c.FromStatus {
			return "", storage.ErrStaleState
		}
	}
	for _, c := range m.Bookings {
		booking, exists := s.bookings.data[c.BookingID]
		if !exists {
			return "", storage.ErrNotFound
		}
		if booking.Status != c.FromStatus {
			return "", storage.ErrStaleState
		}
	}

	// Second pass: write all.
	now := time.Now().UTC()
	for _, c := range m.Swaps {
		swap := s.swaps.data[c.SwapID]
		swap.Status = c.ToStatus
		swap.UpdatedAt = now
	}
	for _, c := range m.Bookings {
		booking := s.bookings.data[c.BookingID]
		booking.Status = c.ToStatus
		if c.NewOwnerID != nil {
			owner := *c.NewOwnerID
			at := m.SwappedAt
			booking.NewOwnerID = &owner
			booking.SwappedAt = &at
		} else if c.ClearTransfer {
			booking.NewOwnerID = nil
			booking.SwappedAt = nil
		}
		booking.UpdatedAt = now
	}

	return uuid.NewString(), nil
}

// Revert restores every row the mutation changed to its prior status and
// clears transfer markers set by Apply. Refused with ErrStaleState when any
// row has since moved past the state the mutation left it in.
func (s *ExchangeStore) Revert(_ context.Context, m *domain.CompletionMutation) (string, error) {
	if m == nil || (len(m.Swaps) == 0 && len(m.Bookings) == 0) {
		return "", storage.ErrInvalidInput
	}

	s.swaps.mu.Lock()
	defer s.swaps.mu.Unlock()
	s.bookings.mu.Lock()
	defer s.bookings.mu.Unlock()

	for _, c := range m.Swaps {
		swap, exists := s.swaps.data[c.SwapID]
		if !exists {
			return "", storage.ErrNotFound
		}
		if swap.Status != c.ToStatus {
			return "", storage.ErrStaleState
		}
	}
	for _, c := range m.Bookings {
		booking, exists := s.bookings.data[c.BookingID]
		if !exists {
			return "", storage.ErrNotFound
		}
		if booking.Status != c.ToStatus {
			return "", storage.ErrStaleState
		}
	}

	now := time.Now().UTC()
	for _, c := range m.Swaps {
		swap := s.swaps.data[c.SwapID]
		swap.Status = c.FromStatus
		swap.UpdatedAt = now
	}
	for _, c := range m.Bookings {
		booking := s.bookings.data[c.BookingID]
		booking.Status = c.FromStatus
		if c.NewOwnerID != nil {
			booking.NewOwnerID = nil
			booking.SwappedAt = nil
		}
		booking.UpdatedAt = now
	}

	return uuid.NewString(), nil
}

var _ storage.ExchangeStore = (*ExchangeStore)(nil)
