package memory

import (
	"context"
	"sync"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// BookingStore is an in-memory implementation of storage.BookingStore.
type BookingStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Booking // keyed by booking id
}

// NewBookingStore creates a new in-memory booking store.
func NewBookingStore() *BookingStore {
	return &BookingStore{
		data: make(map[string]*domain.Booking),
	}
}

// Insert adds a new booking. Returns ErrDuplicateKey if exists.
func (s *BookingStore) Insert(_ context.Context, booking *domain.Booking) error {
	if booking == nil || booking.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[booking.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[booking.ID] = cloneBooking(booking)
	return nil
}

// GetByID retrieves a booking by its ID. Returns ErrNotFound if not exists.
func (s *BookingStore) GetByID(_ context.Context, bookingID string) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, exists := s.data[bookingID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneBooking(booking), nil
}

// GetByIDs retrieves the bookings for the given ids, ordered as requested.
// Missing ids are simply absent from the result.
func (s *BookingStore) GetByIDs(_ context.Context, bookingIDs []string) ([]*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Booking, 0, len(bookingIDs))
	for _, id := range bookingIDs {
		if booking, exists := s.data[id]; exists {
			result = append(result, cloneBooking(booking))
		}
	}
	return result, nil
}

// SetStatus overwrites the status of one booking.
func (s *BookingStore) SetStatus(_ context.Context, bookingID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, exists := s.data[bookingID]
	if !exists {
		return storage.ErrNotFound
	}

	booking.Status = status
	booking.UpdatedAt = time.Now().UTC()
	return nil
}

// cloneBooking copies a booking including its pointer fields, so callers
// never alias store-owned memory.
func cloneBooking(b *domain.Booking) *domain.Booking {
	dup := *b
	if b.NewOwnerID != nil {
		v := *b.NewOwnerID
		dup.NewOwnerID = &v
	}
	if b.SwappedAt != nil {
		v := *b.SwappedAt
		dup.SwappedAt = &v
	}
	return &dup
}

var _ storage.BookingStore = (*BookingStore)(nil)
