package completion

import (
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
)

// buildMutation derives the relational change set for an admitted request
// from the entity state read at pre-validation. The FromStatus guards carry
// that read into the transaction: if any row moved in between, the apply
// fails with ErrStaleState instead of overwriting a concurrent change.
//
// Booking exchanges move swaps matched→completed and bookings
// swapping→swapped, crossing ownership between the two bookings. Cash
// payments make the same status transitions without reassignment. System
// expirations move swaps to expired and return bookings to available,
// dropping any leftover transfer marker.
func buildMutation(req *domain.CompletionRequest, swaps []*domain.Swap, bookings []*domain.Booking, now time.Time) *domain.CompletionMutation {
	m := &domain.CompletionMutation{
		ProposalID: req.ProposalID,
		SwappedAt:  now,
	}

	swapTarget := domain.SwapStatusCompleted
	bookingTarget := domain.BookingStatusSwapped
	if req.SystemInitiated() {
		swapTarget = domain.SwapStatusExpired
		bookingTarget = domain.BookingStatusAvailable
	}

	for _, s := range swaps {
		m.Swaps = append(m.Swaps, domain.SwapChange{
			SwapID:     s.ID,
			FromStatus: s.Status,
			ToStatus:   swapTarget,
		})
	}

	for i, b := range bookings {
		change := domain.BookingChange{
			BookingID:  b.ID,
			FromStatus: b.Status,
			ToStatus:   bookingTarget,
		}
		switch {
		case req.SystemInitiated():
			change.ClearTransfer = true
		case req.CompletionType == domain.CompletionTypeBookingExchange:
			// Each booking goes to the owner of the other one.
			owner := bookings[(i+1)%len(bookings)].OwnerID
			change.NewOwnerID = &owner
		}
		m.Bookings = append(m.Bookings, change)
	}

	return m
}
