package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// Validator performs read-only consistency checks around a completion
// attempt. Pre-validation judges the entity state the orchestrator loaded
// before any write; post-validation re-reads committed rows against the
// mutation's intended states. Neither mode touches entity state.
type Validator struct {
	swaps    storage.SwapStore
	bookings storage.BookingStore
	now      func() time.Time
}

// NewValidator creates a Validator over the given entity stores.
func NewValidator(swaps storage.SwapStore, bookings storage.BookingStore) *Validator {
	return &Validator{
		swaps:    swaps,
		bookings: bookings,
		now:      time.Now,
	}
}

// ValidatePre checks that the loaded entities can settle the request.
// Blocking errors mark the result invalid; warnings record anomalies that do
// not stop the completion.
func (v *Validator) ValidatePre(req *domain.CompletionRequest, swaps []*domain.Swap, bookings []*domain.Booking) *domain.CompletionValidationResult {
	result := &domain.CompletionValidationResult{IsValid: true}
	now := v.now()

	swapsByID := make(map[string]*domain.Swap, len(swaps))
	for _, s := range swaps {
		swapsByID[s.ID] = s
	}
	bookingsByID := make(map[string]*domain.Booking, len(bookings))
	for _, b := range bookings {
		bookingsByID[b.ID] = b
	}
	swapsByBooking := make(map[string]*domain.Swap, len(swaps))
	for _, s := range swaps {
		swapsByBooking[s.BookingID] = s
	}

	for _, id := range req.SwapIDs {
		s, ok := swapsByID[id]
		if !ok {
			result.AddError(fmt.Sprintf("swap %s not found", id))
			continue
		}
		if s.ProposalID != nil && *s.ProposalID != req.ProposalID {
			result.AddError(fmt.Sprintf("swap %s belongs to proposal %s", id, *s.ProposalID))
		}
		if req.SystemInitiated() {
			if domain.SwapStatusTerminal(s.Status) {
				result.AddError(fmt.Sprintf("swap %s is already %s", id, s.Status))
			} else if !s.PastDeadline(now) {
				result.AddError(fmt.Sprintf("swap %s has not reached its deadline", id))
			}
			continue
		}
		if s.Status != domain.SwapStatusMatched {
			result.AddError(fmt.Sprintf("swap %s is %s, not matched", id, s.Status))
		}
		if s.PastDeadline(now) {
			result.AddWarning(fmt.Sprintf("swap %s is past its deadline", id))
		}
	}

	for _, id := range req.BookingIDs {
		b, ok := bookingsByID[id]
		if !ok {
			result.AddError(fmt.Sprintf("booking %s not found", id))
			continue
		}

		if req.SystemInitiated() {
			if domain.BookingStatusTerminal(b.Status) {
				result.AddError(fmt.Sprintf("booking %s is already %s", id, b.Status))
			}
		} else if b.Status != domain.BookingStatusSwapping {
			result.AddError(fmt.Sprintf("booking %s is %s, not swapping", id, b.Status))
		}

		// The swap holding this booking names the owner the booking must
		// still belong to.
		s, attached := swapsByBooking[id]
		if !attached {
			result.AddError(fmt.Sprintf("booking %s is not attached to any swap in the request", id))
		} else if s.OwnerID != b.OwnerID {
			result.AddError(fmt.Sprintf("booking %s: owner %s does not match swap owner %s", id, b.OwnerID, s.OwnerID))
		}

		if !req.SystemInitiated() && b.NewOwnerID != nil {
			result.AddWarning(fmt.Sprintf("booking %s carries a leftover ownership transfer marker", id))
		}
		if req.CompletionType == domain.CompletionTypeCashPayment && !b.Price.Valid {
			result.AddWarning(fmt.Sprintf("booking %s has no listed price", id))
		}
	}

	if !req.SystemInitiated() && req.CompletionType == domain.CompletionTypeBookingExchange {
		v.checkExchangeShape(req, bookings, result)
	}

	return result
}

// checkExchangeShape enforces the two-sided form of a booking exchange:
// exactly two swaps, two bookings, and two distinct owners.
func (v *Validator) checkExchangeShape(req *domain.CompletionRequest, bookings []*domain.Booking, result *domain.CompletionValidationResult) {
	if len(req.SwapIDs) != 2 {
		result.AddError(fmt.Sprintf("booking exchange requires exactly 2 swaps, got %d", len(req.SwapIDs)))
	}
	if len(req.BookingIDs) != 2 {
		result.AddError(fmt.Sprintf("booking exchange requires exactly 2 bookings, got %d", len(req.BookingIDs)))
	}
	if len(bookings) == 2 && bookings[0].OwnerID == bookings[1].OwnerID {
		result.AddError(fmt.Sprintf("booking exchange requires two distinct owners, both bookings belong to %s", bookings[0].OwnerID))
	}
}

// ValidatePost re-reads every entity the mutation touched and compares its
// actual status against the intended one. Divergences are recorded as
// mismatches for the correction engine.
func (v *Validator) ValidatePost(ctx context.Context, m *domain.CompletionMutation) *domain.CompletionValidationResult {
	result := &domain.CompletionValidationResult{IsValid: true}

	for _, c := range m.Swaps {
		s, err := v.swaps.GetByID(ctx, c.SwapID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			result.AddMismatch(domain.EntityMismatch{
				EntityType:     domain.EntityTypeSwap,
				EntityID:       c.SwapID,
				ExpectedStatus: c.ToStatus,
				ActualStatus:   "missing",
			})
		case err != nil:
			result.AddError(fmt.Sprintf("re-read swap %s: %v", c.SwapID, err))
		case s.Status != c.ToStatus:
			result.AddMismatch(domain.EntityMismatch{
				EntityType:     domain.EntityTypeSwap,
				EntityID:       c.SwapID,
				ExpectedStatus: c.ToStatus,
				ActualStatus:   s.Status,
			})
		}
	}

	for _, c := range m.Bookings {
		b, err := v.bookings.GetByID(ctx, c.BookingID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			result.AddMismatch(domain.EntityMismatch{
				EntityType:     domain.EntityTypeBooking,
				EntityID:       c.BookingID,
				ExpectedStatus: c.ToStatus,
				ActualStatus:   "missing",
			})
		case err != nil:
			result.AddError(fmt.Sprintf("re-read booking %s: %v", c.BookingID, err))
		case b.Status != c.ToStatus:
			result.AddMismatch(domain.EntityMismatch{
				EntityType:     domain.EntityTypeBooking,
				EntityID:       c.BookingID,
				ExpectedStatus: c.ToStatus,
				ActualStatus:   b.Status,
			})
		}
	}

	return result
}
