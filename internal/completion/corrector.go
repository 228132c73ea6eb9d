package completion

import (
	"context"
	"fmt"
	"log"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/observability"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// Corrector repairs entities whose post-validation status diverged from the
// committed mutation. It issues exactly one status write per inconsistent
// entity and never retries: a corrective write that fails is captured on the
// attempt and left for manual replay. Ownership is never touched here.
type Corrector struct {
	swaps    storage.SwapStore
	bookings storage.BookingStore
	logger   *log.Logger
}

// NewCorrector creates a Corrector over the given entity stores.
// A nil logger falls back to the process default.
func NewCorrector(swaps storage.SwapStore, bookings storage.BookingStore, logger *log.Logger) *Corrector {
	if logger == nil {
		logger = log.Default()
	}
	return &Corrector{
		swaps:    swaps,
		bookings: bookings,
		logger:   logger,
	}
}

// Correct applies one corrective status write per mismatch, in order, and
// returns an attempt record for every one of them.
func (c *Corrector) Correct(ctx context.Context, mismatches []domain.EntityMismatch) []domain.CorrectionAttempt {
	attempts := make([]domain.CorrectionAttempt, 0, len(mismatches))

	for _, m := range mismatches {
		attempt := domain.CorrectionAttempt{
			EntityType:     m.EntityType,
			EntityID:       m.EntityID,
			ExpectedStatus: m.ExpectedStatus,
			ActualStatus:   m.ActualStatus,
		}

		var err error
		switch m.EntityType {
		case domain.EntityTypeSwap:
			err = c.swaps.SetStatus(ctx, m.EntityID, m.ExpectedStatus)
		case domain.EntityTypeBooking:
			err = c.bookings.SetStatus(ctx, m.EntityID, m.ExpectedStatus)
		default:
			err = fmt.Errorf("unknown entity type %q", m.EntityType)
		}

		if err != nil {
			msg := err.Error()
			attempt.Error = &msg
			c.logger.Printf("[corrector] %s %s: corrective write failed: %v", m.EntityType, m.EntityID, err)
		} else {
			attempt.Applied = true
			c.logger.Printf("[corrector] %s %s: status corrected %s -> %s", m.EntityType, m.EntityID, m.ActualStatus, m.ExpectedStatus)
		}
		observability.RecordCorrection(m.EntityType, attempt.Applied)

		attempts = append(attempts, attempt)
	}

	return attempts
}
