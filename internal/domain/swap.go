package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Swap represents a listed intent to exchange a booking.
// Corresponds to swaps table in PostgreSQL.
type Swap struct {
	ID         string              // UUID primary key
	BookingID  string              // FK to bookings
	ProposerID string              // user who listed the swap
	OwnerID    string              // current owner of the underlying booking
	ProposalID *string             // accepted proposal, nil until matched
	Status     string              // see SwapStatus* constants
	CashOffer  decimal.NullDecimal // accepted cash offer amount, unset for pure exchanges
	ExpiresAt  time.Time           // deadline after which the listing lapses
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Swap status constants
const (
	SwapStatusPending   = "pending"
	SwapStatusActive    = "active"
	SwapStatusMatched   = "matched"
	SwapStatusCompleted = "completed"
	SwapStatusExpired   = "expired"
	SwapStatusCancelled = "cancelled"
)

// SwapStatusTerminal reports whether status is one of the terminal swap states.
func SwapStatusTerminal(status string) bool {
	switch status {
	case SwapStatusCompleted, SwapStatusExpired, SwapStatusCancelled:
		return true
	}
	return false
}

// PastDeadline reports whether the swap's expiration deadline has elapsed at now.
func (s *Swap) PastDeadline(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
