package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Booking represents a listed booking that can change hands through a swap.
// Corresponds to bookings table in PostgreSQL.
type Booking struct {
	ID         string              // UUID primary key
	OwnerID    string              // current owning user
	Status     string              // see BookingStatus* constants
	NewOwnerID *string             // set once ownership has been transferred
	Price      decimal.NullDecimal // listed cash price, unset when not for sale
	SwappedAt  *time.Time          // when ownership transferred, nil otherwise
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Booking status constants
const (
	BookingStatusAvailable = "available"
	BookingStatusSwapping  = "swapping"
	BookingStatusSwapped   = "swapped"
	BookingStatusCancelled = "cancelled"
)

// BookingStatusTerminal reports whether status is one of the terminal booking states.
func BookingStatusTerminal(status string) bool {
	return status == BookingStatusSwapped || status == BookingStatusCancelled
}
