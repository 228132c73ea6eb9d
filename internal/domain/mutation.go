package domain

import "time"

// SwapChange is one intended swap status transition inside a completion
// mutation. FromStatus is a guard: the write is refused if the row is no
// longer in that status.
type SwapChange struct {
	SwapID     string `json:"swap_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// BookingChange is one intended booking transition. NewOwnerID non-nil
// reassigns ownership and stamps SwappedAt; ClearTransfer drops a leftover
// transfer marker (expiration path).
type BookingChange struct {
	BookingID     string  `json:"booking_id"`
	FromStatus    string  `json:"from_status"`
	ToStatus      string  `json:"to_status"`
	NewOwnerID    *string `json:"new_owner_id,omitempty"`
	ClearTransfer bool    `json:"clear_transfer,omitempty"`
}

// CompletionMutation describes the full set of relational writes for one
// completion attempt. Applied all-or-nothing by the exchange store. JSON tags
// define the shape persisted in the audit row's applied_changes column, which
// is what makes an attempt revertible after the fact.
type CompletionMutation struct {
	ProposalID string          `json:"proposal_id"`
	Swaps      []SwapChange    `json:"swaps"`
	Bookings   []BookingChange `json:"bookings"`
	SwappedAt  time.Time       `json:"swapped_at"` // transfer stamp for reassigned bookings
}

// SwapIDs returns the ids of every swap the mutation touches, in order.
func (m *CompletionMutation) SwapIDs() []string {
	ids := make([]string, len(m.Swaps))
	for i, c := range m.Swaps {
		ids[i] = c.SwapID
	}
	return ids
}

// BookingIDs returns the ids of every booking the mutation touches, in order.
func (m *CompletionMutation) BookingIDs() []string {
	ids := make([]string, len(m.Bookings))
	for i, c := range m.Bookings {
		ids[i] = c.BookingID
	}
	return ids
}

// SwapInfos derives caller-facing summaries of the swap transitions.
func (m *CompletionMutation) SwapInfos() []CompletedSwapInfo {
	infos := make([]CompletedSwapInfo, len(m.Swaps))
	for i, c := range m.Swaps {
		infos[i] = CompletedSwapInfo{
			SwapID:         c.SwapID,
			PreviousStatus: c.FromStatus,
			NewStatus:      c.ToStatus,
		}
	}
	return infos
}

// BookingInfos derives caller-facing summaries of the booking transitions.
func (m *CompletionMutation) BookingInfos() []CompletedBookingInfo {
	infos := make([]CompletedBookingInfo, len(m.Bookings))
	for i, c := range m.Bookings {
		info := CompletedBookingInfo{
			BookingID:      c.BookingID,
			PreviousStatus: c.FromStatus,
			NewStatus:      c.ToStatus,
			NewOwnerID:     c.NewOwnerID,
		}
		if c.NewOwnerID != nil {
			at := m.SwappedAt
			info.SwappedAt = &at
		}
		infos[i] = info
	}
	return infos
}
