package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompletionType represents how a proposal's outcome settles.
type CompletionType string

const (
	CompletionTypeBookingExchange CompletionType = "booking_exchange"
	CompletionTypeCashPayment     CompletionType = "cash_payment"
)

// String returns the string representation of CompletionType.
func (t CompletionType) String() string {
	return string(t)
}

// IsValid checks if the completion type is a valid value.
func (t CompletionType) IsValid() bool {
	return t == CompletionTypeBookingExchange || t == CompletionTypeCashPayment
}

// InitiatedBySystem marks completion requests produced by the expiration
// scanner rather than a user action.
const InitiatedBySystem = "system"

// CompletionRequest is the single admission unit to the completion
// orchestrator. Immutable once created. JSON tags define the queue message
// format for the proposal-acceptance handoff.
type CompletionRequest struct {
	ProposalID     string              `json:"proposal_id"`
	CompletionType CompletionType      `json:"completion_type"` // booking_exchange | cash_payment
	InitiatedBy    string              `json:"initiated_by"`    // user id, or InitiatedBySystem
	SwapIDs        []string            `json:"swap_ids"`        // ordered
	BookingIDs     []string            `json:"booking_ids"`     // ordered
	CashAmount     decimal.NullDecimal `json:"cash_amount"`     // settled amount, cash_payment only
}

// SystemInitiated reports whether the request came from the expiration scanner.
func (r *CompletionRequest) SystemInitiated() bool {
	return r.InitiatedBy == InitiatedBySystem
}

// SwapCompletionAudit is one immutable record of a single completion attempt.
// Retries after a failed attempt create a new row referencing the same
// proposal, never mutate the old one.
// Corresponds to swap_completion_audits table in PostgreSQL.
type SwapCompletionAudit struct {
	ID             string         // UUID primary key
	ProposalID     string         // indexed; all attempts for a proposal share it
	CompletionType CompletionType // booking_exchange | cash_payment
	InitiatedBy    string         // user id, or InitiatedBySystem
	Status         string         // see AuditStatus* constants

	// Affected entity sets, ordered as submitted
	AffectedSwaps    []string
	AffectedBookings []string

	// Outcome
	DatabaseTxID    *string    // relational transaction id, nil until commit
	LedgerTxID      *string    // consensus ledger transaction id, nil until confirmed
	LedgerTimestamp *time.Time // consensus timestamp, nil until confirmed
	ErrorDetails    *string    // populated on failure
	PreValidation   *CompletionValidationResult
	PostValidation  *CompletionValidationResult
	AppliedChanges  *CompletionMutation // committed change set, nil until the relational tx commits

	CreatedAt   time.Time
	CompletedAt *time.Time // terminal stamp, nil while in flight
	UpdatedAt   time.Time
}

// Audit status constants
const (
	AuditStatusInitiated  = "initiated"
	AuditStatusProcessing = "processing"
	AuditStatusCompleted  = "completed"
	AuditStatusFailed     = "failed"
	AuditStatusRolledBack = "rolled_back"
)

// AuditStatusTerminal reports whether status is a terminal audit state.
func AuditStatusTerminal(status string) bool {
	switch status {
	case AuditStatusCompleted, AuditStatusFailed, AuditStatusRolledBack:
		return true
	}
	return false
}

// LedgerRecorded reports whether a consensus ledger transaction was confirmed
// for this attempt. Rollback is refused once this holds.
func (a *SwapCompletionAudit) LedgerRecorded() bool {
	return a.LedgerTxID != nil && *a.LedgerTxID != ""
}

// CompletedSwapInfo summarizes a committed status change for one swap.
// Derived from the applied mutation, never independently stored.
type CompletedSwapInfo struct {
	SwapID         string
	PreviousStatus string
	NewStatus      string
}

// CompletedBookingInfo summarizes a committed status change for one booking.
type CompletedBookingInfo struct {
	BookingID      string
	PreviousStatus string
	NewStatus      string
	NewOwnerID     *string    // set when ownership was reassigned
	SwappedAt      *time.Time // set when the booking changed hands
}
