package domain

import "time"

// CompletionEvent is one append-only journal entry emitted as an
// orchestration run moves through its stages. Analytics only; never read
// back for orchestration decisions.
// Corresponds to completion_events table in ClickHouse.
type CompletionEvent struct {
	AuditID    string    // audit row the event belongs to
	ProposalID string    // proposal scope
	Stage      string    // see EventStage* constants
	Status     string    // "ok" | "error"
	Detail     string    // free-form context, error text on failures
	OccurredAt time.Time // event time, UTC
}

// Journal stage constants
const (
	EventStageAdmitted          = "admitted"
	EventStagePreValidated      = "pre_validated"
	EventStageMutationCommitted = "mutation_committed"
	EventStageLedgerRecorded    = "ledger_recorded"
	EventStageCorrected         = "corrected"
	EventStageFinalized         = "finalized"
	EventStageRolledBack        = "rolled_back"
)

// Journal status constants
const (
	EventStatusOK    = "ok"
	EventStatusError = "error"
)
