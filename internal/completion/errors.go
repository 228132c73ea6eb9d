package completion

import "errors"

// Named errors returned by the orchestrator's admission and legality checks.
var (
	// ErrInvalidRequest means the request shape is unusable: missing
	// proposal id or an unknown completion type.
	ErrInvalidRequest = errors.New("invalid completion request")

	// ErrEmptyEntitySet means the request named no swaps or no bookings.
	ErrEmptyEntitySet = errors.New("empty entity set")

	// ErrDuplicateCompletion means the proposal already has a completed
	// attempt. Completion is one-shot per proposal.
	ErrDuplicateCompletion = errors.New("proposal already completed")

	// ErrPreValidationFailed means pre-validation found blocking errors.
	// The audit row records them; no entity state was touched.
	ErrPreValidationFailed = errors.New("pre-validation failed")

	// ErrRollbackNotAllowed means the audit is not in a status rollback
	// can act on. Only failed and processing attempts qualify.
	ErrRollbackNotAllowed = errors.New("rollback not allowed")

	// ErrLedgerRecorded means the attempt is anchored by a consensus
	// ledger transaction and can never be rolled back.
	ErrLedgerRecorded = errors.New("ledger transaction recorded")

	// ErrResumeNotAllowed means the audit is not a failed attempt with a
	// committed relational transaction and no ledger record, which is the
	// only state resume applies to.
	ErrResumeNotAllowed = errors.New("resume not allowed")
)
