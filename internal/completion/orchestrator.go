// Package completion orchestrates the settlement of accepted swap proposals.
// A run moves through admission, pre-validation, one relational transaction,
// consensus ledger recording, post-validation and bounded correction, and
// always ends in a terminal audit status. The relational store is the single
// source of truth; the ledger and the event journal are append-only sinks.
package completion

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/idhash"
	"github.com/bushboy/bookingswap-sub010/internal/ledger"
	"github.com/bushboy/bookingswap-sub010/internal/observability"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// Ledger submission retry policy. The recorder performs a single submission
// per call; the bounded retry loop lives here.
const (
	DefaultLedgerAttempts = 3
	DefaultLedgerBackoff  = 500 * time.Millisecond
)

// Orchestrator drives completion attempts end to end.
type Orchestrator struct {
	// Stores
	auditStore    storage.CompletionAuditStore
	swapStore     storage.SwapStore
	bookingStore  storage.BookingStore
	exchangeStore storage.ExchangeStore
	eventStore    storage.CompletionEventStore

	// Collaborators
	recorder  ledger.Recorder
	validator *Validator
	corrector *Corrector

	// Ledger retry policy
	ledgerAttempts int
	ledgerBackoff  time.Duration

	// Options
	locks   *proposalLocks
	logger  *log.Logger
	verbose bool
	now     func() time.Time
}

// Options for creating an Orchestrator.
type Options struct {
	// Required stores
	AuditStore    storage.CompletionAuditStore
	SwapStore     storage.SwapStore
	BookingStore  storage.BookingStore
	ExchangeStore storage.ExchangeStore

	// Journal sink; nil disables journaling
	EventStore storage.CompletionEventStore

	// Consensus ledger boundary
	Recorder ledger.Recorder

	// Ledger retry overrides; zero values take the defaults
	LedgerAttempts int
	LedgerBackoff  time.Duration

	// Logging
	Logger  *log.Logger
	Verbose bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	attempts := opts.LedgerAttempts
	if attempts <= 0 {
		attempts = DefaultLedgerAttempts
	}
	backoff := opts.LedgerBackoff
	if backoff <= 0 {
		backoff = DefaultLedgerBackoff
	}

	return &Orchestrator{
		auditStore:     opts.AuditStore,
		swapStore:      opts.SwapStore,
		bookingStore:   opts.BookingStore,
		exchangeStore:  opts.ExchangeStore,
		eventStore:     opts.EventStore,
		recorder:       opts.Recorder,
		validator:      NewValidator(opts.SwapStore, opts.BookingStore),
		corrector:      NewCorrector(opts.SwapStore, opts.BookingStore, logger),
		ledgerAttempts: attempts,
		ledgerBackoff:  backoff,
		locks:          newProposalLocks(),
		logger:         logger,
		verbose:        opts.Verbose,
		now:            time.Now,
	}
}

// Complete runs one completion attempt for the request.
// Steps:
//  1. Admission: shape checks and the one-completion-per-proposal guard
//  2. Pre-validation over the loaded entities
//  3. One all-or-nothing relational transaction
//  4. Consensus ledger recording with bounded retry
//  5. Post-validation against the intended states
//  6. Bounded correction of any divergence, then a terminal audit status
//
// The returned audit carries the full attempt record, including on failure.
// A ledger failure never rolls back the relational commit.
func (o *Orchestrator) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.SwapCompletionAudit, error) {
	if req == nil || req.ProposalID == "" || !req.CompletionType.IsValid() {
		return nil, ErrInvalidRequest
	}
	if len(req.SwapIDs) == 0 || len(req.BookingIDs) == 0 {
		return nil, ErrEmptyEntitySet
	}

	o.locks.acquire(req.ProposalID)
	defer o.locks.release(req.ProposalID)

	// Re-evaluate admission under the guard: a concurrent attempt may have
	// completed the proposal while this one was queued.
	done, err := o.auditStore.HasCompleted(ctx, req.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("check completion history: %w", err)
	}
	if done {
		return nil, ErrDuplicateCompletion
	}

	now := o.now().UTC()
	audit := &domain.SwapCompletionAudit{
		ID:               uuid.NewString(),
		ProposalID:       req.ProposalID,
		CompletionType:   req.CompletionType,
		InitiatedBy:      req.InitiatedBy,
		Status:           domain.AuditStatusInitiated,
		AffectedSwaps:    append([]string(nil), req.SwapIDs...),
		AffectedBookings: append([]string(nil), req.BookingIDs...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := o.auditStore.Insert(ctx, audit); err != nil {
		return nil, fmt.Errorf("insert audit: %w", err)
	}
	o.log("attempt %s: admitted proposal %s (%s)", audit.ID, req.ProposalID, req.CompletionType)
	o.journal(ctx, audit, domain.EventStageAdmitted, domain.EventStatusOK, idhash.ComputeRequestFingerprint(req))

	swaps, err := o.swapStore.GetByIDs(ctx, req.SwapIDs)
	if err != nil {
		return o.failBeforeCommit(ctx, audit, fmt.Errorf("load swaps: %w", err))
	}
	bookings, err := o.bookingStore.GetByIDs(ctx, req.BookingIDs)
	if err != nil {
		return o.failBeforeCommit(ctx, audit, fmt.Errorf("load bookings: %w", err))
	}

	pre := o.validator.ValidatePre(req, swaps, bookings)
	audit.PreValidation = pre
	for _, w := range pre.Warnings {
		o.log("attempt %s: warning: %s", audit.ID, w)
	}
	if !pre.IsValid {
		detail := "pre-validation failed: " + strings.Join(pre.Errors, "; ")
		o.journal(ctx, audit, domain.EventStagePreValidated, domain.EventStatusError, detail)
		o.finalize(ctx, audit, domain.AuditStatusFailed, &detail)
		return audit, ErrPreValidationFailed
	}
	o.journal(ctx, audit, domain.EventStagePreValidated, domain.EventStatusOK, "")

	mutation := buildMutation(req, swaps, bookings, o.now().UTC())
	txID, err := o.exchangeStore.Apply(ctx, mutation)
	if err != nil {
		detail := "apply mutation: " + err.Error()
		o.journal(ctx, audit, domain.EventStageMutationCommitted, domain.EventStatusError, detail)
		o.finalize(ctx, audit, domain.AuditStatusFailed, &detail)
		return audit, fmt.Errorf("apply mutation: %w", err)
	}

	// Once the mutation is committed the run must reach a terminal status;
	// caller cancellation no longer applies.
	ctx = context.WithoutCancel(ctx)

	audit.DatabaseTxID = &txID
	audit.AppliedChanges = mutation
	audit.Status = domain.AuditStatusProcessing
	if err := o.persist(ctx, audit); err != nil {
		return audit, fmt.Errorf("record committed transaction: %w", err)
	}
	o.journal(ctx, audit, domain.EventStageMutationCommitted, domain.EventStatusOK, txID)
	o.log("attempt %s: mutation committed, tx %s", audit.ID, txID)

	return o.finishLedger(ctx, audit, req.CashAmount, mutation)
}

// Rollback reverts a failed or stuck attempt's committed changes and retires
// the audit row as rolled_back. Refused once a consensus ledger transaction
// exists: an anchored completion can only be repaired forward.
func (o *Orchestrator) Rollback(ctx context.Context, auditID string) (*domain.SwapCompletionAudit, error) {
	audit, err := o.auditStore.GetByID(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}

	o.locks.acquire(audit.ProposalID)
	defer o.locks.release(audit.ProposalID)

	// Re-read under the guard; a concurrent run may have advanced the row.
	audit, err = o.auditStore.GetByID(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}

	if audit.LedgerRecorded() {
		return nil, ErrLedgerRecorded
	}
	switch audit.Status {
	case domain.AuditStatusFailed, domain.AuditStatusProcessing:
	default:
		return nil, fmt.Errorf("%w: audit is %s", ErrRollbackNotAllowed, audit.Status)
	}

	detail := "no committed changes"
	if audit.AppliedChanges != nil {
		txID, err := o.exchangeStore.Revert(ctx, audit.AppliedChanges)
		if err != nil {
			return audit, fmt.Errorf("revert mutation: %w", err)
		}
		detail = "revert tx " + txID
		o.log("attempt %s: mutation reverted, tx %s", audit.ID, txID)
	}

	now := o.now().UTC()
	audit.Status = domain.AuditStatusRolledBack
	audit.CompletedAt = &now
	audit.UpdatedAt = now
	if err := o.auditStore.Update(ctx, audit); err != nil {
		return audit, fmt.Errorf("finalize rollback: %w", err)
	}
	o.journal(ctx, audit, domain.EventStageRolledBack, domain.EventStatusOK, detail)
	observability.RecordRollback()
	o.log("attempt %s: rolled back", audit.ID)
	return audit, nil
}

// ResumeLedger finishes a failed attempt whose relational transaction
// committed but whose ledger recording never succeeded. It re-runs ledger
// recording, post-validation and correction on the same audit row; the
// attempt is being finished, not repeated.
func (o *Orchestrator) ResumeLedger(ctx context.Context, auditID string) (*domain.SwapCompletionAudit, error) {
	audit, err := o.auditStore.GetByID(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}

	o.locks.acquire(audit.ProposalID)
	defer o.locks.release(audit.ProposalID)

	audit, err = o.auditStore.GetByID(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}

	if audit.Status != domain.AuditStatusFailed || audit.DatabaseTxID == nil || audit.LedgerRecorded() {
		return nil, ErrResumeNotAllowed
	}
	if audit.AppliedChanges == nil {
		return nil, fmt.Errorf("%w: no recorded change set", ErrResumeNotAllowed)
	}

	audit.Status = domain.AuditStatusProcessing
	audit.ErrorDetails = nil
	audit.CompletedAt = nil
	if err := o.persist(ctx, audit); err != nil {
		return audit, fmt.Errorf("reopen audit: %w", err)
	}
	o.log("attempt %s: resuming ledger recording", audit.ID)
	observability.RecordResume()

	ctx = context.WithoutCancel(ctx)

	cash, err := o.cashAmountFor(ctx, audit)
	if err != nil {
		detail := err.Error()
		o.finalize(ctx, audit, domain.AuditStatusFailed, &detail)
		return audit, err
	}

	return o.finishLedger(ctx, audit, cash, audit.AppliedChanges)
}

// finishLedger runs the back half of a completion: ledger recording,
// post-validation, correction, terminal status.
func (o *Orchestrator) finishLedger(ctx context.Context, audit *domain.SwapCompletionAudit, cash decimal.NullDecimal, mutation *domain.CompletionMutation) (*domain.SwapCompletionAudit, error) {
	result, err := o.recordLedger(ctx, audit, cash)
	if err != nil {
		detail := "ledger record: " + err.Error()
		o.finalize(ctx, audit, domain.AuditStatusFailed, &detail)
		return audit, fmt.Errorf("ledger record: %w", err)
	}

	audit.LedgerTxID = &result.TransactionID
	ts := result.ConsensusTimestamp
	audit.LedgerTimestamp = &ts
	if err := o.persist(ctx, audit); err != nil {
		o.logger.Printf("[completion] attempt %s: record ledger transaction: %v", audit.ID, err)
	}
	o.journal(ctx, audit, domain.EventStageLedgerRecorded, domain.EventStatusOK, result.TransactionID)
	o.log("attempt %s: ledger transaction %s", audit.ID, result.TransactionID)

	post := o.validator.ValidatePost(ctx, mutation)
	audit.PostValidation = post
	if len(post.InconsistentEntities) > 0 {
		o.log("attempt %s: %d inconsistent entities after commit", audit.ID, len(post.InconsistentEntities))
		post.CorrectionAttempts = o.corrector.Correct(ctx, post.InconsistentEntities)
		eventStatus := domain.EventStatusOK
		if !post.FullyCorrected() {
			eventStatus = domain.EventStatusError
		}
		o.journal(ctx, audit, domain.EventStageCorrected, eventStatus, fmt.Sprintf("%d corrective writes", len(post.CorrectionAttempts)))
	}

	if settled(post) {
		o.finalize(ctx, audit, domain.AuditStatusCompleted, nil)
		return audit, nil
	}

	detail := "post-validation failed: " + strings.Join(post.Errors, "; ")
	o.finalize(ctx, audit, domain.AuditStatusFailed, &detail)
	return audit, fmt.Errorf("post-validation failed")
}

// recordLedger submits the attempt to the consensus ledger. Transient
// failures are retried up to the attempt budget with doubling backoff;
// permanent failures surface immediately. Every attempt is journaled.
func (o *Orchestrator) recordLedger(ctx context.Context, audit *domain.SwapCompletionAudit, cash decimal.NullDecimal) (*ledger.RecordResult, error) {
	req := &ledger.RecordRequest{
		AuditID:        audit.ID,
		ProposalID:     audit.ProposalID,
		CompletionType: audit.CompletionType.String(),
		SwapIDs:        audit.AffectedSwaps,
		BookingIDs:     audit.AffectedBookings,
		CashAmount:     cash,
	}

	delay := o.ledgerBackoff
	var lastErr error

	for attempt := 1; attempt <= o.ledgerAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		result, err := o.recorder.Record(ctx, req)
		if err == nil {
			observability.RecordLedgerAttempt("sealed")
			return result, nil
		}
		lastErr = err
		o.journal(ctx, audit, domain.EventStageLedgerRecorded, domain.EventStatusError, fmt.Sprintf("attempt %d: %v", attempt, err))

		if !ledger.IsTransient(err) {
			observability.RecordLedgerAttempt("permanent")
			return nil, err
		}
		observability.RecordLedgerAttempt("transient")
		o.log("attempt %s: ledger attempt %d/%d failed: %v", audit.ID, attempt, o.ledgerAttempts, err)
	}

	return nil, fmt.Errorf("%d attempts exhausted: %w", o.ledgerAttempts, lastErr)
}

// cashAmountFor recovers the settled cash amount of a cash payment attempt
// from the accepted offer on its swaps. Exchange attempts carry none.
func (o *Orchestrator) cashAmountFor(ctx context.Context, audit *domain.SwapCompletionAudit) (decimal.NullDecimal, error) {
	if audit.CompletionType != domain.CompletionTypeCashPayment {
		return decimal.NullDecimal{}, nil
	}
	swaps, err := o.swapStore.GetByIDs(ctx, audit.AffectedSwaps)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("load swaps: %w", err)
	}
	for _, s := range swaps {
		if s.CashOffer.Valid {
			return s.CashOffer, nil
		}
	}
	return decimal.NullDecimal{}, nil
}

// failBeforeCommit retires an attempt that broke before any entity write.
func (o *Orchestrator) failBeforeCommit(ctx context.Context, audit *domain.SwapCompletionAudit, cause error) (*domain.SwapCompletionAudit, error) {
	detail := cause.Error()
	o.finalize(ctx, audit, domain.AuditStatusFailed, &detail)
	return audit, cause
}

// finalize stamps a terminal status on the audit row and journals it.
// A failed stamp write is logged; the returned audit still carries the
// outcome in memory.
func (o *Orchestrator) finalize(ctx context.Context, audit *domain.SwapCompletionAudit, status string, errDetail *string) {
	now := o.now().UTC()
	audit.Status = status
	audit.ErrorDetails = errDetail
	audit.CompletedAt = &now
	audit.UpdatedAt = now
	if err := o.auditStore.Update(ctx, audit); err != nil {
		o.logger.Printf("[completion] attempt %s: finalize to %s: %v", audit.ID, status, err)
	}

	eventStatus := domain.EventStatusOK
	if status == domain.AuditStatusFailed {
		eventStatus = domain.EventStatusError
	}
	o.journal(ctx, audit, domain.EventStageFinalized, eventStatus, status)
	observability.RecordCompletion(audit.CompletionType.String(), status, now.Sub(audit.CreatedAt).Seconds())
	o.log("attempt %s: %s", audit.ID, status)
}

// settled reports whether post-validation ended clean: either no divergence,
// or every divergence was an entity mismatch and all of them were corrected.
func settled(post *domain.CompletionValidationResult) bool {
	if post.IsValid {
		return true
	}
	if len(post.Errors) != len(post.InconsistentEntities) {
		return false
	}
	return post.FullyCorrected()
}

// persist saves the audit's in-flight progress.
func (o *Orchestrator) persist(ctx context.Context, audit *domain.SwapCompletionAudit) error {
	audit.UpdatedAt = o.now().UTC()
	return o.auditStore.Update(ctx, audit)
}

// journal appends one event to the completion journal. Journal failures are
// logged and swallowed: the journal is an analytics sink, never a
// precondition for finishing a run.
func (o *Orchestrator) journal(ctx context.Context, audit *domain.SwapCompletionAudit, stage, status, detail string) {
	if o.eventStore == nil {
		return
	}
	e := &domain.CompletionEvent{
		AuditID:    audit.ID,
		ProposalID: audit.ProposalID,
		Stage:      stage,
		Status:     status,
		Detail:     detail,
		OccurredAt: o.now().UTC(),
	}
	if err := o.eventStore.Insert(ctx, e); err != nil {
		o.logger.Printf("[completion] attempt %s: journal %s: %v", audit.ID, stage, err)
	}
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		o.logger.Printf("[completion] "+format, args...)
	}
}
