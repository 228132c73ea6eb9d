package storage

import (
	"context"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
)

// SwapStore provides access to swaps storage.
type SwapStore interface {
	// Insert adds a new swap. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, s *domain.Swap) error

	// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, swapID string) (*domain.Swap, error)

	// GetByIDs retrieves the swaps for the given ids, ordered as requested.
	// Missing ids are simply absent from the result, not an error.
	GetByIDs(ctx context.Context, swapIDs []string) ([]*domain.Swap, error)

	// ListExpired retrieves non-terminal swaps whose deadline elapsed at or
	// before asOf, ordered by expires_at ASC, at most limit rows.
	ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Swap, error)

	// SetStatus overwrites the status of one swap. Returns ErrNotFound if
	// the swap does not exist. Used only for corrective writes.
	SetStatus(ctx context.Context, swapID, status string) error
}

// BookingStore provides access to bookings storage.
type BookingStore interface {
	// Insert adds a new booking. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, b *domain.Booking) error

	// GetByID retrieves a booking by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, bookingID string) (*domain.Booking, error)

	// GetByIDs retrieves the bookings for the given ids, ordered as requested.
	// Missing ids are simply absent from the result, not an error.
	GetByIDs(ctx context.Context, bookingIDs []string) ([]*domain.Booking, error)

	// SetStatus overwrites the status of one booking. Returns ErrNotFound if
	// the booking does not exist. Used only for corrective writes.
	SetStatus(ctx context.Context, bookingID, status string) error
}

// ExchangeStore executes the multi-entity relational transaction of a
// completion attempt. All writes in a mutation commit or none do.
type ExchangeStore interface {
	// Apply commits every change in the mutation inside one transaction with
	// row-level locking and from-status guards. Returns the relational
	// transaction id on commit. Returns ErrStaleState when any guarded row
	// is no longer in its expected status, ErrNotFound when a row is missing.
	Apply(ctx context.Context, m *domain.CompletionMutation) (string, error)

	// Revert undoes a previously applied mutation inside one transaction,
	// restoring each row's prior status and ownership. Returns the
	// transaction id of the revert.
	Revert(ctx context.Context, m *domain.CompletionMutation) (string, error)
}

// CompletionAuditStore provides access to swap_completion_audits storage.
// Rows are append-per-attempt: an in-flight attempt's row progresses through
// its statuses, and a retry after failure inserts a new row for the same
// proposal rather than rewriting history.
type CompletionAuditStore interface {
	// Insert adds a new audit row. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, a *domain.SwapCompletionAudit) error

	// Update overwrites the row of an in-flight attempt.
	// Returns ErrNotFound if the id does not exist.
	Update(ctx context.Context, a *domain.SwapCompletionAudit) error

	// GetByID retrieves an audit row by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, auditID string) (*domain.SwapCompletionAudit, error)

	// GetLatestByProposal retrieves the most recent attempt for a proposal.
	// Returns ErrNotFound if the proposal has no attempts.
	GetLatestByProposal(ctx context.Context, proposalID string) (*domain.SwapCompletionAudit, error)

	// ListByProposal retrieves every attempt for a proposal, ordered by created_at ASC.
	ListByProposal(ctx context.Context, proposalID string) ([]*domain.SwapCompletionAudit, error)

	// GetLatestBySwap retrieves the most recent attempt touching a swap.
	// Returns ErrNotFound if no attempt references it.
	GetLatestBySwap(ctx context.Context, swapID string) (*domain.SwapCompletionAudit, error)

	// GetLatestByBooking retrieves the most recent attempt touching a booking.
	// Returns ErrNotFound if no attempt references it.
	GetLatestByBooking(ctx context.Context, bookingID string) (*domain.SwapCompletionAudit, error)

	// HasCompleted reports whether any attempt for the proposal reached
	// the completed status.
	HasCompleted(ctx context.Context, proposalID string) (bool, error)

	// ListByStatus retrieves attempts in the given status, most recent
	// first, at most limit rows.
	ListByStatus(ctx context.Context, status string, limit int) ([]*domain.SwapCompletionAudit, error)
}

// CompletionEventStore provides access to the completion_events journal.
type CompletionEventStore interface {
	// Insert appends one journal event.
	Insert(ctx context.Context, e *domain.CompletionEvent) error

	// InsertBulk appends multiple events. Fails the entire batch on error.
	InsertBulk(ctx context.Context, events []*domain.CompletionEvent) error

	// GetByAuditID retrieves all events for an audit, ordered by occurred_at ASC.
	GetByAuditID(ctx context.Context, auditID string) ([]*domain.CompletionEvent, error)

	// ErrorSummary aggregates error events since the given time, grouped by
	// stage, most frequent first.
	ErrorSummary(ctx context.Context, since time.Time) ([]*ErrorSummaryRow, error)
}

// ErrorSummaryRow is one stage's aggregated error count from the journal.
type ErrorSummaryRow struct {
	Stage      string    // journal stage the errors occurred at
	Count      uint64    // error events since the cutoff
	LastSeen   time.Time // most recent occurrence
	LastDetail string    // detail of the most recent occurrence
}

// ScanCheckpoint represents the last completed expiration scan.
type ScanCheckpoint struct {
	LastScanAt   time.Time // when the tick finished
	SwapsScanned int64     // cumulative swaps picked up across all ticks
	ChecksTotal  int64     // cumulative ticks performed
}

// ScanCheckpointStore provides persistence for expiration scanner progress.
// This keeps operational totals visible across restarts.
type ScanCheckpointStore interface {
	// GetCheckpoint returns the last saved checkpoint.
	// Returns ErrNotFound if no scan has been recorded yet.
	GetCheckpoint(ctx context.Context) (*ScanCheckpoint, error)

	// SaveCheckpoint overwrites the checkpoint.
	SaveCheckpoint(ctx context.Context, cp *ScanCheckpoint) error
}
