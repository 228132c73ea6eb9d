package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// AuditStore implements storage.CompletionAuditStore using PostgreSQL.
// Validation results are persisted as JSONB documents.
type AuditStore struct {
	pool *Pool
}

// NewAuditStore creates a new AuditStore.
func NewAuditStore(pool *Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CompletionAuditStore = (*AuditStore)(nil)

const auditColumns = `id, proposal_id, completion_type, initiated_by, status, affected_swaps, affected_bookings,
	database_tx_id, ledger_tx_id, ledger_timestamp, error_details, pre_validation, post_validation, applied_changes,
	created_at, completed_at, updated_at`

// Insert adds a new audit row. Returns ErrDuplicateKey if the id exists.
func (s *AuditStore) Insert(ctx context.Context, a *domain.SwapCompletionAudit) error {
	pre, err := marshalValidation(a.PreValidation)
	if err != nil {
		return fmt.Errorf("marshal pre validation: %w", err)
	}
	post, err := marshalValidation(a.PostValidation)
	if err != nil {
		return fmt.Errorf("marshal post validation: %w", err)
	}
	changes, err := marshalChanges(a.AppliedChanges)
	if err != nil {
		return fmt.Errorf("marshal applied changes: %w", err)
	}

	query := `
		INSERT INTO swap_completion_audits (
			id, proposal_id, completion_type, initiated_by, status, affected_swaps, affected_bookings,
			database_tx_id, ledger_tx_id, ledger_timestamp, error_details, pre_validation, post_validation, applied_changes,
			created_at, completed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err = s.pool.Exec(ctx, query,
		a.ID,
		a.ProposalID,
		a.CompletionType.String(),
		a.InitiatedBy,
		a.Status,
		a.AffectedSwaps,
		a.AffectedBookings,
		a.DatabaseTxID,
		a.LedgerTxID,
		a.LedgerTimestamp,
		a.ErrorDetails,
		pre,
		post,
		changes,
		a.CreatedAt,
		a.CompletedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// Update overwrites the row of an in-flight attempt.
func (s *AuditStore) Update(ctx context.Context, a *domain.SwapCompletionAudit) error {
	pre, err := marshalValidation(a.PreValidation)
	if err != nil {
		return fmt.Errorf("marshal pre validation: %w", err)
	}
	post, err := marshalValidation(a.PostValidation)
	if err != nil {
		return fmt.Errorf("marshal post validation: %w", err)
	}
	changes, err := marshalChanges(a.AppliedChanges)
	if err != nil {
		return fmt.Errorf("marshal applied changes: %w", err)
	}

	query := `
		UPDATE swap_completion_audits SET
			status = $2, affected_swaps = $3, affected_bookings = $4,
			database_tx_id = $5, ledger_tx_id = $6, ledger_timestamp = $7, error_details = $8,
			pre_validation = $9, post_validation = $10, applied_changes = $11,
			completed_at = $12, updated_at = $13
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		a.ID,
		a.Status,
		a.AffectedSwaps,
		a.AffectedBookings,
		a.DatabaseTxID,
		a.LedgerTxID,
		a.LedgerTimestamp,
		a.ErrorDetails,
		pre,
		post,
		changes,
		a.CompletedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update audit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves an audit row by its ID. Returns ErrNotFound if not exists.
func (s *AuditStore) GetByID(ctx context.Context, auditID string) (*domain.SwapCompletionAudit, error) {
	query := `SELECT ` + auditColumns + ` FROM swap_completion_audits WHERE id = $1`
	return s.getOne(ctx, query, auditID)
}

// GetLatestByProposal retrieves the most recent attempt for a proposal.
func (s *AuditStore) GetLatestByProposal(ctx context.Context, proposalID string) (*domain.SwapCompletionAudit, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM swap_completion_audits
		WHERE proposal_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.getOne(ctx, query, proposalID)
}

// ListByProposal retrieves every attempt for a proposal, ordered by created_at ASC.
func (s *AuditStore) ListByProposal(ctx context.Context, proposalID string) ([]*domain.SwapCompletionAudit, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM swap_completion_audits
		WHERE proposal_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.pool.Query(ctx, query, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list audits by proposal: %w", err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

// GetLatestBySwap retrieves the most recent attempt touching a swap.
func (s *AuditStore) GetLatestBySwap(ctx context.Context, swapID string) (*domain.SwapCompletionAudit, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM swap_completion_audits
		WHERE $1 = ANY(affected_swaps)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.getOne(ctx, query, swapID)
}

// GetLatestByBooking retrieves the most recent attempt touching a booking.
func (s *AuditStore) GetLatestByBooking(ctx context.Context, bookingID string) (*domain.SwapCompletionAudit, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM swap_completion_audits
		WHERE $1 = ANY(affected_bookings)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return s.getOne(ctx, query, bookingID)
}

// HasCompleted reports whether any attempt for the proposal reached completed.
func (s *AuditStore) HasCompleted(ctx context.Context, proposalID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM swap_completion_audits
			WHERE proposal_id = $1 AND status = $2
		)
	`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, proposalID, domain.AuditStatusCompleted).Scan(&exists); err != nil {
		return false, fmt.Errorf("check completed audit: %w", err)
	}
	return exists, nil
}

// ListByStatus retrieves attempts in the given status, most recent first.
func (s *AuditStore) ListByStatus(ctx context.Context, status string, limit int) ([]*domain.SwapCompletionAudit, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM swap_completion_audits
		WHERE status = $1
		ORDER BY created_at DESC
	`
	args := []any{status}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audits by status: %w", err)
	}
	defer rows.Close()

	return scanAudits(rows)
}

func (s *AuditStore) getOne(ctx context.Context, query string, arg any) (*domain.SwapCompletionAudit, error) {
	audit, err := scanAudit(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get audit: %w", err)
	}
	return audit, nil
}

// scanAudit scans a single row into a SwapCompletionAudit.
func scanAudit(row pgx.Row) (*domain.SwapCompletionAudit, error) {
	var (
		a                  domain.SwapCompletionAudit
		completionType     string
		pre, post, changes []byte
	)

	err := row.Scan(
		&a.ID,
		&a.ProposalID,
		&completionType,
		&a.InitiatedBy,
		&a.Status,
		&a.AffectedSwaps,
		&a.AffectedBookings,
		&a.DatabaseTxID,
		&a.LedgerTxID,
		&a.LedgerTimestamp,
		&a.ErrorDetails,
		&pre,
		&post,
		&changes,
		&a.CreatedAt,
		&a.CompletedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CompletionType = domain.CompletionType(completionType)
	if a.PreValidation, err = unmarshalValidation(pre); err != nil {
		return nil, fmt.Errorf("unmarshal pre validation: %w", err)
	}
	if a.PostValidation, err = unmarshalValidation(post); err != nil {
		return nil, fmt.Errorf("unmarshal post validation: %w", err)
	}
	if a.AppliedChanges, err = unmarshalChanges(changes); err != nil {
		return nil, fmt.Errorf("unmarshal applied changes: %w", err)
	}
	return &a, nil
}

// scanAudits scans multiple rows into a slice of SwapCompletionAudit.
func scanAudits(rows pgx.Rows) ([]*domain.SwapCompletionAudit, error) {
	var audits []*domain.SwapCompletionAudit

	for rows.Next() {
		audit, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		audits = append(audits, audit)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}

	return audits, nil
}

func marshalValidation(r *domain.CompletionValidationResult) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func unmarshalValidation(data []byte) (*domain.CompletionValidationResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var r domain.CompletionValidationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func marshalChanges(m *domain.CompletionMutation) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalChanges(data []byte) (*domain.CompletionMutation, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m domain.CompletionMutation
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
