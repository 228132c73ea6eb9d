package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

const swapColumns = `id, booking_id, proposer_id, owner_id, proposal_id, status, cash_offer, expires_at, created_at, updated_at`

// Insert adds a new swap. Returns ErrDuplicateKey if the id exists.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.Swap) error {
	query := `
		INSERT INTO swaps (
			id, booking_id, proposer_id, owner_id, proposal_id, status, cash_offer, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		swap.ID,
		swap.BookingID,
		swap.ProposerID,
		swap.OwnerID,
		swap.ProposalID,
		swap.Status,
		swap.CashOffer,
		swap.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert swap: %w", err)
	}
	return nil
}

// GetByID retrieves a swap by its ID. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(ctx context.Context, swapID string) (*domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1`

	swap, err := scanSwap(s.pool.QueryRow(ctx, query, swapID))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get swap by id: %w", err)
	}
	return swap, nil
}

// GetByIDs retrieves the swaps for the given ids, ordered as requested.
// Missing ids are simply absent from the result.
func (s *SwapStore) GetByIDs(ctx context.Context, swapIDs []string) ([]*domain.Swap, error) {
	if len(swapIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + swapColumns + `
		FROM swaps
		JOIN unnest($1::text[]) WITH ORDINALITY AS req(id, ord) USING (id)
		ORDER BY req.ord
	`

	rows, err := s.pool.Query(ctx, query, swapIDs)
	if err != nil {
		return nil, fmt.Errorf("get swaps by ids: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// ListExpired retrieves non-terminal swaps whose deadline elapsed at or
// before asOf, ordered by expires_at ASC, at most limit rows.
func (s *SwapStore) ListExpired(ctx context.Context, asOf time.Time, limit int) ([]*domain.Swap, error) {
	query := `
		SELECT ` + swapColumns + `
		FROM swaps
		WHERE expires_at <= $1
		  AND status NOT IN ($2, $3, $4)
		ORDER BY expires_at ASC, id ASC
	`
	args := []any{asOf, domain.SwapStatusCompleted, domain.SwapStatusExpired, domain.SwapStatusCancelled}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expired swaps: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// SetStatus overwrites the status of one swap. Used only for corrective writes.
func (s *SwapStore) SetStatus(ctx context.Context, swapID, status string) error {
	query := `UPDATE swaps SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, swapID, status)
	if err != nil {
		return fmt.Errorf("set swap status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanSwap scans a single row into a Swap.
func scanSwap(row pgx.Row) (*domain.Swap, error) {
	var swap domain.Swap
	err := row.Scan(
		&swap.ID,
		&swap.BookingID,
		&swap.ProposerID,
		&swap.OwnerID,
		&swap.ProposalID,
		&swap.Status,
		&swap.CashOffer,
		&swap.ExpiresAt,
		&swap.CreatedAt,
		&swap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &swap, nil
}

// scanSwaps scans multiple rows into a slice of Swap.
func scanSwaps(rows pgx.Rows) ([]*domain.Swap, error) {
	var swaps []*domain.Swap

	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		swaps = append(swaps, swap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}

	return swaps, nil
}
