package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// ExchangeStore implements storage.ExchangeStore using PostgreSQL.
// A mutation's writes all happen inside one transaction: affected rows are
// locked with SELECT ... FOR UPDATE in deterministic order, from-status
// guards are checked against the locked rows, and only then are the updates
// issued. Any guard failure rolls the whole transaction back.
type ExchangeStore struct {
	pool *Pool
}

// NewExchangeStore creates a new ExchangeStore.
func NewExchangeStore(pool *Pool) *ExchangeStore {
	return &ExchangeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ExchangeStore = (*ExchangeStore)(nil)

// Apply commits every change in the mutation, or none of them.
func (s *ExchangeStore) Apply(ctx context.Context, m *domain.CompletionMutation) (string, error) {
	return s.run(ctx, m, false)
}

// Revert restores every row the mutation changed to its prior state.
// Refused with ErrStaleState when any row has since moved past the state the
// mutation left it in.
func (s *ExchangeStore) Revert(ctx context.Context, m *domain.CompletionMutation) (string, error) {
	return s.run(ctx, m, true)
}

func (s *ExchangeStore) run(ctx context.Context, m *domain.CompletionMutation, revert bool) (string, error) {
	if m == nil || (len(m.Swaps) == 0 && len(m.Bookings) == 0) {
		return "", storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Cross-process guard: one mutation per proposal at a time. Released
	// automatically at commit or rollback.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, m.ProposalID); err != nil {
		return "", fmt.Errorf("acquire proposal lock: %w", err)
	}

	txID, err := currentTxID(ctx, tx)
	if err != nil {
		return "", err
	}

	if err := s.lockAndGuardSwaps(ctx, tx, m.Swaps, revert); err != nil {
		return "", err
	}
	if err := s.lockAndGuardBookings(ctx, tx, m.Bookings, revert); err != nil {
		return "", err
	}

	for _, c := range m.Swaps {
		status := c.ToStatus
		if revert {
			status = c.FromStatus
		}
		if _, err := tx.Exec(ctx,
			`UPDATE swaps SET status = $2, updated_at = now() WHERE id = $1`,
			c.SwapID, status,
		); err != nil {
			return "", fmt.Errorf("update swap %s: %w", c.SwapID, err)
		}
	}

	for _, c := range m.Bookings {
		if err := s.updateBooking(ctx, tx, m, c, revert); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}

	return txID, nil
}

// lockAndGuardSwaps locks the affected swap rows in id order and verifies
// each holds the status the mutation expects.
func (s *ExchangeStore) lockAndGuardSwaps(ctx context.Context, tx pgx.Tx, changes []domain.SwapChange, revert bool) error {
	if len(changes) == 0 {
		return nil
	}

	ids := make([]string, len(changes))
	for i, c := range changes {
		ids[i] = c.SwapID
	}

	rows, err := tx.Query(ctx,
		`SELECT id, status FROM swaps WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("lock swaps: %w", err)
	}
	actual, err := collectStatuses(rows)
	if err != nil {
		return fmt.Errorf("lock swaps: %w", err)
	}

	for _, c := range changes {
		status, exists := actual[c.SwapID]
		if !exists {
			return fmt.Errorf("swap %s: %w", c.SwapID, storage.ErrNotFound)
		}
		expected := c.FromStatus
		if revert {
			expected = c.ToStatus
		}
		if status != expected {
			return fmt.Errorf("swap %s is %s, expected %s: %w", c.SwapID, status, expected, storage.ErrStaleState)
		}
	}
	return nil
}

// lockAndGuardBookings locks the affected booking rows in id order and
// verifies each holds the status the mutation expects.
func (s *ExchangeStore) lockAndGuardBookings(ctx context.Context, tx pgx.Tx, changes []domain.BookingChange, revert bool) error {
	if len(changes) == 0 {
		return nil
	}

	ids := make([]string, len(changes))
	for i, c := range changes {
		ids[i] = c.BookingID
	}

	rows, err := tx.Query(ctx,
		`SELECT id, status FROM bookings WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("lock bookings: %w", err)
	}
	actual, err := collectStatuses(rows)
	if err != nil {
		return fmt.Errorf("lock bookings: %w", err)
	}

	for _, c := range changes {
		status, exists := actual[c.BookingID]
		if !exists {
			return fmt.Errorf("booking %s: %w", c.BookingID, storage.ErrNotFound)
		}
		expected := c.FromStatus
		if revert {
			expected = c.ToStatus
		}
		if status != expected {
			return fmt.Errorf("booking %s is %s, expected %s: %w", c.BookingID, status, expected, storage.ErrStaleState)
		}
	}
	return nil
}

func (s *ExchangeStore) updateBooking(ctx context.Context, tx pgx.Tx, m *domain.CompletionMutation, c domain.BookingChange, revert bool) error {
	var err error
	switch {
	case revert:
		// Restore prior status; transfer markers set by Apply are cleared.
		if c.NewOwnerID != nil {
			_, err = tx.Exec(ctx,
				`UPDATE bookings SET status = $2, new_owner_id = NULL, swapped_at = NULL, updated_at = now() WHERE id = $1`,
				c.BookingID, c.FromStatus,
			)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
				c.BookingID, c.FromStatus,
			)
		}
	case c.NewOwnerID != nil:
		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2, new_owner_id = $3, swapped_at = $4, updated_at = now() WHERE id = $1`,
			c.BookingID, c.ToStatus, *c.NewOwnerID, m.SwappedAt,
		)
	case c.ClearTransfer:
		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2, new_owner_id = NULL, swapped_at = NULL, updated_at = now() WHERE id = $1`,
			c.BookingID, c.ToStatus,
		)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
			c.BookingID, c.ToStatus,
		)
	}
	if err != nil {
		return fmt.Errorf("update booking %s: %w", c.BookingID, err)
	}
	return nil
}

// collectStatuses drains an (id, status) result set into a map.
func collectStatuses(rows pgx.Rows) (map[string]string, error) {
	defer rows.Close()

	statuses := make(map[string]string)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan locked row: %w", err)
		}
		statuses[id] = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locked rows: %w", err)
	}
	return statuses, nil
}
