package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// BookingStore implements storage.BookingStore using PostgreSQL.
type BookingStore struct {
	pool *Pool
}

// NewBookingStore creates a new BookingStore.
func NewBookingStore(pool *Pool) *BookingStore {
	return &BookingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BookingStore = (*BookingStore)(nil)

const bookingColumns = `id, owner_id, status, new_owner_id, price, swapped_at, created_at, updated_at`

// Insert adds a new booking. Returns ErrDuplicateKey if the id exists.
func (s *BookingStore) Insert(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (
			id, owner_id, status, new_owner_id, price, swapped_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		booking.ID,
		booking.OwnerID,
		booking.Status,
		booking.NewOwnerID,
		booking.Price,
		booking.SwappedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetByID retrieves a booking by its ID. Returns ErrNotFound if not exists.
func (s *BookingStore) GetByID(ctx context.Context, bookingID string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking, err := scanBooking(s.pool.QueryRow(ctx, query, bookingID))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get booking by id: %w", err)
	}
	return booking, nil
}

// GetByIDs retrieves the bookings for the given ids, ordered as requested.
// Missing ids are simply absent from the result.
func (s *BookingStore) GetByIDs(ctx context.Context, bookingIDs []string) ([]*domain.Booking, error) {
	if len(bookingIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		JOIN unnest($1::text[]) WITH ORDINALITY AS req(id, ord) USING (id)
		ORDER BY req.ord
	`

	rows, err := s.pool.Query(ctx, query, bookingIDs)
	if err != nil {
		return nil, fmt.Errorf("get bookings by ids: %w", err)
	}
	defer rows.Close()

	return scanBookings(rows)
}

// SetStatus overwrites the status of one booking. Used only for corrective writes.
func (s *BookingStore) SetStatus(ctx context.Context, bookingID, status string) error {
	query := `UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, bookingID, status)
	if err != nil {
		return fmt.Errorf("set booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanBooking scans a single row into a Booking.
func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var booking domain.Booking
	err := row.Scan(
		&booking.ID,
		&booking.OwnerID,
		&booking.Status,
		&booking.NewOwnerID,
		&booking.Price,
		&booking.SwappedAt,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// scanBookings scans multiple rows into a slice of Booking.
func scanBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	var bookings []*domain.Booking

	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking row: %w", err)
		}
		bookings = append(bookings, booking)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booking rows: %w", err)
	}

	return bookings, nil
}
