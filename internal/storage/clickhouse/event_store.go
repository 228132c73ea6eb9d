package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// EventStore implements storage.CompletionEventStore using ClickHouse.
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CompletionEventStore = (*EventStore)(nil)

// Insert appends one journal event.
func (s *EventStore) Insert(ctx context.Context, e *domain.CompletionEvent) error {
	return s.InsertBulk(ctx, []*domain.CompletionEvent{e})
}

// InsertBulk appends multiple events. Fails the entire batch on error.
func (s *EventStore) InsertBulk(ctx context.Context, events []*domain.CompletionEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e == nil || e.AuditID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO completion_events (
			audit_id, proposal_id, stage, status, detail, occurred_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.AuditID, e.ProposalID, e.Stage, e.Status, e.Detail, e.OccurredAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByAuditID retrieves all events for an audit, ordered by occurred_at ASC.
func (s *EventStore) GetByAuditID(ctx context.Context, auditID string) ([]*domain.CompletionEvent, error) {
	query := `
		SELECT audit_id, proposal_id, stage, status, detail, occurred_at
		FROM completion_events
		WHERE audit_id = ?
		ORDER BY occurred_at ASC
	`

	rows, err := s.conn.Query(ctx, query, auditID)
	if err != nil {
		return nil, fmt.Errorf("query by audit id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ErrorSummary aggregates error events since the given time, grouped by
// stage, most frequent first.
func (s *EventStore) ErrorSummary(ctx context.Context, since time.Time) ([]*storage.ErrorSummaryRow, error) {
	query := `
		SELECT
			stage,
			count() AS error_count,
			max(occurred_at) AS last_seen,
			argMax(detail, occurred_at) AS last_detail
		FROM completion_events
		WHERE status = ? AND occurred_at >= ?
		GROUP BY stage
		ORDER BY error_count DESC, stage ASC
	`

	rows, err := s.conn.Query(ctx, query, domain.EventStatusError, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query error summary: %w", err)
	}
	defer rows.Close()

	var summary []*storage.ErrorSummaryRow
	for rows.Next() {
		var r storage.ErrorSummaryRow
		if err := rows.Scan(&r.Stage, &r.Count, &r.LastSeen, &r.LastDetail); err != nil {
			return nil, fmt.Errorf("scan error summary row: %w", err)
		}
		summary = append(summary, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error summary rows: %w", err)
	}

	return summary, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanEvents scans multiple rows.
func scanEvents(rows chRows) ([]*domain.CompletionEvent, error) {
	var events []*domain.CompletionEvent

	for rows.Next() {
		var e domain.CompletionEvent
		err := rows.Scan(&e.AuditID, &e.ProposalID, &e.Stage, &e.Status, &e.Detail, &e.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}

	return events, nil
}
