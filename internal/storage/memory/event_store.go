package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// EventStore is an in-memory implementation of storage.CompletionEventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.CompletionEvent
}

// NewEventStore creates a new in-memory completion event journal.
func NewEventStore() *EventStore {
	return &EventStore{}
}

// Insert appends one journal event.
func (s *EventStore) Insert(_ context.Context, e *domain.CompletionEvent) error {
	if e == nil || e.AuditID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, *e)
	return nil
}

// InsertBulk appends multiple events. Fails the entire batch on invalid input.
func (s *EventStore) InsertBulk(_ context.Context, events []*domain.CompletionEvent) error {
	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e == nil || e.AuditID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.events = append(s.events, *e)
	}
	return nil
}

// GetByAuditID retrieves all events for an audit, ordered by occurred_at ASC.
func (s *EventStore) GetByAuditID(_ context.Context, auditID string) ([]*domain.CompletionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.CompletionEvent
	for i := range s.events {
		if s.events[i].AuditID == auditID {
			dup := s.events[i]
			result = append(result, &dup)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

// ErrorSummary aggregates error events since the cutoff, grouped by stage,
// most frequent first.
func (s *EventStore) ErrorSummary(_ context.Context, since time.Time) ([]*storage.ErrorSummaryRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStage := make(map[string]*storage.ErrorSummaryRow)
	for i := range s.events {
		e := &s.events[i]
		if e.Status != domain.EventStatusError || e.OccurredAt.Before(since) {
			continue
		}
		row, exists := byStage[e.Stage]
		if !exists {
			row = &storage.ErrorSummaryRow{Stage: e.Stage}
			byStage[e.Stage] = row
		}
		row.Count++
		if e.OccurredAt.After(row.LastSeen) {
			row.LastSeen = e.OccurredAt
			row.LastDetail = e.Detail
		}
	}

	result := make([]*storage.ErrorSummaryRow, 0, len(byStage))
	for _, row := range byStage {
		result = append(result, row)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Stage < result[j].Stage
	})
	return result, nil
}

var _ storage.CompletionEventStore = (*EventStore)(nil)
