// Package status is the read-only surface over completion audits and the
// event journal. It is consumed by operational endpoints and never mutates
// anything.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// DefaultErrorWindow is how far back the error summary looks.
const DefaultErrorWindow = 24 * time.Hour

// DefaultFailedLimit caps the recent failed attempts in the error summary.
const DefaultFailedLimit = 20

// Service answers status queries from the audit store and the journal.
type Service struct {
	audits storage.CompletionAuditStore
	events storage.CompletionEventStore // optional; nil disables the journal part of summaries
	now    func() time.Time
}

// NewService creates a new status Service.
func NewService(audits storage.CompletionAuditStore, events storage.CompletionEventStore) *Service {
	return &Service{
		audits: audits,
		events: events,
		now:    time.Now,
	}
}

// GetStatusByProposal returns the latest completion attempt for a proposal,
// or nil when the proposal has none.
func (s *Service) GetStatusByProposal(ctx context.Context, proposalID string) (*domain.SwapCompletionAudit, error) {
	audit, err := s.audits.GetLatestByProposal(ctx, proposalID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest attempt for proposal %s: %w", proposalID, err)
	}
	return audit, nil
}

// GetStatusBySwap returns the latest completion attempt touching a swap,
// or nil when no attempt references it.
func (s *Service) GetStatusBySwap(ctx context.Context, swapID string) (*domain.SwapCompletionAudit, error) {
	audit, err := s.audits.GetLatestBySwap(ctx, swapID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest attempt for swap %s: %w", swapID, err)
	}
	return audit, nil
}

// GetStatusByBooking returns the latest completion attempt touching a
// booking, or nil when no attempt references it.
func (s *Service) GetStatusByBooking(ctx context.Context, bookingID string) (*domain.SwapCompletionAudit, error) {
	audit, err := s.audits.GetLatestByBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest attempt for booking %s: %w", bookingID, err)
	}
	return audit, nil
}

// GetHistory returns every attempt for a proposal, oldest first. Retries
// after failure create new rows, so this is the proposal's full record.
func (s *Service) GetHistory(ctx context.Context, proposalID string) ([]*domain.SwapCompletionAudit, error) {
	attempts, err := s.audits.ListByProposal(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("attempt history for proposal %s: %w", proposalID, err)
	}
	return attempts, nil
}

// ErrorSummary is the aggregated error picture for operators.
type ErrorSummary struct {
	Since           time.Time                  `json:"since"`
	GeneratedAt     time.Time                  `json:"generated_at"`
	StageErrors     []*storage.ErrorSummaryRow `json:"stage_errors"`
	RecentFailed    []FailedAttempt            `json:"recent_failed"`
	TotalFailed     int                        `json:"total_failed"`
	TotalProcessing int                        `json:"total_processing"`
}

// FailedAttempt is one failed audit row in compact form.
type FailedAttempt struct {
	AuditID        string    `json:"audit_id"`
	ProposalID     string    `json:"proposal_id"`
	CompletionType string    `json:"completion_type"`
	ErrorDetails   string    `json:"error_details,omitempty"`
	LedgerPending  bool      `json:"ledger_pending"` // committed relationally but never ledger-recorded
	CreatedAt      time.Time `json:"created_at"`
}

// GetErrorSummary aggregates journal errors since the cutoff together with
// the most recent failed attempts. A zero since takes the default window.
func (s *Service) GetErrorSummary(ctx context.Context, since time.Time) (*ErrorSummary, error) {
	now := s.now().UTC()
	if since.IsZero() {
		since = now.Add(-DefaultErrorWindow)
	}

	summary := &ErrorSummary{
		Since:       since,
		GeneratedAt: now,
	}

	if s.events != nil {
		rows, err := s.events.ErrorSummary(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("journal error summary: %w", err)
		}
		summary.StageErrors = rows
	}

	failed, err := s.audits.ListByStatus(ctx, domain.AuditStatusFailed, DefaultFailedLimit)
	if err != nil {
		return nil, fmt.Errorf("list failed attempts: %w", err)
	}
	summary.TotalFailed = len(failed)
	for _, a := range failed {
		fa := FailedAttempt{
			AuditID:        a.ID,
			ProposalID:     a.ProposalID,
			CompletionType: a.CompletionType.String(),
			LedgerPending:  a.DatabaseTxID != nil && !a.LedgerRecorded(),
			CreatedAt:      a.CreatedAt,
		}
		if a.ErrorDetails != nil {
			fa.ErrorDetails = *a.ErrorDetails
		}
		summary.RecentFailed = append(summary.RecentFailed, fa)
	}

	// Attempts stuck in processing are worth surfacing: they indicate a
	// crashed run that never reached a terminal status.
	processing, err := s.audits.ListByStatus(ctx, domain.AuditStatusProcessing, DefaultFailedLimit)
	if err != nil {
		return nil, fmt.Errorf("list processing attempts: %w", err)
	}
	summary.TotalProcessing = len(processing)

	return summary, nil
}
