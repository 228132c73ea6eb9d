package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

func auditRow(id, proposalID, status string, createdAt time.Time) *domain.SwapCompletionAudit {
	return &domain.SwapCompletionAudit{
		ID:               id,
		ProposalID:       proposalID,
		CompletionType:   domain.CompletionTypeBookingExchange,
		InitiatedBy:      "user-1",
		Status:           status,
		AffectedSwaps:    []string{"swap-a", "swap-b"},
		AffectedBookings: []string{"bk-x", "bk-y"},
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func TestAuditStore_InsertAndGet(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, auditRow("a1", "prop-1", domain.AuditStatusInitiated, now)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "a1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.ProposalID != "prop-1" {
		t.Errorf("ProposalID mismatch: got %s", got.ProposalID)
	}
	if len(got.AffectedSwaps) != 2 {
		t.Errorf("AffectedSwaps length = %d, want 2", len(got.AffectedSwaps))
	}
}

func TestAuditStore_DuplicateKey(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	now := time.Now().UTC()

	row := auditRow("a1", "prop-1", domain.AuditStatusInitiated, now)
	if err := store.Insert(ctx, row); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, row)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestAuditStore_Update(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	now := time.Now().UTC()

	row := auditRow("a1", "prop-1", domain.AuditStatusInitiated, now)
	if err := store.Insert(ctx, row); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	row.Status = domain.AuditStatusProcessing
	txID := "pg-tx-42"
	row.DatabaseTxID = &txID
	if err := store.Update(ctx, row); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "a1")
	if got.Status != domain.AuditStatusProcessing {
		t.Errorf("Status not updated: %s", got.Status)
	}
	if got.DatabaseTxID == nil || *got.DatabaseTxID != "pg-tx-42" {
		t.Errorf("DatabaseTxID not updated: %v", got.DatabaseTxID)
	}

	err := store.Update(ctx, auditRow("missing", "p", domain.AuditStatusFailed, now))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAuditStore_LatestByProposal(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.Insert(ctx, auditRow("a1", "prop-1", domain.AuditStatusFailed, base)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, auditRow("a2", "prop-1", domain.AuditStatusCompleted, base.Add(time.Minute))); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, auditRow("a3", "prop-2", domain.AuditStatusInitiated, base.Add(2*time.Minute))); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	latest, err := store.GetLatestByProposal(ctx, "prop-1")
	if err != nil {
		t.Fatalf("GetLatestByProposal failed: %v", err)
	}
	if latest.ID != "a2" {
		t.Errorf("Latest = %s, want a2", latest.ID)
	}

	all, err := store.ListByProposal(ctx, "prop-1")
	if err != nil {
		t.Fatalf("ListByProposal failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "a1" || all[1].ID != "a2" {
		t.Errorf("ListByProposal wrong order or length: %d rows", len(all))
	}

	_, err = store.GetLatestByProposal(ctx, "prop-9")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestAuditStore_LatestByEntity(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := auditRow("a1", "prop-1", domain.AuditStatusFailed, base)
	second := auditRow("a2", "prop-2", domain.AuditStatusCompleted, base.Add(time.Minute))
	second.AffectedSwaps = []string{"swap-b"}
	second.AffectedBookings = []string{"bk-y"}

	if err := store.Insert(ctx, first); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, second); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	bySwap, err := store.GetLatestBySwap(ctx, "swap-b")
	if err != nil {
		t.Fatalf("GetLatestBySwap failed: %v", err)
	}
	if bySwap.ID != "a2" {
		t.Errorf("Latest by swap-b = %s, want a2", bySwap.ID)
	}

	byBooking, err := store.GetLatestByBooking(ctx, "bk-x")
	if err != nil {
		t.Fatalf("GetLatestByBooking failed: %v", err)
	}
	if byBooking.ID != "a1" {
		t.Errorf("Latest by bk-x = %s, want a1", byBooking.ID)
	}
}

func TestAuditStore_HasCompleted(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.Insert(ctx, auditRow("a1", "prop-1", domain.AuditStatusFailed, now)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	done, err := store.HasCompleted(ctx, "prop-1")
	if err != nil {
		t.Fatalf("HasCompleted failed: %v", err)
	}
	if done {
		t.Error("prop-1 should not be completed yet")
	}

	if err := store.Insert(ctx, auditRow("a2", "prop-1", domain.AuditStatusCompleted, now.Add(time.Second))); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	done, _ = store.HasCompleted(ctx, "prop-1")
	if !done {
		t.Error("prop-1 should be completed")
	}
}

func TestAuditStore_ListByStatus(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2", "a3"} {
		if err := store.Insert(ctx, auditRow(id, "prop-"+id, domain.AuditStatusFailed, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	result, err := store.ListByStatus(ctx, domain.AuditStatusFailed, 2)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(result))
	}
	// Most recent first
	if result[0].ID != "a3" || result[1].ID != "a2" {
		t.Errorf("Wrong order: [%s, %s]", result[0].ID, result[1].ID)
	}
}

func TestAuditStore_DeepCopy(t *testing.T) {
	store := NewAuditStore()
	ctx := context.Background()
	now := time.Now().UTC()

	row := auditRow("a1", "prop-1", domain.AuditStatusInitiated, now)
	row.PreValidation = &domain.CompletionValidationResult{IsValid: true}
	if err := store.Insert(ctx, row); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, _ := store.GetByID(ctx, "a1")
	got.AffectedSwaps[0] = "mutated"
	got.PreValidation.AddError("mutated")

	again, _ := store.GetByID(ctx, "a1")
	if again.AffectedSwaps[0] != "swap-a" {
		t.Errorf("Store aliased slice: %s", again.AffectedSwaps[0])
	}
	if !again.PreValidation.IsValid || len(again.PreValidation.Errors) != 0 {
		t.Error("Store aliased validation result")
	}
}
