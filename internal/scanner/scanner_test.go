package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bushboy/bookingswap-sub010/internal/completion"
	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/ledger/stub"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
	"github.com/bushboy/bookingswap-sub010/internal/storage/memory"
)

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[scanner-test] ", log.LstdFlags)
}

// waitFor polls cond until it holds or the deadline elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func expiredSwap(id, bookingID, ownerID string) *domain.Swap {
	return &domain.Swap{
		ID:         id,
		BookingID:  bookingID,
		ProposerID: ownerID,
		OwnerID:    ownerID,
		Status:     domain.SwapStatusActive,
		ExpiresAt:  time.Now().UTC().Add(-time.Hour),
		CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
		UpdatedAt:  time.Now().UTC().Add(-2 * time.Hour),
	}
}

func cashAmount(v string) decimal.NullDecimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func swappingBooking(id, ownerID string) *domain.Booking {
	return &domain.Booking{
		ID:        id,
		OwnerID:   ownerID,
		Status:    domain.BookingStatusSwapping,
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour),
		UpdatedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
}

// blockingCompleter blocks every Complete call until released.
type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
}

func (c *blockingCompleter) Complete(_ context.Context, _ *domain.CompletionRequest) (*domain.SwapCompletionAudit, error) {
	c.started <- struct{}{}
	<-c.release
	return &domain.SwapCompletionAudit{Status: domain.AuditStatusCompleted}, nil
}

// failingCompleter rejects every request.
type failingCompleter struct{}

func (failingCompleter) Complete(context.Context, *domain.CompletionRequest) (*domain.SwapCompletionAudit, error) {
	return nil, fmt.Errorf("downstream unavailable")
}

// failingSwapStore errors on every read, for health degradation tests.
type failingSwapStore struct{}

func (failingSwapStore) Insert(context.Context, *domain.Swap) error { return nil }
func (failingSwapStore) GetByID(context.Context, string) (*domain.Swap, error) {
	return nil, storage.ErrNotFound
}
func (failingSwapStore) GetByIDs(context.Context, []string) ([]*domain.Swap, error) {
	return nil, nil
}
func (failingSwapStore) ListExpired(context.Context, time.Time, int) ([]*domain.Swap, error) {
	return nil, fmt.Errorf("connection refused")
}
func (failingSwapStore) SetStatus(context.Context, string, string) error { return nil }

func TestScanner_StartRejectsSecondStart(t *testing.T) {
	s := New(Options{
		SwapStore:     memory.NewSwapStore(),
		Completer:     &blockingCompleter{started: make(chan struct{}, 1), release: make(chan struct{})},
		CheckInterval: time.Hour,
		StartupDelay:  time.Hour,
		Logger:        testLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestScanner_ExpirationBatchWithOneBadItem(t *testing.T) {
	ctx := context.Background()
	swaps := memory.NewSwapStore()
	bookings := memory.NewBookingStore()
	audits := memory.NewAuditStore()

	// Three expired swaps; swap s2's booking is missing, so its request
	// fails pre-validation. The other two must still expire.
	s1 := expiredSwap("s1", "bk1", "u1")
	s2 := expiredSwap("s2", "bk2", "u2")
	s3 := expiredSwap("s3", "bk3", "u3")
	for _, sw := range []*domain.Swap{s1, s2, s3} {
		if err := swaps.Insert(ctx, sw); err != nil {
			t.Fatalf("Insert swap: %v", err)
		}
	}
	for _, bk := range []*domain.Booking{swappingBooking("bk1", "u1"), swappingBooking("bk3", "u3")} {
		if err := bookings.Insert(ctx, bk); err != nil {
			t.Fatalf("Insert booking: %v", err)
		}
	}

	orch := completion.New(completion.Options{
		AuditStore:    audits,
		SwapStore:     swaps,
		BookingStore:  bookings,
		ExchangeStore: memory.NewExchangeStore(swaps, bookings),
		Recorder:      stub.NewRecorder(),
		Logger:        testLogger(),
	})

	s := New(Options{
		SwapStore:     swaps,
		Completer:     orch,
		Checkpoints:   memory.NewCheckpointStore(),
		CheckInterval: time.Hour, // only the immediate first tick fires
		StartupDelay:  time.Millisecond,
		Logger:        testLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.GetStatus().TotalChecksPerformed >= 1 })

	result := s.StopGracefully(2 * time.Second)
	if !result.Success || result.TimedOut {
		t.Fatalf("StopGracefully = %+v, want success", result)
	}

	st := s.GetStatus()
	if st.TotalChecksPerformed != 1 {
		t.Errorf("TotalChecksPerformed = %d, want 1", st.TotalChecksPerformed)
	}
	if st.TotalSwapsProcessed != 3 {
		t.Errorf("TotalSwapsProcessed = %d, want 3", st.TotalSwapsProcessed)
	}
	if st.LastError == nil {
		t.Error("Expected LastError from the failing item")
	}

	// Items 1 and 3 expired; the bad item left its swap untouched.
	for _, id := range []string{"s1", "s3"} {
		sw, err := swaps.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID %s: %v", id, err)
		}
		if sw.Status != domain.SwapStatusExpired {
			t.Errorf("swap %s status = %s, want expired", id, sw.Status)
		}
	}
	sw2, err := swaps.GetByID(ctx, "s2")
	if err != nil {
		t.Fatalf("GetByID s2: %v", err)
	}
	if sw2.Status != domain.SwapStatusActive {
		t.Errorf("swap s2 status = %s, want active (untouched)", sw2.Status)
	}

	// Bookings of the expired swaps returned to available.
	for _, id := range []string{"bk1", "bk3"} {
		bk, err := bookings.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID %s: %v", id, err)
		}
		if bk.Status != domain.BookingStatusAvailable {
			t.Errorf("booking %s status = %s, want available", id, bk.Status)
		}
	}

	// The failed item left a failed audit row under its synthetic proposal.
	failed, err := audits.GetLatestByProposal(ctx, "expired-swap-s2")
	if err != nil {
		t.Fatalf("GetLatestByProposal: %v", err)
	}
	if failed.Status != domain.AuditStatusFailed {
		t.Errorf("bad item audit status = %s, want failed", failed.Status)
	}
	if failed.InitiatedBy != domain.InitiatedBySystem {
		t.Errorf("InitiatedBy = %s, want system", failed.InitiatedBy)
	}
}

func TestScanner_GracefulStopWaitsForBatch(t *testing.T) {
	ctx := context.Background()
	swaps := memory.NewSwapStore()
	if err := swaps.Insert(ctx, expiredSwap("s1", "bk1", "u1")); err != nil {
		t.Fatalf("Insert swap: %v", err)
	}

	completer := &blockingCompleter{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(Options{
		SwapStore:     swaps,
		Completer:     completer,
		CheckInterval: time.Hour,
		StartupDelay:  time.Millisecond,
		Logger:        testLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-completer.started // batch is in flight

	resultCh := make(chan GracefulStopResult, 1)
	go func() { resultCh <- s.StopGracefully(3 * time.Second) }()

	// Let the batch finish well inside the timeout.
	time.Sleep(50 * time.Millisecond)
	close(completer.release)

	result := <-resultCh
	if !result.Success || result.TimedOut {
		t.Errorf("StopGracefully = %+v, want success within timeout", result)
	}
	if s.GetStatus().IsRunning {
		t.Error("IsRunning = true after graceful stop")
	}
}

func TestScanner_GracefulStopTimesOutThenForcedStop(t *testing.T) {
	ctx := context.Background()
	swaps := memory.NewSwapStore()
	if err := swaps.Insert(ctx, expiredSwap("s1", "bk1", "u1")); err != nil {
		t.Fatalf("Insert swap: %v", err)
	}

	completer := &blockingCompleter{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(Options{
		SwapStore:     swaps,
		Completer:     completer,
		CheckInterval: time.Hour,
		StartupDelay:  time.Millisecond,
		Logger:        testLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	<-completer.started // batch is stuck

	result := s.StopGracefully(50 * time.Millisecond)
	if !result.TimedOut || result.Success {
		t.Fatalf("StopGracefully = %+v, want timeout", result)
	}

	// Still draining: the scanner must not claim to be stopped yet.
	if !s.GetStatus().IsRunning {
		t.Error("IsRunning = false after graceful timeout, want true until forced stop")
	}

	s.Stop()
	if s.GetStatus().IsRunning {
		t.Error("IsRunning = true after forced stop")
	}
	close(completer.release)
}

func TestScanner_GroupsSwapsByProposal(t *testing.T) {
	proposal := "prop-7"
	a := expiredSwap("sa", "bka", "u1")
	a.ProposalID = &proposal
	a.Status = domain.SwapStatusMatched
	b := expiredSwap("sb", "bkb", "u2")
	b.ProposalID = &proposal
	b.Status = domain.SwapStatusMatched
	c := expiredSwap("sc", "bkc", "u3")

	requests := buildRequests([]*domain.Swap{a, b, c})
	if len(requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(requests))
	}

	joint := requests[0]
	if joint.ProposalID != proposal {
		t.Errorf("ProposalID = %s, want %s", joint.ProposalID, proposal)
	}
	if len(joint.SwapIDs) != 2 || len(joint.BookingIDs) != 2 {
		t.Errorf("joint request has %d swaps / %d bookings, want 2/2", len(joint.SwapIDs), len(joint.BookingIDs))
	}
	if joint.InitiatedBy != domain.InitiatedBySystem {
		t.Errorf("InitiatedBy = %s, want system", joint.InitiatedBy)
	}

	solo := requests[1]
	if solo.ProposalID != "expired-swap-sc" {
		t.Errorf("solo ProposalID = %s", solo.ProposalID)
	}
}

func TestScanner_CashOfferExpiresAsCashPayment(t *testing.T) {
	sw := expiredSwap("s1", "bk1", "u1")
	sw.CashOffer = cashAmount("150.00")

	requests := buildRequests([]*domain.Swap{sw})
	if len(requests) != 1 {
		t.Fatalf("got %d requests, want 1", len(requests))
	}
	if requests[0].CompletionType != domain.CompletionTypeCashPayment {
		t.Errorf("CompletionType = %s, want cash_payment", requests[0].CompletionType)
	}
}

func TestScanner_HealthDegradesAfterConsecutiveErrorTicks(t *testing.T) {
	s := New(Options{
		SwapStore:     failingSwapStore{},
		Completer:     &blockingCompleter{started: make(chan struct{}, 1), release: make(chan struct{})},
		CheckInterval: 5 * time.Millisecond,
		StartupDelay:  time.Millisecond,
		Logger:        testLogger(),
	})

	if s.Health() != HealthUnhealthy {
		t.Errorf("Health before start = %s, want unhealthy", s.Health())
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.GetStatus().TotalChecksPerformed >= 3 })
	waitFor(t, 2*time.Second, func() bool { return s.Health() == HealthDegraded })

	st := s.GetStatus()
	if st.LastError == nil || st.LastErrorAt == nil {
		t.Error("Expected LastError and LastErrorAt to be set")
	}
}

func TestScanner_SingleErrorTickWithManyBadItemsStaysHealthy(t *testing.T) {
	ctx := context.Background()
	swaps := memory.NewSwapStore()
	for _, sw := range []*domain.Swap{
		expiredSwap("s1", "bk1", "u1"),
		expiredSwap("s2", "bk2", "u2"),
		expiredSwap("s3", "bk3", "u3"),
	} {
		if err := swaps.Insert(ctx, sw); err != nil {
			t.Fatalf("Insert swap: %v", err)
		}
	}

	checkpoints := memory.NewCheckpointStore()
	s := New(Options{
		SwapStore:     swaps,
		Completer:     failingCompleter{},
		Checkpoints:   checkpoints,
		CheckInterval: time.Hour, // only the immediate first tick fires
		StartupDelay:  time.Millisecond,
		Logger:        testLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	// The checkpoint save is the last step of a tick, so its presence means
	// all three item failures have been recorded.
	waitFor(t, 2*time.Second, func() bool {
		_, err := checkpoints.GetCheckpoint(ctx)
		return err == nil
	})

	// Three bad items in one tick count as one erroring tick, well below the
	// degradation threshold.
	if h := s.Health(); h != HealthHealthy {
		t.Errorf("Health after one error tick = %s, want healthy", h)
	}
	if st := s.GetStatus(); st.LastError == nil {
		t.Error("Expected LastError from the failing items")
	}
}

func TestScanner_HealthDegradesAfterErrorTicksWithBadItems(t *testing.T) {
	ctx := context.Background()
	swaps := memory.NewSwapStore()
	if err := swaps.Insert(ctx, expiredSwap("s1", "bk1", "u1")); err != nil {
		t.Fatalf("Insert swap: %v", err)
	}

	s := New(Options{
		SwapStore:     swaps,
		Completer:     failingCompleter{},
		CheckInterval: 5 * time.Millisecond,
		StartupDelay:  time.Millisecond,
		Logger:        testLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return s.GetStatus().TotalChecksPerformed >= 3 })
	waitFor(t, 2*time.Second, func() bool { return s.Health() == HealthDegraded })
}

func TestScanner_RestoresCheckpointTotals(t *testing.T) {
	ctx := context.Background()
	checkpoints := memory.NewCheckpointStore()
	if err := checkpoints.SaveCheckpoint(ctx, &storage.ScanCheckpoint{
		LastScanAt:   time.Now().UTC().Add(-time.Minute),
		SwapsScanned: 42,
		ChecksTotal:  7,
	}); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	s := New(Options{
		SwapStore:     memory.NewSwapStore(),
		Completer:     &blockingCompleter{started: make(chan struct{}, 1), release: make(chan struct{})},
		Checkpoints:   checkpoints,
		CheckInterval: time.Hour,
		StartupDelay:  time.Millisecond,
		Logger:        testLogger(),
	})
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return s.GetStatus().TotalChecksPerformed >= 8 })
	s.Stop()

	st := s.GetStatus()
	if st.TotalChecksPerformed != 8 {
		t.Errorf("TotalChecksPerformed = %d, want 8 (7 restored + 1)", st.TotalChecksPerformed)
	}
	if st.TotalSwapsProcessed != 42 {
		t.Errorf("TotalSwapsProcessed = %d, want 42 restored", st.TotalSwapsProcessed)
	}

	cp, err := checkpoints.GetCheckpoint(ctx)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if cp.ChecksTotal != 8 {
		t.Errorf("persisted ChecksTotal = %d, want 8", cp.ChecksTotal)
	}
}
