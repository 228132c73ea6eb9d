// Package scanner runs the background expiration loop. A single goroutine
// periodically discovers swaps past their deadline, groups them into
// system-initiated completion requests and feeds them to the completion
// orchestrator one at a time. Per-item failures are recorded and never abort
// the rest of a batch.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/observability"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
)

// Defaults for scanner configuration.
const (
	DefaultCheckInterval = 60 * time.Second
	DefaultStartupDelay  = 10 * time.Second
	DefaultBatchLimit    = 100
)

// Health values reported by Health().
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// degradedThreshold is the number of consecutive error ticks after which the
// scanner reports itself degraded.
const degradedThreshold = 3

// ErrAlreadyRunning is returned by Start when the loop is already up.
var ErrAlreadyRunning = errors.New("scanner already running")

// ErrNotRunning is returned by StopGracefully when there is nothing to stop.
var ErrNotRunning = errors.New("scanner not running")

// Completer is the orchestrator entry point the scanner feeds.
type Completer interface {
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.SwapCompletionAudit, error)
}

// Scanner is the supervised expiration polling loop.
// State machine: stopped -> running -> stopping -> stopped.
type Scanner struct {
	swaps       storage.SwapStore
	completer   Completer
	checkpoints storage.ScanCheckpointStore // optional; persists totals across restarts

	checkInterval time.Duration
	startupDelay  time.Duration
	batchLimit    int
	logger        *log.Logger
	now           func() time.Time

	mu                sync.Mutex
	running           bool
	stopping          bool
	cancel            context.CancelFunc
	done              chan struct{}
	stopCh            chan struct{}
	startedAt         time.Time
	lastCheckAt       *time.Time
	totalChecks       int64
	totalSwaps        int64
	lastError         *string
	lastErrorAt       *time.Time
	consecutiveErrors int
}

// Options for creating a Scanner.
type Options struct {
	SwapStore storage.SwapStore
	Completer Completer

	// Optional checkpoint persistence; nil keeps totals in memory only
	Checkpoints storage.ScanCheckpointStore

	// Zero values take the defaults
	CheckInterval time.Duration
	StartupDelay  time.Duration
	BatchLimit    int

	Logger *log.Logger
}

// New creates a new Scanner.
func New(opts Options) *Scanner {
	checkInterval := opts.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	startupDelay := opts.StartupDelay
	if startupDelay < 0 {
		startupDelay = DefaultStartupDelay
	}
	batchLimit := opts.BatchLimit
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Scanner{
		swaps:         opts.SwapStore,
		completer:     opts.Completer,
		checkpoints:   opts.Checkpoints,
		checkInterval: checkInterval,
		startupDelay:  startupDelay,
		batchLimit:    batchLimit,
		logger:        logger,
		now:           time.Now,
	}
}

// Start launches the polling loop. Returns ErrAlreadyRunning if the loop is
// already up or still draining a graceful stop.
func (s *Scanner) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.stopCh = make(chan struct{})
	s.running = true
	s.stopping = false
	s.startedAt = s.now().UTC()
	s.consecutiveErrors = 0

	if s.checkpoints != nil {
		s.restoreCheckpoint(ctx)
	}

	go s.run(ctx, s.done, s.stopCh)

	observability.SetScannerRunning(true)
	s.logger.Printf("scanner started, check interval %v, startup delay %v", s.checkInterval, s.startupDelay)
	return nil
}

// Stop halts the loop immediately. It does not wait for an in-flight batch;
// the loop's context is cancelled and the scanner reports not running at once.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.running = false
	s.stopping = false

	observability.SetScannerRunning(false)
	s.logger.Println("scanner stopped")
}

// GracefulStopResult is the outcome of StopGracefully.
type GracefulStopResult struct {
	Success  bool
	TimedOut bool
	Err      error
}

// StopGracefully signals the loop to finish its current batch and not start a
// new one, then waits up to timeout for it to exit. On timeout the loop keeps
// draining and the caller is expected to fall back to Stop.
func (s *Scanner) StopGracefully(timeout time.Duration) GracefulStopResult {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return GracefulStopResult{Err: ErrNotRunning}
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.mu.Lock()
		s.running = false
		s.stopping = false
		s.mu.Unlock()
		observability.SetScannerRunning(false)
		s.logger.Println("scanner stopped gracefully")
		return GracefulStopResult{Success: true}
	case <-time.After(timeout):
		s.logger.Printf("scanner graceful stop timed out after %v", timeout)
		return GracefulStopResult{TimedOut: true}
	}
}

// Status is the scanner's operational snapshot.
type Status struct {
	IsRunning            bool       `json:"is_running"`
	CheckInterval        string     `json:"check_interval"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	LastCheckAt          *time.Time `json:"last_check_at,omitempty"`
	TotalChecksPerformed int64      `json:"total_checks_performed"`
	TotalSwapsProcessed  int64      `json:"total_swaps_processed"`
	LastError            *string    `json:"last_error,omitempty"`
	LastErrorAt          *time.Time `json:"last_error_at,omitempty"`
	Health               string     `json:"health"`
}

// GetStatus returns the current operational snapshot.
func (s *Scanner) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning:            s.running,
		CheckInterval:        s.checkInterval.String(),
		TotalChecksPerformed: s.totalChecks,
		TotalSwapsProcessed:  s.totalSwaps,
		LastError:            s.lastError,
		LastErrorAt:          s.lastErrorAt,
		Health:               s.healthLocked(),
	}
	if s.running {
		at := s.startedAt
		st.StartedAt = &at
	}
	if s.lastCheckAt != nil {
		at := *s.lastCheckAt
		st.LastCheckAt = &at
	}
	return st
}

// Health reports the scanner's health: unhealthy when the loop is not
// running, degraded after three consecutive error ticks, healthy otherwise.
func (s *Scanner) Health() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthLocked()
}

func (s *Scanner) healthLocked() string {
	if !s.running {
		return HealthUnhealthy
	}
	if s.consecutiveErrors >= degradedThreshold {
		return HealthDegraded
	}
	return HealthHealthy
}

// run is the single polling goroutine. The first tick fires after the
// startup delay, then on every interval. The stop channel is only checked
// between batches, which is what makes StopGracefully batch-safe.
func (s *Scanner) run(ctx context.Context, done chan struct{}, stopCh chan struct{}) {
	defer close(done)

	if s.startupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-time.After(s.startupDelay):
		}
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one expiration scan.
func (s *Scanner) tick(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	s.totalChecks++
	at := now
	s.lastCheckAt = &at
	s.mu.Unlock()

	expired, err := s.swaps.ListExpired(ctx, now, s.batchLimit)
	if err != nil {
		s.recordError(fmt.Errorf("list expired swaps: %w", err))
		s.markErrorTick()
		observability.RecordScannerTick("error", 0, float64(now.Unix()))
		return
	}

	if len(expired) == 0 {
		s.clearErrorStreak()
		observability.RecordScannerTick("ok", 0, float64(now.Unix()))
		s.saveCheckpoint(ctx, now)
		return
	}

	s.mu.Lock()
	s.totalSwaps += int64(len(expired))
	s.mu.Unlock()

	requests := buildRequests(expired)
	s.logger.Printf("scan found %d expired swaps in %d requests", len(expired), len(requests))

	var failures int
	for _, req := range requests {
		if _, err := s.completer.Complete(ctx, req); err != nil {
			failures++
			s.recordError(fmt.Errorf("expire proposal %s: %w", req.ProposalID, err))
		}
	}

	tickStatus := "ok"
	if failures > 0 {
		tickStatus = "error"
		s.markErrorTick()
	} else {
		s.clearErrorStreak()
	}
	observability.RecordScannerTick(tickStatus, len(expired), float64(now.Unix()))
	s.saveCheckpoint(ctx, now)
}

// buildRequests groups expired swaps into system completion requests. Swaps
// sharing an accepted proposal expire together; an unmatched swap expires
// under a synthetic proposal scope of its own. The completion type is
// inferred from the swap's terms: an accepted cash offer expires as a cash
// payment, everything else as a booking exchange.
func buildRequests(swaps []*domain.Swap) []*domain.CompletionRequest {
	byProposal := make(map[string]*domain.CompletionRequest)
	var order []string

	for _, sw := range swaps {
		proposalID := "expired-swap-" + sw.ID
		if sw.ProposalID != nil && *sw.ProposalID != "" {
			proposalID = *sw.ProposalID
		}

		req, ok := byProposal[proposalID]
		if !ok {
			completionType := domain.CompletionTypeBookingExchange
			if sw.CashOffer.Valid {
				completionType = domain.CompletionTypeCashPayment
			}
			req = &domain.CompletionRequest{
				ProposalID:     proposalID,
				CompletionType: completionType,
				InitiatedBy:    domain.InitiatedBySystem,
			}
			byProposal[proposalID] = req
			order = append(order, proposalID)
		}
		req.SwapIDs = append(req.SwapIDs, sw.ID)
		req.BookingIDs = append(req.BookingIDs, sw.BookingID)
	}

	requests := make([]*domain.CompletionRequest, len(order))
	for i, id := range order {
		requests[i] = byProposal[id]
	}
	return requests
}

// recordError captures a per-item failure without stopping the loop. It does
// not touch the error streak; degradation counts erroring ticks, not items.
func (s *Scanner) recordError(err error) {
	s.logger.Printf("scanner: %v", err)

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := err.Error()
	at := s.now().UTC()
	s.lastError = &msg
	s.lastErrorAt = &at
}

// markErrorTick counts one erroring tick toward the degraded threshold,
// however many items failed within it.
func (s *Scanner) markErrorTick() {
	s.mu.Lock()
	s.consecutiveErrors++
	s.mu.Unlock()
}

func (s *Scanner) clearErrorStreak() {
	s.mu.Lock()
	s.consecutiveErrors = 0
	s.mu.Unlock()
}

// restoreCheckpoint reloads cumulative totals saved by a previous process.
func (s *Scanner) restoreCheckpoint(ctx context.Context) {
	cp, err := s.checkpoints.GetCheckpoint(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Printf("scanner: restore checkpoint: %v", err)
		}
		return
	}
	s.totalChecks = cp.ChecksTotal
	s.totalSwaps = cp.SwapsScanned
	s.logger.Printf("scanner: restored checkpoint, %d checks, %d swaps", cp.ChecksTotal, cp.SwapsScanned)
}

// saveCheckpoint persists cumulative totals. Best effort; a failed save is
// logged and the loop continues.
func (s *Scanner) saveCheckpoint(ctx context.Context, at time.Time) {
	if s.checkpoints == nil {
		return
	}

	s.mu.Lock()
	cp := &storage.ScanCheckpoint{
		LastScanAt:   at,
		SwapsScanned: s.totalSwaps,
		ChecksTotal:  s.totalChecks,
	}
	s.mu.Unlock()

	if err := s.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		s.logger.Printf("scanner: save checkpoint: %v", err)
	}
}
