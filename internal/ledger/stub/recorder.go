package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bushboy/bookingswap-sub010/internal/ledger"
)

// Recorder implements ledger.Recorder for testing. Failure behavior is
// scripted per instance; successful calls return sequential transaction ids.
type Recorder struct {
	mu        sync.Mutex
	calls     []*ledger.RecordRequest
	transient int
	permanent error
	seq       int
	now       func() time.Time
}

// NewRecorder creates a new stub recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// Compile-time interface check.
var _ ledger.Recorder = (*Recorder)(nil)

// FailTransient makes the next n calls fail with a TransientError.
func (r *Recorder) FailTransient(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transient = n
}

// FailPermanent makes every subsequent call fail with a PermanentError.
func (r *Recorder) FailPermanent(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permanent = &ledger.PermanentError{Reason: reason}
}

// SetClock overrides the consensus timestamp source.
func (r *Recorder) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Calls returns every request received so far.
func (r *Recorder) Calls() []*ledger.RecordRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ledger.RecordRequest, len(r.calls))
	copy(out, r.calls)
	return out
}

// Record returns the scripted outcome for one submission attempt.
func (r *Recorder) Record(_ context.Context, req *ledger.RecordRequest) (*ledger.RecordResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, req)

	if r.transient > 0 {
		r.transient--
		return nil, &ledger.TransientError{Reason: "gateway unavailable"}
	}
	if r.permanent != nil {
		return nil, r.permanent
	}

	r.seq++
	return &ledger.RecordResult{
		TransactionID:      fmt.Sprintf("stub-tx-%04d", r.seq),
		ConsensusTimestamp: r.now().UTC(),
	}, nil
}
