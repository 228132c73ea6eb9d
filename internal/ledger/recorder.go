package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder is the boundary to the external consensus ledger. Implementations
// perform exactly one submission attempt per call; retry policy belongs to
// the caller.
type Recorder interface {
	// Record submits one completion record. On success the consensus
	// transaction id and timestamp are returned. Failures are *TransientError
	// (worth retrying) or *PermanentError (retrying cannot help).
	Record(ctx context.Context, req *RecordRequest) (*RecordResult, error)
}

// RecordRequest is the completion record submitted to the ledger.
type RecordRequest struct {
	AuditID        string              // attempt the submission belongs to
	ProposalID     string              // proposal scope
	CompletionType string              // booking_exchange | cash_payment
	SwapIDs        []string            // ordered
	BookingIDs     []string            // ordered
	CashAmount     decimal.NullDecimal // cash_payment only
}

// RecordResult is the confirmed outcome of a ledger submission.
type RecordResult struct {
	TransactionID      string    // base58 consensus transaction id
	ConsensusTimestamp time.Time // timestamp assigned by consensus
}

// TransientError is a submission failure the caller may retry: connectivity,
// rate limiting, gateway overload, or a receipt that did not arrive in time.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient ledger error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("transient ledger error: %s", e.Reason)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a rejection that retrying cannot fix: malformed
// submission, unauthorized operator key, or a record the ledger refused.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent ledger error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent ledger error: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is or wraps a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is or wraps a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
