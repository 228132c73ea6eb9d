// Package queue carries completion requests from the synchronous
// proposal-acceptance path to the orchestrator. The scanner and the queue
// consumer feed the same orchestrator entry point: one code path, two
// triggers.
package queue

import (
	"context"
	"errors"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
)

// DefaultSubject is the NATS subject completion requests are published on.
const DefaultSubject = "completion.requests"

// DefaultGroup is the queue group consumers join, so each request is
// delivered to exactly one consumer.
const DefaultGroup = "completion-workers"

// ErrClosed is returned when publishing to or subscribing on a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is the completion request handoff.
type Queue interface {
	// Publish enqueues one completion request.
	Publish(ctx context.Context, req *domain.CompletionRequest) error

	// Subscribe returns the channel requests are delivered on. Delivery
	// stops when the queue closes; consumers should also watch their
	// context rather than rely on the channel closing.
	Subscribe(ctx context.Context) (<-chan *domain.CompletionRequest, error)

	// Close stops delivery and releases transport resources.
	Close() error
}
