package queue

import (
	"context"
	"errors"
	"log"

	"github.com/bushboy/bookingswap-sub010/internal/completion"
	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/observability"
)

// Completer is the orchestrator entry point the consumer feeds.
type Completer interface {
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.SwapCompletionAudit, error)
}

// Consumer drains a queue into the completion orchestrator, one request at a
// time. Per-request failures are logged and counted; they never stop the
// loop. Admission rejections (duplicate completion, bad shape) are expected
// outcomes here, not faults: publishers may legitimately re-send.
type Consumer struct {
	queue     Queue
	completer Completer
	logger    *log.Logger
}

// NewConsumer creates a new Consumer. A nil logger falls back to the
// process default.
func NewConsumer(q Queue, completer Completer, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		queue:     q,
		completer: completer,
		logger:    logger,
	}
}

// Run consumes requests until the context is cancelled or the queue closes.
func (c *Consumer) Run(ctx context.Context) error {
	requests, err := c.queue.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			c.handle(ctx, req)
		}
	}
}

// handle runs one request through the orchestrator.
func (c *Consumer) handle(ctx context.Context, req *domain.CompletionRequest) {
	audit, err := c.completer.Complete(ctx, req)
	switch {
	case err == nil:
		observability.RecordQueueMessage("completed")
		c.logger.Printf("queue: proposal %s completed, attempt %s", req.ProposalID, audit.ID)
	case errors.Is(err, completion.ErrDuplicateCompletion),
		errors.Is(err, completion.ErrInvalidRequest),
		errors.Is(err, completion.ErrEmptyEntitySet):
		observability.RecordQueueMessage("rejected")
		c.logger.Printf("queue: proposal %s rejected: %v", req.ProposalID, err)
	default:
		observability.RecordQueueMessage("failed")
		c.logger.Printf("queue: proposal %s failed: %v", req.ProposalID, err)
	}
}
