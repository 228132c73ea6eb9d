package queue

import (
	"context"
	"sync"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
)

// DefaultBuffer is the in-process queue depth.
const DefaultBuffer = 256

// Memory is an in-process implementation of Queue backed by a buffered
// channel. Used in tests and single-process deployments without NATS.
type Memory struct {
	buf  chan *domain.CompletionRequest
	out  chan *domain.CompletionRequest
	done chan struct{}
	once sync.Once
}

// NewMemory creates a new in-process queue. A non-positive buffer takes the
// default depth.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	q := &Memory{
		buf:  make(chan *domain.CompletionRequest, buffer),
		out:  make(chan *domain.CompletionRequest),
		done: make(chan struct{}),
	}
	go q.forward()
	return q
}

// Compile-time interface check.
var _ Queue = (*Memory)(nil)

// forward owns the subscriber channel: it moves buffered requests into it
// and closes it on Close. Requests still buffered at Close are dropped; the
// publisher side is expected to stop before the consumer does.
func (q *Memory) forward() {
	defer close(q.out)
	for {
		select {
		case req := <-q.buf:
			select {
			case q.out <- req:
			case <-q.done:
				return
			}
		case <-q.done:
			return
		}
	}
}

// Publish enqueues one request, blocking while the buffer is full.
func (q *Memory) Publish(ctx context.Context, req *domain.CompletionRequest) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.buf <- req:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns the delivery channel.
func (q *Memory) Subscribe(_ context.Context) (<-chan *domain.CompletionRequest, error) {
	select {
	case <-q.done:
		return nil, ErrClosed
	default:
	}
	return q.out, nil
}

// Close stops delivery.
func (q *Memory) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
