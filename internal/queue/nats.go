package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/observability"
)

// NATSConfig holds NATS transport configuration.
type NATSConfig struct {
	URL            string
	Name           string        // connection name reported to the server
	Subject        string        // defaults to DefaultSubject
	Group          string        // queue group, defaults to DefaultGroup
	ReconnectWait  time.Duration // defaults to 2s
	MaxReconnects  int           // defaults to 10
	ConnectTimeout time.Duration // defaults to 5s
	Buffer         int           // delivery channel depth, defaults to DefaultBuffer
}

// NATS is a Queue over a NATS subject with a queue group, so a request
// published by the proposal-acceptance path is consumed by exactly one
// worker. Messages are the JSON form of domain.CompletionRequest.
type NATS struct {
	conn    *nats.Conn
	subject string
	group   string
	buffer  int
	logger  *log.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	out    chan *domain.CompletionRequest
	done   chan struct{}
	closed bool
}

// NewNATS connects to the NATS server and returns the queue.
func NewNATS(cfg NATSConfig, logger *log.Logger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if logger == nil {
		logger = log.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Printf("nats reconnected to %s", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &NATS{
		conn:    conn,
		subject: cfg.Subject,
		group:   cfg.Group,
		buffer:  cfg.Buffer,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Compile-time interface check.
var _ Queue = (*NATS)(nil)

// Publish enqueues one request on the subject.
func (q *NATS) Publish(_ context.Context, req *domain.CompletionRequest) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal completion request: %w", err)
	}
	if err := q.conn.Publish(q.subject, payload); err != nil {
		return fmt.Errorf("publish completion request: %w", err)
	}
	return nil
}

// Subscribe joins the queue group and returns the delivery channel.
// Malformed messages are counted and dropped, never delivered.
func (q *NATS) Subscribe(_ context.Context) (<-chan *domain.CompletionRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if q.out != nil {
		return q.out, nil
	}

	out := make(chan *domain.CompletionRequest, q.buffer)
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		var req domain.CompletionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			observability.RecordQueueMessage("malformed")
			q.logger.Printf("queue: drop malformed message on %s: %v", q.subject, err)
			return
		}
		select {
		case out <- &req:
		case <-q.done:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("queue subscribe: %w", err)
	}

	q.sub = sub
	q.out = out
	return out, nil
}

// Close drains the subscription and closes the connection.
func (q *NATS) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)

	if q.sub != nil {
		if err := q.sub.Unsubscribe(); err != nil {
			q.logger.Printf("queue: unsubscribe: %v", err)
		}
	}
	q.conn.Close()
	return nil
}
