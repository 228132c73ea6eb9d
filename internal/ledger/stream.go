package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Receipt is one consensus confirmation pushed by the gateway.
type Receipt struct {
	TransactionID      string
	ConsensusTimestamp time.Time
}

// StreamConfig configures ReceiptStream behavior.
type StreamConfig struct {
	// ReconnectDelay seeds the backoff after a read failure; the delay
	// doubles per failure up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// PingInterval spaces keepalive frames.
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ReceiptStream consumes the gateway's consensus receipt push channel over
// WebSocket and hands receipts to waiting submitters. The gateway pushes
// every receipt for the authenticated operator, so there is nothing to
// resubscribe after a reconnect.
type ReceiptStream struct {
	endpoint string
	config   StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// waiters maps transaction id to the channel its submitter blocks on;
	// early holds receipts that arrived before their waiter registered
	mu      sync.Mutex
	waiters map[string]chan Receipt
	early   map[string]Receipt

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

// NewReceiptStream creates a receipt stream and connects to the endpoint.
func NewReceiptStream(ctx context.Context, endpoint string, config *StreamConfig) (*ReceiptStream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &ReceiptStream{
		endpoint: endpoint,
		config:   cfg,
		waiters:  make(map[string]chan Receipt),
		early:    make(map[string]Receipt),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// connect dials the gateway's receipt endpoint.
func (s *ReceiptStream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// AwaitReceipt blocks until the receipt for the given transaction arrives,
// the context expires, or the stream closes. A receipt pushed before the
// call is consumed from the early buffer.
func (s *ReceiptStream) AwaitReceipt(ctx context.Context, txID string) (*Receipt, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("stream closed")
	}

	s.mu.Lock()
	if r, ok := s.early[txID]; ok {
		delete(s.early, txID)
		s.mu.Unlock()
		return &r, nil
	}
	ch := make(chan Receipt, 1)
	s.waiters[txID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.waiters, txID)
		s.mu.Unlock()
	}()

	select {
	case r := <-ch:
		return &r, nil
	case <-s.done:
		return nil, fmt.Errorf("stream closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the WebSocket connection.
func (s *ReceiptStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	return nil
}

// readLoop reads messages from WebSocket and dispatches receipts to waiters.
func (s *ReceiptStream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			// One reconnector at a time; other read errors just back off.
			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}
			if reconnectDelay *= 2; reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect attempts to re-establish the connection after a delay.
func (s *ReceiptStream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Reconnect failure is retried on the next read error
	_ = s.connect(ctx)
}

// handleMessage processes one incoming WebSocket message.
func (s *ReceiptStream) handleMessage(message []byte) {
	var notif streamNotification
	if err := json.Unmarshal(message, &notif); err != nil {
		return
	}
	if notif.Method != "receiptNotification" || notif.Params == nil {
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, notif.Params.ConsensusTimestamp)
	if err != nil {
		return
	}

	s.dispatch(Receipt{
		TransactionID:      notif.Params.TransactionID,
		ConsensusTimestamp: ts,
	})
}

// dispatch hands a receipt to its waiter, or buffers it for a waiter that
// has not registered yet.
func (s *ReceiptStream) dispatch(r Receipt) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.waiters[r.TransactionID]; ok {
		delete(s.waiters, r.TransactionID)
		select {
		case ch <- r:
		default:
		}
		return
	}

	s.early[r.TransactionID] = r
}

// pingLoop keeps the connection alive between receipt pushes.
func (s *ReceiptStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				// A failed ping surfaces as a read error in readLoop,
				// which owns reconnection.
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}

type streamNotification struct {
	JSONRPC string               `json:"jsonrpc"`
	Method  string               `json:"method"`
	Params  *streamReceiptParams `json:"params"`
}

type streamReceiptParams struct {
	TransactionID      string `json:"transactionId"`
	ConsensusTimestamp string `json:"consensusTimestamp"`
}
