package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"github.com/bushboy/bookingswap-sub010/internal/idhash"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultReceiptTimeout = 20 * time.Second
)

// Gateway submission status values.
const (
	statusSealed  = "SEALED"
	statusPending = "PENDING"
)

// GatewayClient implements Recorder against the consensus gateway's HTTP
// JSON-RPC 2.0 API. Submissions are signed with the operator's ed25519 key.
type GatewayClient struct {
	endpoint       string
	client         *http.Client
	signingKey     ed25519.PrivateKey
	publicKey      string // base58
	stream         *ReceiptStream
	receiptTimeout time.Duration
	requestID      atomic.Uint64
}

// ClientOption configures GatewayClient.
type ClientOption func(*GatewayClient)

// WithTimeout bounds each HTTP call to the gateway.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *GatewayClient) {
		c.client.Timeout = d
	}
}

// WithHTTPClient replaces the default transport, mainly for tests.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *GatewayClient) {
		c.client = client
	}
}

// WithReceiptStream attaches a consensus stream used to await receipts for
// submissions the gateway accepts as PENDING.
func WithReceiptStream(s *ReceiptStream) ClientOption {
	return func(c *GatewayClient) {
		c.stream = s
	}
}

// WithReceiptTimeout bounds the wait for a consensus receipt.
func WithReceiptTimeout(d time.Duration) ClientOption {
	return func(c *GatewayClient) {
		c.receiptTimeout = d
	}
}

// NewGatewayClient creates a ledger gateway client signing with the given
// operator key. The key's public half must decode to an ed25519 curve point.
func NewGatewayClient(endpoint string, signingKey ed25519.PrivateKey, opts ...ClientOption) (*GatewayClient, error) {
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("operator key: expected %d bytes, got %d", ed25519.PrivateKeySize, len(signingKey))
	}

	pub := signingKey.Public().(ed25519.PublicKey)
	if !isOnCurve(pub) {
		return nil, fmt.Errorf("operator key: public key is not on the ed25519 curve")
	}

	c := &GatewayClient{
		endpoint:       endpoint,
		client:         &http.Client{Timeout: DefaultTimeout},
		signingKey:     signingKey,
		publicKey:      base58.Encode(pub),
		receiptTimeout: DefaultReceiptTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Compile-time interface check.
var _ Recorder = (*GatewayClient)(nil)

// ParseOperatorKey decodes a base58 operator key: either a 64-byte private
// key or a 32-byte seed.
func ParseOperatorKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode operator key: %w", err)
	}

	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("operator key: unexpected length %d", len(raw))
	}
}

func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

// JSON-RPC 2.0 envelope.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// submission is the signed record submitted to the gateway.
type submission struct {
	SubmissionID   string   `json:"submissionId"`
	ProposalID     string   `json:"proposalId"`
	CompletionType string   `json:"completionType"`
	SwapIDs        []string `json:"swapIds"`
	BookingIDs     []string `json:"bookingIds"`
	CashAmount     string   `json:"cashAmount,omitempty"`
	PublicKey      string   `json:"publicKey"` // base58 ed25519
	Signature      string   `json:"signature"` // base58 over the payload digest
}

// submitResult is the gateway response for submitRecord.
type submitResult struct {
	TransactionID      string `json:"transactionId"`
	Status             string `json:"status"`                       // SEALED | PENDING
	ConsensusTimestamp string `json:"consensusTimestamp,omitempty"` // RFC3339, sealed only
}

// Record submits one completion record and waits for its consensus receipt.
// The submission id is derived from the audit attempt, so the gateway
// deduplicates resubmissions of the same attempt after a transient failure.
func (c *GatewayClient) Record(ctx context.Context, req *RecordRequest) (*RecordResult, error) {
	sub := c.buildSubmission(req)

	var result submitResult
	if err := c.call(ctx, "submitRecord", []interface{}{sub}, &result); err != nil {
		return nil, err
	}

	switch result.Status {
	case statusSealed:
		return sealedResult(&result)
	case statusPending:
		return c.awaitReceipt(ctx, result.TransactionID)
	default:
		return nil, &PermanentError{Reason: fmt.Sprintf("unknown submission status %q", result.Status)}
	}
}

// buildSubmission assembles and signs the wire record.
func (c *GatewayClient) buildSubmission(req *RecordRequest) *submission {
	sub := &submission{
		SubmissionID:   idhash.ComputeSubmissionID(req.AuditID, req.ProposalID, req.CompletionType),
		ProposalID:     req.ProposalID,
		CompletionType: req.CompletionType,
		SwapIDs:        req.SwapIDs,
		BookingIDs:     req.BookingIDs,
		PublicKey:      c.publicKey,
	}
	if req.CashAmount.Valid {
		sub.CashAmount = req.CashAmount.Decimal.String()
	}

	sub.Signature = base58.Encode(ed25519.Sign(c.signingKey, submissionDigest(sub)))
	return sub
}

// submissionDigest hashes the fields covered by the operator signature.
func submissionDigest(sub *submission) []byte {
	h := sha256.New()
	h.Write([]byte(sub.SubmissionID))
	h.Write([]byte(sub.ProposalID))
	h.Write([]byte(sub.CompletionType))
	for _, id := range sub.SwapIDs {
		h.Write([]byte(id))
	}
	for _, id := range sub.BookingIDs {
		h.Write([]byte(id))
	}
	h.Write([]byte(sub.CashAmount))
	return h.Sum(nil)
}

// call performs one JSON-RPC call, classifying failures as transient or
// permanent. No internal retries.
func (c *GatewayClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return &PermanentError{Reason: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Reason: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Reason: "http request", Err: err}
	}

	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return &TransientError{Reason: "read response", Err: err}
	}

	// Rate limiting and server-side failures are retryable
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &TransientError{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &PermanentError{Reason: fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(respBody))}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return &TransientError{Reason: "unmarshal response", Err: err}
	}

	if rpcResp.Error != nil {
		// Implementation-defined server errors (-32000..-32099) are
		// retryable; protocol-level rejections are not.
		if rpcResp.Error.Code <= -32000 && rpcResp.Error.Code >= -32099 {
			return &TransientError{Reason: "gateway error", Err: rpcResp.Error}
		}
		return &PermanentError{Reason: "gateway rejected submission", Err: rpcResp.Error}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return &TransientError{Reason: "unmarshal result", Err: err}
		}
	}

	return nil
}

// awaitReceipt waits for the consensus stream to deliver the receipt of a
// submission accepted as PENDING. Without a stream the caller retries; the
// gateway deduplicates by submission id, so a retry observes the sealed
// record instead of creating a second one.
func (c *GatewayClient) awaitReceipt(ctx context.Context, txID string) (*RecordResult, error) {
	if c.stream == nil {
		return nil, &TransientError{Reason: fmt.Sprintf("submission %s pending, no consensus stream attached", txID)}
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	receipt, err := c.stream.AwaitReceipt(waitCtx, txID)
	if err != nil {
		return nil, &TransientError{Reason: fmt.Sprintf("awaiting receipt for %s", txID), Err: err}
	}

	return &RecordResult{
		TransactionID:      txID,
		ConsensusTimestamp: receipt.ConsensusTimestamp,
	}, nil
}

func sealedResult(res *submitResult) (*RecordResult, error) {
	if res.TransactionID == "" {
		return nil, &PermanentError{Reason: "sealed submission missing transaction id"}
	}

	ts, err := time.Parse(time.RFC3339Nano, res.ConsensusTimestamp)
	if err != nil {
		return nil, &PermanentError{Reason: fmt.Sprintf("bad consensus timestamp %q", res.ConsensusTimestamp), Err: err}
	}

	return &RecordResult{
		TransactionID:      res.TransactionID,
		ConsensusTimestamp: ts,
	}, nil
}
