package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/bushboy/bookingswap-sub010/internal/idhash"
)

// testRPCRequest mirrors rpcRequest with raw params for inspection.
type testRPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      uint64            `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

func testSigningKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func testRecordRequest() *RecordRequest {
	return &RecordRequest{
		AuditID:        "audit-1",
		ProposalID:     "prop-1",
		CompletionType: "booking_exchange",
		SwapIDs:        []string{"swap-a", "swap-b"},
		BookingIDs:     []string{"bk-x", "bk-y"},
	}
}

func TestGatewayClient_RecordSealed(t *testing.T) {
	var received submission

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Method != "submitRecord" {
			t.Errorf("expected method submitRecord, got %s", req.Method)
		}
		if len(req.Params) != 1 {
			t.Fatalf("expected 1 param, got %d", len(req.Params))
		}
		if err := json.Unmarshal(req.Params[0], &received); err != nil {
			t.Fatalf("unmarshal submission: %v", err)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"transactionId":      "5KJv8zLq",
				"status":             "SEALED",
				"consensusTimestamp": "2026-03-01T12:00:00.123Z",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	key := testSigningKey(t)
	client, err := NewGatewayClient(server.URL, key)
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	req := testRecordRequest()
	req.CompletionType = "cash_payment"
	req.CashAmount = decimal.NewNullDecimal(decimal.RequireFromString("150.5"))

	result, err := client.Record(context.Background(), req)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if result.TransactionID != "5KJv8zLq" {
		t.Errorf("expected transaction id 5KJv8zLq, got %s", result.TransactionID)
	}

	want := time.Date(2026, 3, 1, 12, 0, 0, 123000000, time.UTC)
	if !result.ConsensusTimestamp.Equal(want) {
		t.Errorf("expected consensus timestamp %v, got %v", want, result.ConsensusTimestamp)
	}

	// Submission id must be stable across retries of the same attempt
	wantSubID := idhash.ComputeSubmissionID("audit-1", "prop-1", "cash_payment")
	if received.SubmissionID != wantSubID {
		t.Errorf("expected submission id %s, got %s", wantSubID, received.SubmissionID)
	}

	if received.CashAmount != "150.5" {
		t.Errorf("expected cash amount 150.5, got %s", received.CashAmount)
	}

	// The signature must verify against the declared public key
	pubBytes, err := base58.Decode(received.PublicKey)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	sigBytes, err := base58.Decode(received.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !ed25519.Verify(pubBytes, submissionDigest(&received), sigBytes) {
		t.Error("submission signature did not verify")
	}
}

func TestGatewayClient_SingleAttempt(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewGatewayClient(server.URL, testSigningKey(t))
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	_, err = client.Record(context.Background(), testRecordRequest())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}

	// Retry policy belongs to the caller, not the client
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts.Load())
	}
}

func TestGatewayClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewGatewayClient(server.URL, testSigningKey(t))
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	_, err = client.Record(context.Background(), testRecordRequest())
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestGatewayClient_GatewayServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32000,
				"message": "consensus backlog",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewGatewayClient(server.URL, testSigningKey(t))
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	_, err = client.Record(context.Background(), testRecordRequest())
	if !IsTransient(err) {
		t.Errorf("expected transient error for server error code, got %v", err)
	}
}

func TestGatewayClient_RejectedSubmission(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    -32602,
				"message": "invalid submission",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewGatewayClient(server.URL, testSigningKey(t))
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	_, err = client.Record(context.Background(), testRecordRequest())
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if IsTransient(err) {
		t.Error("rejection must not be classified transient")
	}
}

func TestGatewayClient_PendingWithoutStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"transactionId": "tx-pending-1",
				"status":        "PENDING",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewGatewayClient(server.URL, testSigningKey(t))
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	// Safe to surface as transient: the gateway deduplicates by submission
	// id, so the retry observes the sealed record.
	_, err = client.Record(context.Background(), testRecordRequest())
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestGatewayClient_PendingWithStream(t *testing.T) {
	wsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		time.Sleep(50 * time.Millisecond)
		notif := streamNotification{
			JSONRPC: "2.0",
			Method:  "receiptNotification",
			Params: &streamReceiptParams{
				TransactionID:      "tx-pending-1",
				ConsensusTimestamp: "2026-03-01T12:00:05Z",
			},
		}
		if err := conn.WriteJSON(notif); err != nil {
			return
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer wsServer.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req testRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]interface{}{
				"transactionId": "tx-pending-1",
				"status":        "PENDING",
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(wsServer.URL, "http")
	stream, err := NewReceiptStream(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("NewReceiptStream: %v", err)
	}
	defer stream.Close()

	client, err := NewGatewayClient(server.URL, testSigningKey(t),
		WithReceiptStream(stream),
		WithReceiptTimeout(2*time.Second),
	)
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	result, err := client.Record(context.Background(), testRecordRequest())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	if result.TransactionID != "tx-pending-1" {
		t.Errorf("expected tx-pending-1, got %s", result.TransactionID)
	}

	want := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	if !result.ConsensusTimestamp.Equal(want) {
		t.Errorf("expected consensus timestamp %v, got %v", want, result.ConsensusTimestamp)
	}
}

func TestGatewayClient_InvalidKeySize(t *testing.T) {
	_, err := NewGatewayClient("http://localhost:9999", ed25519.PrivateKey([]byte("short")))
	if err == nil {
		t.Fatal("expected error for invalid key size")
	}
}

func TestParseOperatorKey(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	// Full 64-byte private key
	parsed, err := ParseOperatorKey(base58.Encode(priv))
	if err != nil {
		t.Fatalf("ParseOperatorKey full key: %v", err)
	}
	if !parsed.Equal(priv) {
		t.Error("parsed key does not match original")
	}

	// 32-byte seed
	parsed, err = ParseOperatorKey(base58.Encode(priv.Seed()))
	if err != nil {
		t.Fatalf("ParseOperatorKey seed: %v", err)
	}
	if !parsed.Public().(ed25519.PublicKey).Equal(pub) {
		t.Error("seed-derived public key does not match original")
	}

	// Wrong length
	if _, err := ParseOperatorKey(base58.Encode([]byte("nope"))); err == nil {
		t.Error("expected error for wrong key length")
	}

	// Not base58
	if _, err := ParseOperatorKey("0OIl"); err == nil {
		t.Error("expected error for invalid base58")
	}
}

func TestGatewayClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewGatewayClient(server.URL, testSigningKey(t))
	if err != nil {
		t.Fatalf("NewGatewayClient: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err = client.Record(ctx, testRecordRequest())
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
