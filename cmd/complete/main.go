// Package main is the operator CLI for the completion engine. It runs one
// action against the production stores and prints the resulting audit record:
//
//	complete       settle an accepted proposal now
//	rollback       revert a failed attempt's committed changes
//	resume-ledger  finish a committed attempt whose ledger recording failed
//	status         print the latest attempt and full history for a proposal
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bushboy/bookingswap-sub010/internal/completion"
	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/ledger"
	"github.com/bushboy/bookingswap-sub010/internal/ledger/stub"
	"github.com/bushboy/bookingswap-sub010/internal/status"
	chstore "github.com/bushboy/bookingswap-sub010/internal/storage/clickhouse"
	pgstore "github.com/bushboy/bookingswap-sub010/internal/storage/postgres"
)

func main() {
	action := flag.String("action", "", "Action: complete | rollback | resume-ledger | status")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (optional, event journal)")
	ledgerEndpoint := flag.String("ledger-endpoint", os.Getenv("LEDGER_ENDPOINT"), "Consensus ledger gateway endpoint")
	operatorKey := flag.String("ledger-operator-key", os.Getenv("LEDGER_OPERATOR_KEY"), "Base58 ed25519 operator key")
	proposalID := flag.String("proposal", "", "Proposal id (complete, status)")
	completionType := flag.String("type", "booking_exchange", "Completion type: booking_exchange | cash_payment")
	initiatedBy := flag.String("initiated-by", "", "User id initiating the completion")
	swapIDs := flag.String("swaps", "", "Comma-separated swap ids (complete)")
	bookingIDs := flag.String("bookings", "", "Comma-separated booking ids (complete)")
	cashAmount := flag.String("cash-amount", "", "Settled cash amount (cash_payment only)")
	auditID := flag.String("audit-id", "", "Audit id (rollback, resume-ledger)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall action timeout")
	verbose := flag.Bool("verbose", false, "Verbose per-attempt logging")
	flag.Parse()

	logger := log.New(os.Stderr, "[complete] ", log.LstdFlags)

	if *postgresDSN == "" {
		fatalf("--postgres-dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		fatalf("connect to postgres: %v", err)
	}
	defer pool.Close()

	audits := pgstore.NewAuditStore(pool)

	// The journal is optional for one-shot actions; without ClickHouse the
	// attempt simply is not journaled.
	var events *chstore.EventStore
	if *clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		events = chstore.NewEventStore(conn)
	}

	if *action == "status" {
		if *proposalID == "" {
			fatalf("--proposal is required for status")
		}
		svc := status.NewService(audits, nil)
		latest, err := svc.GetStatusByProposal(ctx, *proposalID)
		if err != nil {
			fatalf("status: %v", err)
		}
		history, err := svc.GetHistory(ctx, *proposalID)
		if err != nil {
			fatalf("history: %v", err)
		}
		printJSON(map[string]interface{}{
			"proposal_id": *proposalID,
			"latest":      latest,
			"history":     history,
		})
		return
	}

	recorder, closeRecorder := buildRecorder(*action, *ledgerEndpoint, *operatorKey)
	defer closeRecorder()

	opts := completion.Options{
		AuditStore:    audits,
		SwapStore:     pgstore.NewSwapStore(pool),
		BookingStore:  pgstore.NewBookingStore(pool),
		ExchangeStore: pgstore.NewExchangeStore(pool),
		Recorder:      recorder,
		Logger:        logger,
		Verbose:       *verbose,
	}
	if events != nil {
		opts.EventStore = events
	}
	orch := completion.New(opts)

	var audit *domain.SwapCompletionAudit
	switch *action {
	case "complete":
		req, err := buildRequest(*proposalID, *completionType, *initiatedBy, *swapIDs, *bookingIDs, *cashAmount)
		if err != nil {
			fatalf("%v", err)
		}
		audit, err = orch.Complete(ctx, req)
		if err != nil {
			reportOutcome(audit, err)
		}
	case "rollback":
		if *auditID == "" {
			fatalf("--audit-id is required for rollback")
		}
		audit, err = orch.Rollback(ctx, *auditID)
		if err != nil {
			reportOutcome(audit, err)
		}
	case "resume-ledger":
		if *auditID == "" {
			fatalf("--audit-id is required for resume-ledger")
		}
		audit, err = orch.ResumeLedger(ctx, *auditID)
		if err != nil {
			reportOutcome(audit, err)
		}
	case "":
		fatalf("--action is required (complete | rollback | resume-ledger | status)")
	default:
		fatalf("unknown action %q", *action)
	}

	printJSON(audit)
}

// buildRecorder returns the ledger boundary for the action. Rollback never
// talks to the ledger, so it runs on the stub; the mutating actions require a
// real gateway.
func buildRecorder(action, endpoint, operatorKey string) (ledger.Recorder, func()) {
	if action == "rollback" {
		return stub.NewRecorder(), func() {}
	}
	if endpoint == "" {
		fatalf("--ledger-endpoint is required for %s", action)
	}
	if operatorKey == "" {
		fatalf("--ledger-operator-key is required for %s", action)
	}

	key, err := ledger.ParseOperatorKey(operatorKey)
	if err != nil {
		fatalf("%v", err)
	}
	client, err := ledger.NewGatewayClient(endpoint, key)
	if err != nil {
		fatalf("%v", err)
	}
	return client, func() {}
}

// buildRequest assembles a completion request from the CLI flags.
func buildRequest(proposalID, completionType, initiatedBy, swaps, bookings, cash string) (*domain.CompletionRequest, error) {
	if proposalID == "" {
		return nil, fmt.Errorf("--proposal is required for complete")
	}
	if initiatedBy == "" {
		return nil, fmt.Errorf("--initiated-by is required for complete")
	}

	req := &domain.CompletionRequest{
		ProposalID:     proposalID,
		CompletionType: domain.CompletionType(completionType),
		InitiatedBy:    initiatedBy,
		SwapIDs:        splitIDs(swaps),
		BookingIDs:     splitIDs(bookings),
	}
	if !req.CompletionType.IsValid() {
		return nil, fmt.Errorf("unknown completion type %q", completionType)
	}
	if len(req.SwapIDs) == 0 || len(req.BookingIDs) == 0 {
		return nil, fmt.Errorf("--swaps and --bookings are required for complete")
	}

	if cash != "" {
		amount, err := decimal.NewFromString(cash)
		if err != nil {
			return nil, fmt.Errorf("parse cash amount: %w", err)
		}
		req.CashAmount = decimal.NullDecimal{Decimal: amount, Valid: true}
	}
	return req, nil
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// reportOutcome prints a failed attempt's audit record before exiting, so the
// operator sees what the engine recorded, not just the error string.
func reportOutcome(audit *domain.SwapCompletionAudit, err error) {
	if audit != nil {
		printJSON(audit)
	}
	fatalf("%v", err)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
