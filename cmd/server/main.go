// Package main runs the unified completion service:
// - Queue consumer (continuous): drains accepted proposals into the orchestrator
// - Expiration scanner (scheduled): settles swaps past their deadline
// - Operational HTTP surface: /health, /metrics, /status, /completions/*
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bushboy/bookingswap-sub010/internal/completion"
	"github.com/bushboy/bookingswap-sub010/internal/domain"
	"github.com/bushboy/bookingswap-sub010/internal/health"
	"github.com/bushboy/bookingswap-sub010/internal/ledger"
	"github.com/bushboy/bookingswap-sub010/internal/ledger/stub"
	"github.com/bushboy/bookingswap-sub010/internal/observability"
	"github.com/bushboy/bookingswap-sub010/internal/queue"
	"github.com/bushboy/bookingswap-sub010/internal/scanner"
	"github.com/bushboy/bookingswap-sub010/internal/status"
	"github.com/bushboy/bookingswap-sub010/internal/storage"
	chstore "github.com/bushboy/bookingswap-sub010/internal/storage/clickhouse"
	"github.com/bushboy/bookingswap-sub010/internal/storage/memory"
	"github.com/bushboy/bookingswap-sub010/internal/storage/migrations"
	pgstore "github.com/bushboy/bookingswap-sub010/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	scanner   *scanner.Scanner
	statusSvc *status.Service
	healthReg *health.Registry
	logger    *log.Logger
	startedAt time.Time
}

// allStores holds the storage implementations behind the service.
type allStores struct {
	audits      storage.CompletionAuditStore
	swaps       storage.SwapStore
	bookings    storage.BookingStore
	exchange    storage.ExchangeStore
	events      storage.CompletionEventStore
	checkpoints storage.ScanCheckpointStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (event journal)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	natsURL := flag.String("nats-url", os.Getenv("NATS_URL"), "NATS server URL (empty runs the in-process queue)")
	ledgerEndpoint := flag.String("ledger-endpoint", os.Getenv("LEDGER_ENDPOINT"), "Consensus ledger gateway endpoint (empty runs the stub recorder)")
	ledgerStream := flag.String("ledger-stream-endpoint", os.Getenv("LEDGER_STREAM_ENDPOINT"), "Consensus receipt stream WebSocket endpoint")
	operatorKey := flag.String("ledger-operator-key", os.Getenv("LEDGER_OPERATOR_KEY"), "Base58 ed25519 operator key for ledger submissions")
	httpAddr := flag.String("http-addr", ":8080", "Operational HTTP address (health, metrics, status)")
	scanInterval := flag.Duration("scan-interval", scanner.DefaultCheckInterval, "Expiration scan interval")
	scanStartupDelay := flag.Duration("scan-startup-delay", scanner.DefaultStartupDelay, "Delay before the first expiration scan")
	scanBatchLimit := flag.Int("scan-batch-limit", scanner.DefaultBatchLimit, "Maximum expired swaps per scan")
	disableScanner := flag.Bool("disable-scanner", false, "Run without the expiration scanner")
	shutdownTimeout := flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown budget")
	verbose := flag.Bool("verbose", false, "Verbose per-attempt logging")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}
	if *ledgerEndpoint != "" && *operatorKey == "" {
		logger.Fatal("--ledger-operator-key is required with --ledger-endpoint")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create the ledger recorder
	recorder, closeRecorder, err := createRecorder(ctx, *ledgerEndpoint, *ledgerStream, *operatorKey, logger)
	if err != nil {
		logger.Fatalf("Failed to create ledger recorder: %v", err)
	}
	defer closeRecorder()

	// Create the completion queue
	q, err := createQueue(*natsURL, logger)
	if err != nil {
		logger.Fatalf("Failed to create completion queue: %v", err)
	}
	defer q.Close()

	// Create the orchestrator
	orch := completion.New(completion.Options{
		AuditStore:    stores.audits,
		SwapStore:     stores.swaps,
		BookingStore:  stores.bookings,
		ExchangeStore: stores.exchange,
		EventStore:    stores.events,
		Recorder:      recorder,
		Logger:        log.New(os.Stdout, "[completion] ", log.LstdFlags),
		Verbose:       *verbose,
	})

	// Create the scanner
	sc := scanner.New(scanner.Options{
		SwapStore:     stores.swaps,
		Completer:     orch,
		Checkpoints:   stores.checkpoints,
		CheckInterval: *scanInterval,
		StartupDelay:  *scanStartupDelay,
		BatchLimit:    *scanBatchLimit,
		Logger:        log.New(os.Stdout, "[scanner] ", log.LstdFlags),
	})

	server := &Server{
		scanner:   sc,
		statusSvc: status.NewService(stores.audits, stores.events),
		healthReg: health.NewRegistry(),
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
	server.healthReg.Register("scanner", scannerCheck(sc))

	// Handle shutdown signals: first signal starts the graceful path, a
	// second one forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		sig = <-sigCh
		logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
		os.Exit(1)
	}()

	g, gctx := errgroup.WithContext(ctx)

	// Queue consumer
	consumer := queue.NewConsumer(q, orch, log.New(os.Stdout, "[consumer] ", log.LstdFlags))
	g.Go(func() error {
		err := consumer.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Expiration scanner
	if !*disableScanner {
		if err := sc.Start(); err != nil {
			logger.Fatalf("Failed to start scanner: %v", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			result := sc.StopGracefully(*shutdownTimeout)
			if result.TimedOut {
				logger.Println("Scanner graceful stop timed out, forcing stop")
				sc.Stop()
			}
			return nil
		})
	} else {
		logger.Println("Expiration scanner disabled")
	}

	// Operational HTTP server
	httpSrv := &http.Server{Addr: *httpAddr, Handler: server.routes()}
	g.Go(func() error {
		logger.Printf("Starting HTTP server on %s", *httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer shutdownCancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createStores creates all required stores. The returned cleanup closes the
// underlying connections.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (*allStores, func(), error) {
	if useMemory {
		swaps := memory.NewSwapStore()
		bookings := memory.NewBookingStore()
		stores := &allStores{
			audits:      memory.NewAuditStore(),
			swaps:       swaps,
			bookings:    bookings,
			exchange:    memory.NewExchangeStore(swaps, bookings),
			events:      memory.NewEventStore(),
			checkpoints: memory.NewCheckpointStore(),
		}
		logger.Println("Using in-memory storage")
		return stores, func() {}, nil
	}

	// PostgreSQL: relational source of truth
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse: append-only event journal
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		audits:      pgstore.NewAuditStore(pool),
		swaps:       pgstore.NewSwapStore(pool),
		bookings:    pgstore.NewBookingStore(pool),
		exchange:    pgstore.NewExchangeStore(pool),
		events:      chstore.NewEventStore(chConn),
		checkpoints: pgstore.NewCheckpointStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// createRecorder builds the consensus ledger boundary. Without an endpoint
// the stub recorder stands in, which seals every submission locally; fine for
// development, useless in production.
func createRecorder(ctx context.Context, endpoint, streamEndpoint, operatorKey string, logger *log.Logger) (ledger.Recorder, func(), error) {
	if endpoint == "" {
		logger.Println("WARNING: no ledger endpoint configured, using the stub recorder")
		return stub.NewRecorder(), func() {}, nil
	}

	key, err := ledger.ParseOperatorKey(operatorKey)
	if err != nil {
		return nil, nil, err
	}

	var opts []ledger.ClientOption
	closeStream := func() {}
	if streamEndpoint != "" {
		stream, err := ledger.NewReceiptStream(ctx, streamEndpoint, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("connect receipt stream: %w", err)
		}
		opts = append(opts, ledger.WithReceiptStream(stream))
		closeStream = func() { stream.Close() }
	}

	client, err := ledger.NewGatewayClient(endpoint, key, opts...)
	if err != nil {
		closeStream()
		return nil, nil, err
	}
	return client, closeStream, nil
}

// createQueue builds the completion request queue: NATS when a URL is given,
// the in-process channel queue otherwise.
func createQueue(natsURL string, logger *log.Logger) (queue.Queue, error) {
	if natsURL == "" {
		logger.Println("No NATS URL configured, using the in-process queue")
		return queue.NewMemory(0), nil
	}
	return queue.NewNATS(queue.NATSConfig{
		URL:  natsURL,
		Name: "completion-server",
	}, logger)
}

// scannerCheck adapts the scanner's health to a registry check.
func scannerCheck(sc *scanner.Scanner) health.Check {
	return func(context.Context) health.CheckResult {
		st := sc.GetStatus()
		result := health.CheckResult{}
		switch st.Health {
		case scanner.HealthHealthy:
			result.Status = health.StatusHealthy
		case scanner.HealthDegraded:
			result.Status = health.StatusDegraded
		default:
			result.Status = health.StatusUnhealthy
		}
		if st.LastError != nil {
			result.Detail = *st.LastError
		}
		return result
	}
}

// routes builds the operational HTTP mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthReg.Handler())
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/completions/proposal", s.handleByProposal)
	mux.HandleFunc("/completions/swap", s.handleBySwap)
	mux.HandleFunc("/completions/booking", s.handleByBooking)
	mux.HandleFunc("/completions/history", s.handleHistory)
	mux.HandleFunc("/completions/errors", s.handleErrorSummary)
	return mux
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status    string         `json:"status"`
	Uptime    string         `json:"uptime"`
	StartedAt time.Time      `json:"started_at"`
	Scanner   scanner.Status `json:"scanner"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatusResponse{
		Status:    "running",
		Uptime:    time.Since(s.startedAt).String(),
		StartedAt: s.startedAt,
		Scanner:   s.scanner.GetStatus(),
	})
}

func (s *Server) handleByProposal(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, r, "id", s.statusSvc.GetStatusByProposal)
}

func (s *Server) handleBySwap(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, r, "id", s.statusSvc.GetStatusBySwap)
}

func (s *Server) handleByBooking(w http.ResponseWriter, r *http.Request) {
	s.lookup(w, r, "id", s.statusSvc.GetStatusByBooking)
}

// handleHistory returns every attempt for a proposal, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	proposalID := r.URL.Query().Get("proposal")
	if proposalID == "" {
		http.Error(w, "proposal query parameter is required", http.StatusBadRequest)
		return
	}
	history, err := s.statusSvc.GetHistory(r.Context(), proposalID)
	if err != nil {
		s.logger.Printf("history for proposal %s: %v", proposalID, err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, history)
}

// handleErrorSummary returns the operator error picture. An optional
// since=RFC3339 parameter overrides the default window.
func (s *Server) handleErrorSummary(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	summary, err := s.statusSvc.GetErrorSummary(r.Context(), since)
	if err != nil {
		s.logger.Printf("error summary: %v", err)
		http.Error(w, "summary failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, summary)
}

// lookup runs one latest-attempt query and writes the result. A nil attempt
// yields 404.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, param string, fn func(context.Context, string) (*domain.SwapCompletionAudit, error)) {
	id := r.URL.Query().Get(param)
	if id == "" {
		http.Error(w, param+" query parameter is required", http.StatusBadRequest)
		return
	}
	audit, err := fn(r.Context(), id)
	if err != nil {
		s.logger.Printf("lookup %s: %v", id, err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if audit == nil {
		http.Error(w, "no completion attempt found", http.StatusNotFound)
		return
	}
	writeJSON(w, audit)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// loadEnvFile merges KEY=VALUE lines from ./.env into the environment.
// Variables already set win; a missing file is not an error.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
