// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Completion metrics
	CompletionsTotal   *prometheus.CounterVec
	CompletionDuration *prometheus.HistogramVec
	RollbacksTotal     prometheus.Counter
	ResumesTotal       prometheus.Counter

	// Ledger metrics
	LedgerAttempts *prometheus.CounterVec

	// Correction metrics
	CorrectionsTotal *prometheus.CounterVec

	// Scanner metrics
	ScannerTicks          *prometheus.CounterVec
	ScannerSwapsProcessed prometheus.Counter
	ScannerRunning        prometheus.Gauge
	ScannerLastTick       prometheus.Gauge

	// Queue metrics
	QueueMessages *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bookingswap"
	}

	return &Metrics{
		// Completion metrics
		CompletionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "attempts_total",
			Help:      "Total number of completion attempts by type and terminal status",
		}, []string{"completion_type", "status"}),
		CompletionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "attempt_duration_seconds",
			Help:      "Completion attempt duration from admission to terminal status",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"completion_type"}),
		RollbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "rollbacks_total",
			Help:      "Total number of operator-triggered rollbacks",
		}),
		ResumesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "completion",
			Name:      "ledger_resumes_total",
			Help:      "Total number of operator-triggered ledger resume runs",
		}),

		// Ledger metrics
		LedgerAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "record_attempts_total",
			Help:      "Total number of ledger record attempts by outcome",
		}, []string{"outcome"}),

		// Correction metrics
		CorrectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correction",
			Name:      "writes_total",
			Help:      "Total number of corrective writes by entity type and result",
		}, []string{"entity_type", "result"}),

		// Scanner metrics
		ScannerTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "ticks_total",
			Help:      "Total number of expiration scan ticks by outcome",
		}, []string{"status"}),
		ScannerSwapsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "swaps_processed_total",
			Help:      "Total number of expired swaps picked up by the scanner",
		}),
		ScannerRunning: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "running",
			Help:      "Whether the expiration scanner loop is running (1) or not (0)",
		}),
		ScannerLastTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scanner",
			Name:      "last_tick_timestamp",
			Help:      "Unix timestamp of the last completed scan tick",
		}),

		// Queue metrics
		QueueMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Total number of completion queue messages by outcome",
		}, []string{"outcome"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCompletion records one completion attempt reaching a terminal status.
func RecordCompletion(completionType, status string, durationSeconds float64) {
	DefaultMetrics.CompletionsTotal.WithLabelValues(completionType, status).Inc()
	DefaultMetrics.CompletionDuration.WithLabelValues(completionType).Observe(durationSeconds)
}

// RecordRollback increments the rollback counter.
func RecordRollback() {
	DefaultMetrics.RollbacksTotal.Inc()
}

// RecordResume increments the ledger resume counter.
func RecordResume() {
	DefaultMetrics.ResumesTotal.Inc()
}

// RecordLedgerAttempt records one ledger record attempt.
// Outcome is "sealed", "transient" or "permanent".
func RecordLedgerAttempt(outcome string) {
	DefaultMetrics.LedgerAttempts.WithLabelValues(outcome).Inc()
}

// RecordCorrection records one corrective write.
func RecordCorrection(entityType string, applied bool) {
	result := "applied"
	if !applied {
		result = "failed"
	}
	DefaultMetrics.CorrectionsTotal.WithLabelValues(entityType, result).Inc()
}

// RecordScannerTick records one completed scan tick.
func RecordScannerTick(status string, swapsProcessed int, at float64) {
	DefaultMetrics.ScannerTicks.WithLabelValues(status).Inc()
	DefaultMetrics.ScannerSwapsProcessed.Add(float64(swapsProcessed))
	DefaultMetrics.ScannerLastTick.Set(at)
}

// SetScannerRunning updates the scanner running gauge.
func SetScannerRunning(running bool) {
	if running {
		DefaultMetrics.ScannerRunning.Set(1)
	} else {
		DefaultMetrics.ScannerRunning.Set(0)
	}
}

// RecordQueueMessage records one consumed queue message.
// Outcome is "completed", "rejected", "failed" or "malformed".
func RecordQueueMessage(outcome string) {
	DefaultMetrics.QueueMessages.WithLabelValues(outcome).Inc()
}
