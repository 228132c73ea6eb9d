// Package health is an explicitly constructed check registry. Components
// register named checks at wiring time; there is no process-wide singleton,
// so tests can build a registry with fakes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check statuses, ordered from best to worst.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one registered check.
type CheckResult struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Check probes one component. Implementations must be fast and side-effect
// free; they run on every health request.
type Check func(ctx context.Context) CheckResult

// Registry holds named health checks.
type Registry struct {
	mu     sync.RWMutex
	names  []string // registration order
	checks map[string]Check
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[string]Check)}
}

// Register adds a named check. Re-registering a name replaces the previous
// check, which lets a restarting component refresh its probe.
func (r *Registry) Register(name string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checks[name]; !exists {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// Report is the aggregated outcome of all checks.
type Report struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	CheckedAt time.Time              `json:"checked_at"`
}

// Run executes every check and aggregates the worst status.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	names := append([]string(nil), r.names...)
	checks := make(map[string]Check, len(r.checks))
	for name, check := range r.checks {
		checks[name] = check
	}
	r.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]CheckResult, len(names)),
		CheckedAt: time.Now().UTC(),
	}
	for _, name := range names {
		result := checks[name](ctx)
		report.Checks[name] = result
		if worse(result.Status, report.Status) {
			report.Status = result.Status
		}
	}
	return report
}

// worse reports whether a is a worse status than b.
func worse(a, b string) bool {
	return rank(a) > rank(b)
}

func rank(status string) int {
	switch status {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Handler serves the aggregated report as JSON. Unhealthy yields 503 so
// load balancers and orchestrators take the instance out of rotation;
// degraded still serves 200.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		report := r.Run(req.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
