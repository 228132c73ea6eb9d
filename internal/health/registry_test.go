package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func fixed(status, detail string) Check {
	return func(context.Context) CheckResult {
		return CheckResult{Status: status, Detail: detail}
	}
}

func TestRegistry_AggregatesWorstStatus(t *testing.T) {
	r := NewRegistry()
	r.Register("postgres", fixed(StatusHealthy, ""))
	r.Register("scanner", fixed(StatusDegraded, "3 consecutive error ticks"))

	report := r.Run(context.Background())
	if report.Status != StatusDegraded {
		t.Errorf("Status = %s, want degraded", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Errorf("Checks length = %d, want 2", len(report.Checks))
	}

	r.Register("ledger", fixed(StatusUnhealthy, "gateway unreachable"))
	report = r.Run(context.Background())
	if report.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want unhealthy", report.Status)
	}
}

func TestRegistry_EmptyIsHealthy(t *testing.T) {
	report := NewRegistry().Run(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy for empty registry", report.Status)
	}
}

func TestRegistry_ReRegisterReplacesCheck(t *testing.T) {
	r := NewRegistry()
	r.Register("scanner", fixed(StatusUnhealthy, "not running"))
	r.Register("scanner", fixed(StatusHealthy, ""))

	report := r.Run(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy after re-register", report.Status)
	}
	if len(report.Checks) != 1 {
		t.Errorf("Checks length = %d, want 1", len(report.Checks))
	}
}

func TestRegistry_HandlerStatusCodes(t *testing.T) {
	r := NewRegistry()
	r.Register("scanner", fixed(StatusHealthy, ""))

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 200 {
		t.Errorf("healthy status code = %d, want 200", rec.Code)
	}

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Status != StatusHealthy {
		t.Errorf("decoded status = %s, want healthy", report.Status)
	}

	r.Register("ledger", fixed(StatusUnhealthy, "down"))
	rec = httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != 503 {
		t.Errorf("unhealthy status code = %d, want 503", rec.Code)
	}
}
