package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/chandra-edu/chandra/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs != nil {
		t.Error("New(nil) = non-nil, want nil (all disabled)")
	}
	if obs.MetricsRegistry() != nil {
		t.Error("nil Observability returned a registry")
	}
	obs.Shutdown(context.Background()) // Must not panic.
}

func TestNew_MetricsEnabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.MetricsRegistry() == nil {
		t.Error("metrics enabled but no registry created")
	}
	if obs.Tracer != nil {
		t.Error("tracer created without tracing config")
	}
	if obs.Health == nil {
		t.Error("health checker missing")
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("down", func(context.Context) error { return errors.New("unreachable") })

	// Liveness only says the process is up; failing dependency checks
	// must not affect it.
	st := h.Liveness()
	if st.Status != "ok" {
		t.Errorf("Liveness().Status = %q, want ok", st.Status)
	}
	if st.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %v, want >= 0", st.UptimeSeconds)
	}
}

func TestNewTracing_Disabled(t *testing.T) {
	tr, err := NewTracing(nil)
	if err != nil || tr != nil {
		t.Fatalf("NewTracing(nil) = %v, %v, want nil, nil", tr, err)
	}
	tr, err = NewTracing(&config.TracingConfig{Enabled: false})
	if err != nil || tr != nil {
		t.Fatalf("NewTracing(disabled) = %v, %v, want nil, nil", tr, err)
	}
	if tr.Tracer() == nil {
		t.Error("nil Tracing returned a nil tracer, want no-op")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("nil Tracing Shutdown returned %v", err)
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	h := NewHealthChecker(discardLogger())

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("Status with no checks = %q, want ok", status.Status)
	}

	h.AddCheck("database", func(context.Context) error { return nil })
	h.AddCheck("flaky", func(context.Context) error { return errors.New("connection refused") })

	status = h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", status.Status)
	}
	if status.Checks["database"].Status != "ok" {
		t.Errorf("database check = %q, want ok", status.Checks["database"].Status)
	}
	if status.Checks["flaky"].Status != "fail" {
		t.Errorf("flaky check = %q, want fail", status.Checks["flaky"].Status)
	}
	if status.Checks["flaky"].Message == "" {
		t.Error("failed check carries no message")
	}
}
