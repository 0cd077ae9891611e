package observability

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// HealthChecker answers the ops server's liveness and readiness
// probes. Liveness only says the process is up; readiness runs the
// registered dependency checks (database ping, lesson manager).
type HealthChecker struct {
	logger  *slog.Logger
	started time.Time

	mu     sync.Mutex
	checks []HealthCheck
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// LivenessStatus is the liveness endpoint body.
type LivenessStatus struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthStatus is the readiness endpoint body.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
// A nil logger discards output.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HealthChecker{logger: logger, started: time.Now()}
}

// AddCheck registers a named readiness check. Safe to call while the
// ops server is already answering probes.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// Liveness reports that the process is up and for how long. It never
// consults the dependency checks.
func (h *HealthChecker) Liveness() LivenessStatus {
	return LivenessStatus{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
}

// CheckReady runs every registered check under a shared timeout and
// aggregates the outcome: "ok" only when all pass, "degraded"
// otherwise.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.Unlock()

	if len(checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(checks)),
	}
	for _, c := range checks {
		err := c.Check(checkCtx)
		if err == nil {
			status.Checks[c.Name] = CheckResult{Status: "ok"}
			continue
		}
		status.Status = "degraded"
		status.Checks[c.Name] = CheckResult{Status: "fail", Message: err.Error()}
		h.logger.Warn("readiness check failed",
			slog.String("check", c.Name),
			slog.String("error", err.Error()),
		)
	}
	return status
}
