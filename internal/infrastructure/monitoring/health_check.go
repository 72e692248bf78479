package monitoring

import (
	"context"
	"sync"
	"time"
)

// HealthChecker aggregates liveness checks over the reactor's external
// dependencies: the user store, the music collaborator, Redis when
// distributed mode is on. Checks run concurrently on demand and on a
// background cadence.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []check
}

type check struct {
	name     string
	run      func(ctx context.Context) (bool, error)
	interval time.Duration
	timeout  time.Duration
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthStatus is the aggregate served on the admin health endpoint.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// AddCheck registers a named dependency check. interval drives the
// background cadence, timeout bounds each run.
func (h *HealthChecker) AddCheck(name string, run func(ctx context.Context) (bool, error), interval, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, run: run, interval: interval, timeout: timeout})
}

// CheckAll runs every check concurrently and merges the results. One
// unhealthy dependency marks the whole aggregate unhealthy.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c check) {
			defer wg.Done()
			results[i] = runCheck(ctx, c)
		}(i, c)
	}
	wg.Wait()

	for i, c := range checks {
		status.Checks[c.name] = results[i]
		if !results[i].Healthy {
			status.Status = "unhealthy"
		}
	}
	return status
}

// IsReady reports whether every registered dependency answers healthy.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}

// StartBackgroundChecks keeps every check running on its own cadence
// until ctx is cancelled.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.checks {
		go loopCheck(ctx, c)
	}
}

func runCheck(ctx context.Context, c check) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	healthy, err := c.run(checkCtx)
	result := CheckResult{Healthy: healthy && err == nil, LatencyMS: time.Since(start).Milliseconds()}
	switch {
	case err != nil:
		result.Detail = err.Error()
	case !healthy:
		result.Detail = "check failed"
	}
	return result
}

func loopCheck(ctx context.Context, c check) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCheck(ctx, c)
		}
	}
}
