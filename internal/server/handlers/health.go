package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/relaybot/relaybot/internal/errors"
	"github.com/relaybot/relaybot/internal/metrics"
)

// Check results
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

const (
	healthTimeout    = 5 * time.Second
	readinessTimeout = 3 * time.Second
	maxParallelCheck = 4
)

// ErrDegraded marks a checker failure that should not fail the probe, such
// as a supervisor waiting out a restart delay.
var ErrDegraded = errors.New("degraded")

// Degraded wraps err so the check reports StatusDegraded.
func Degraded(err error) error {
	if err == nil {
		return nil
	}
	return &degradedError{err: err}
}

type degradedError struct{ err error }

func (e *degradedError) Error() string   { return e.err.Error() }
func (e *degradedError) Unwrap() []error { return []error{e.err, ErrDegraded} }

// CheckResult is one checker's outcome.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ProbeResponse is the liveness and readiness payload.
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker is a component the health probes can query.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to HealthChecker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// HealthManager runs the registered checkers for the health probes.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker adds or replaces the checker reported under name.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// Check runs every checker in parallel under ctx. Checkers still running
// when ctx expires are reported as StatusTimeout.
func (hm *HealthManager) Check(ctx context.Context) map[string]CheckResult {
	hm.mu.RLock()
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checkers))
		g       errgroup.Group
	)
	g.SetLimit(maxParallelCheck)
	for name, checker := range checkers {
		g.Go(func() error {
			result := runCheck(ctx, name, checker)
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func runCheck(ctx context.Context, name string, checker HealthChecker) CheckResult {
	if ctx.Err() != nil {
		return CheckResult{Status: StatusTimeout}
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- checker.CheckHealth(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		metrics.RecordHealthCheck(name, false, time.Since(start))
		return CheckResult{Status: StatusTimeout, LatencyMS: time.Since(start).Milliseconds()}
	}

	elapsed := time.Since(start)
	metrics.RecordHealthCheck(name, err == nil, elapsed)

	result := CheckResult{Status: StatusHealthy, LatencyMS: elapsed.Milliseconds()}
	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		result.Status = StatusDegraded
		result.Error = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	}
	return result
}

// overallStatus is unhealthy if any check is, degraded if any check is
// degraded or timed out, otherwise healthy.
func overallStatus(results map[string]CheckResult) string {
	status := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			status = StatusDegraded
		}
	}
	return status
}

// HealthHandler reports every check with the app version.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	results := hm.Check(ctx)
	status := overallStatus(results)
	if status == StatusUnhealthy {
		respondUnhealthy(w, r, "aggregate health check failed", "", results)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	})
}

// LivenessHandler reports that the process is serving requests. It runs no
// checks so a stalled dependency never gets the process restarted.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ProbeResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler reports whether the bot is polling with a working store.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	results := hm.Check(ctx)
	status := overallStatus(results)
	if status == StatusUnhealthy {
		respondUnhealthy(w, r, "readiness probe failed", "ready", results)
		return
	}
	writeJSON(w, http.StatusOK, ProbeResponse{Status: status, Timestamp: time.Now().UTC()})
}

func respondUnhealthy(w http.ResponseWriter, r *http.Request, message, probe string, results map[string]CheckResult) {
	checks := make(map[string]string, len(results))
	var failing []string
	for name, result := range results {
		checks[name] = result.Status
		if result.Status == StatusUnhealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	details := map[string]interface{}{"status": StatusUnhealthy, "checks": checks}
	if probe != "" {
		details["probe"] = probe
	}
	envelope := apperrors.NewServiceUnavailableError(message).WithDetails(details)
	if len(failing) > 0 {
		envelope, _ = envelope.WithContext(map[string]interface{}{"unhealthy_checks": failing})
	}
	respondWithError(w, r, envelope)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
