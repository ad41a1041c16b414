package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okCheck(ctx context.Context) error { return nil }

func serve(handler http.HandlerFunc, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthReportsEveryCheck(t *testing.T) {
	hm := NewHealthManager("0.4.0")
	hm.RegisterChecker("store", CheckerFunc(okCheck))
	hm.RegisterChecker("supervisor", CheckerFunc(okCheck))

	rec := serve(hm.HealthHandler, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusHealthy || resp.Version != "0.4.0" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Checks) != 2 || resp.Checks["supervisor"].Status != StatusHealthy {
		t.Fatalf("unexpected checks: %+v", resp.Checks)
	}
}

func TestHealthDegradedCheckKeepsProbeUp(t *testing.T) {
	hm := NewHealthManager("dev")
	hm.RegisterChecker("store", CheckerFunc(okCheck))
	hm.RegisterChecker("supervisor", CheckerFunc(func(ctx context.Context) error {
		return Degraded(errors.New("supervisor is restart_wait"))
	}))

	rec := serve(hm.HealthHandler, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", resp.Status)
	}
	check := resp.Checks["supervisor"]
	if check.Status != StatusDegraded || check.Error != "supervisor is restart_wait" {
		t.Fatalf("unexpected supervisor check: %+v", check)
	}

	if rec := serve(hm.ReadinessHandler, "/health/ready"); rec.Code != http.StatusOK {
		t.Fatalf("expected ready while degraded, got %d", rec.Code)
	}
}

func TestHealthUnhealthyCheckReturnsEnvelope(t *testing.T) {
	hm := NewHealthManager("dev")
	hm.RegisterChecker("store", CheckerFunc(func(ctx context.Context) error { return errors.New("redis: connection refused") }))
	hm.RegisterChecker("supervisor", CheckerFunc(okCheck))

	rec := serve(hm.HealthHandler, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != "SERVICE_UNAVAILABLE" {
		t.Fatalf("expected SERVICE_UNAVAILABLE, got %s", resp.Error.Code)
	}
	checks, ok := resp.Error.Details["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected checks in details, got %v", resp.Error.Details)
	}
	if checks["store"] != StatusUnhealthy || checks["supervisor"] != StatusHealthy {
		t.Fatalf("unexpected checks: %v", checks)
	}
}

func TestLivenessIgnoresCheckers(t *testing.T) {
	hm := NewHealthManager("dev")
	hm.RegisterChecker("supervisor", CheckerFunc(func(ctx context.Context) error { return errors.New("stopped") }))

	if rec := serve(hm.LivenessHandler, "/health/live"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestReadinessFollowsSupervisor(t *testing.T) {
	hm := NewHealthManager("dev")
	polling := false
	hm.RegisterChecker("supervisor", CheckerFunc(func(ctx context.Context) error {
		if !polling {
			return errors.New("supervisor is stopped")
		}
		return nil
	}))

	if rec := serve(hm.ReadinessHandler, "/health/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while stopped, got %d", rec.Code)
	}

	polling = true
	rec := serve(hm.ReadinessHandler, "/health/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 while polling, got %d", rec.Code)
	}
	var resp ProbeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", resp.Status)
	}
}

func TestCheckReportsTimeoutForSlowCheckers(t *testing.T) {
	hm := NewHealthManager("dev")
	release := make(chan struct{})
	defer close(release)
	hm.RegisterChecker("store", CheckerFunc(func(ctx context.Context) error {
		<-release
		return nil
	}))
	hm.RegisterChecker("supervisor", CheckerFunc(okCheck))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results := hm.Check(ctx)
	if results["store"].Status != StatusTimeout {
		t.Fatalf("expected store timeout, got %+v", results["store"])
	}
	if results["supervisor"].Status != StatusHealthy {
		t.Fatalf("expected supervisor healthy, got %+v", results["supervisor"])
	}
	if got := overallStatus(results); got != StatusDegraded {
		t.Fatalf("expected degraded overall, got %s", got)
	}
}

func TestCheckRunsCheckersInParallel(t *testing.T) {
	hm := NewHealthManager("dev")
	for _, name := range []string{"a", "b", "c"} {
		hm.RegisterChecker(name, CheckerFunc(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			return nil
		}))
	}

	start := time.Now()
	results := hm.Check(context.Background())
	if elapsed := time.Since(start); elapsed >= 140*time.Millisecond {
		t.Fatalf("expected parallel checks, took %v", elapsed)
	}
	for name, result := range results {
		if result.Status != StatusHealthy || result.LatencyMS < 40 {
			t.Fatalf("%s: unexpected result %+v", name, result)
		}
	}
}
