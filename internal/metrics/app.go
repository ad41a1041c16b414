package metrics

import (
	"time"

	"github.com/relaybot/relaybot/internal/observability"
)

// Process-level metrics for the status server and admin commands
const (
	CLIOperationsTotal    = "cli_operations_total"
	HealthChecksTotal     = "health_checks_total"
	HealthCheckDuration   = "health_check_duration_ms"
	StatusServerStartTime = "status_server_start_time_seconds"
	StatusServerUptime    = "status_server_uptime_seconds"
)

// RecordCLIOperation counts an admin command run against the store.
func RecordCLIOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(CLIOperationsTotal, 1, map[string]string{
			"operation": operation,
			"status":    status,
		})
	}
}

// RecordHealthCheck records one health checker execution
func RecordHealthCheck(check string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(HealthChecksTotal, 1, map[string]string{
			"check":  check,
			"status": status,
		})
		_ = observability.TelemetrySystem.Histogram(HealthCheckDuration, duration, map[string]string{
			"check": check,
		})
	}
}

// SetStatusServerStartTime records when the status server began listening.
func SetStatusServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(StatusServerStartTime, float64(timestamp), nil)
	}
}

// SetStatusServerUptime exports the status server uptime in seconds.
func SetStatusServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(StatusServerUptime, float64(seconds), nil)
	}
}
