package metrics

import (
	"time"

	"github.com/relaybot/relaybot/internal/observability"
)

// Bot metrics following Prometheus conventions
const (
	AdmissionsTotal    = "bot_admissions_total"
	DispatchTotal      = "bot_dispatch_total"
	HandlerDuration    = "bot_handler_duration_ms"
	HandlerFaultsTotal = "bot_handler_faults_total"
	PollBatchesTotal   = "bot_poll_batches_total"
	PollBatchSize      = "bot_poll_batch_size"
	PollErrorsTotal    = "bot_poll_errors_total"
	PollCursor         = "bot_poll_cursor"
	SupervisorRestarts = "bot_supervisor_restarts_total"
	SupervisorState    = "bot_supervisor_state"
	OutboundSendsTotal = "bot_outbound_sends_total"
	StorePersistErrors = "bot_store_persist_errors_total"
	BotStartTime       = "bot_start_time_seconds"
	AIRequestsTotal    = "bot_ai_requests_total"
	AIRequestDuration  = "bot_ai_request_duration_ms"
)

// RecordAdmission counts a limiter decision per category.
func RecordAdmission(category string, admitted bool) {
	decision := "admitted"
	if !admitted {
		decision = "rejected"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(AdmissionsTotal, 1, map[string]string{
			"category": category,
			"decision": decision,
		})
	}
}

// RecordDispatch counts a dispatcher outcome.
func RecordDispatch(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(DispatchTotal, 1, map[string]string{
			"outcome": outcome,
		})
	}
}

// RecordHandler records handler latency for a route.
func RecordHandler(route string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(HandlerDuration, duration, map[string]string{
			"route": route,
		})
	}
}

// RecordHandlerFault counts a contained handler error or panic.
func RecordHandlerFault(route string, panicked bool) {
	kind := "error"
	if panicked {
		kind = "panic"
		RecordPanic(PanicSourceDispatcher)
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(HandlerFaultsTotal, 1, map[string]string{
			"route": route,
			"kind":  kind,
		})
	}
}

// RecordPollBatch counts a fetched batch and exports its size.
func RecordPollBatch(events int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PollBatchesTotal, 1, nil)
		_ = observability.TelemetrySystem.Gauge(PollBatchSize, float64(events), nil)
	}
}

// RecordPollError counts a failed fetch by status.
func RecordPollError(status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PollErrorsTotal, 1, map[string]string{
			"status": status,
		})
	}
}

// SetPollCursor exports the current poll cursor.
func SetPollCursor(cursor int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(PollCursor, float64(cursor), nil)
	}
}

// RecordRestart counts a supervisor restart by fault kind.
func RecordRestart(kind string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(SupervisorRestarts, 1, map[string]string{
			"kind": kind,
		})
	}
}

// SetSupervisorState exports the supervisor state as a labelled gauge.
func SetSupervisorState(state string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(SupervisorState, 1, map[string]string{
			"state": state,
		})
	}
}

// RecordSend counts an outbound platform message.
func RecordSend(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(OutboundSendsTotal, 1, map[string]string{
			"status": status,
		})
	}
}

// RecordPersistError counts a swallowed store write failure.
func RecordPersistError(namespace string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(StorePersistErrors, 1, map[string]string{
			"namespace": namespace,
		})
	}
}

// RecordAIRequest records an AI call outcome and latency.
func RecordAIRequest(status string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(AIRequestsTotal, 1, map[string]string{
			"status": status,
		})
		_ = observability.TelemetrySystem.Histogram(AIRequestDuration, duration, nil)
	}
}

// SetBotStartTime records the process start (Unix timestamp).
func SetBotStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(BotStartTime, float64(timestamp), nil)
	}
}
