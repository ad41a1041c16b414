package metrics

import (
	"strconv"

	"github.com/relaybot/relaybot/internal/observability"
)

const (
	ErrorEnvelopesTotal = "error_envelopes_total"
	PanicsTotal         = "panics_total"
)

// Panic sources
const (
	PanicSourceDispatcher = "dispatcher"
	PanicSourceHTTP       = "http"
)

// UnmatchedRoute labels errors for requests no route matched.
const UnmatchedRoute = "unmatched"

// RecordErrorEnvelope counts an error envelope written to an HTTP client.
// route is the router pattern, never the raw path.
func RecordErrorEnvelope(code string, httpStatus int, route string) {
	if route == "" {
		route = UnmatchedRoute
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ErrorEnvelopesTotal, 1, map[string]string{
			"code":   code,
			"status": strconv.Itoa(httpStatus),
			"route":  route,
		})
	}
}

// RecordPanic counts a recovered panic.
func RecordPanic(source string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, map[string]string{"source": source})
	}
}
