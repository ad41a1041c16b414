package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/metrics"
	"github.com/relaybot/relaybot/internal/observability"
)

// Recovery converts a handler panic into a 500 envelope carrying the request
// id. http.ErrAbortHandler is re-raised for net/http to handle. If the
// handler already wrote headers, the connection is left as is.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}

			requestID := GetRequestID(r.Context())
			metrics.RecordPanic(metrics.PanicSourceHTTP)
			if logger := observability.BotLogger; logger != nil {
				logger.Error("Recovered panic in HTTP handler",
					zap.String("route", RoutePattern(r)),
					zap.String("request_id", requestID),
					zap.Any("panic", v),
					zap.ByteString("stack", debug.Stack()))
			}
			if rec.wroteHeader {
				return
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic: %v", v)).
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writeEnvelope(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(rec, r)
	})
}

// panicBody is the error body Recovery writes. internal/errors owns the
// shared response type but imports this package, so the shape is repeated.
type panicBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeEnvelope(w http.ResponseWriter, envelope *errors.ErrorEnvelope, status int) {
	var body panicBody
	body.Error.Code = envelope.Code
	body.Error.Message = envelope.Message
	body.Error.RequestID = envelope.CorrelationID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
