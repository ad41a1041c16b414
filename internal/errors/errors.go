// Package errors builds gofulmen error envelopes for the status server and
// the CLI.
package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	"github.com/relaybot/relaybot/internal/server/middleware"
)

// Error codes
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeStore              = "STORE_ERROR"
	CodeExternalService    = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeConfigInvalid      = "CONFIG_INVALID"
)

var codeStatus = map[string]int{
	CodeInvalidInput:       http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeMethodNotAllowed:   http.StatusMethodNotAllowed,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeExternalService:    http.StatusBadGateway,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeStore:              http.StatusServiceUnavailable,
	CodeConfigInvalid:      http.StatusInternalServerError,
	CodeInternal:           http.StatusInternalServerError,
}

// HTTPStatusFromCode returns the status for code; unknown codes are 500.
func HTTPStatusFromCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// newEnvelope sets the default severity for code. Codes that only describe
// caller mistakes carry none and log at info.
func newEnvelope(code, message string) *errors.ErrorEnvelope {
	envelope := errors.NewErrorEnvelope(code, message)

	var (
		updated *errors.ErrorEnvelope
		err     error
	)
	switch code {
	case CodeStore, CodeConfigInvalid, CodeInternal:
		updated, err = envelope.WithSeverity(errors.SeverityHigh)
	case CodeTimeout, CodeExternalService, CodeServiceUnavailable:
		updated, err = envelope.WithSeverity(errors.SeverityMedium)
	default:
		return envelope
	}
	if err != nil {
		return envelope
	}
	return updated
}

// NewNotFoundError reports an unknown route or resource.
func NewNotFoundError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeNotFound, message)
}

// NewMethodNotAllowedError reports a known route hit with the wrong method.
func NewMethodNotAllowedError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeMethodNotAllowed, message)
}

// NewInternalError reports a failure inside the status server.
func NewInternalError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeInternal, message)
}

// NewServiceUnavailableError reports a component that is not ready: the
// bot runtime, a failing health check or a missing metrics exporter.
func NewServiceUnavailableError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeServiceUnavailable, message)
}

// NewExternalServiceError reports a failed call to a dependency such as
// the Prometheus exporter.
func NewExternalServiceError(message string) *errors.ErrorEnvelope {
	return newEnvelope(CodeExternalService, message)
}

// The Wrap helpers keep err as the envelope's original error and its text
// under wrapped_error, correlated with the request id in ctx when present.

func WrapInternal(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeInternal, err, message)
}

func WrapStoreError(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeStore, err, message)
}

func WrapExternalService(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeExternalService, err, message)
}

func WrapConfigInvalid(ctx context.Context, err error, message string) *errors.ErrorEnvelope {
	return wrap(ctx, CodeConfigInvalid, err, message)
}

func wrap(ctx context.Context, code string, err error, message string) *errors.ErrorEnvelope {
	id := requestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	envelope := newEnvelope(code, message).WithCorrelationID(id).WithTraceID(id)
	if err == nil {
		return envelope
	}
	envelope.Original = err
	if updated, ctxErr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); ctxErr == nil {
		envelope = updated
	}
	return envelope
}

// Cause returns the error an envelope wraps, or err itself.
func Cause(err error) error {
	var envelope *errors.ErrorEnvelope
	if !stderrors.As(err, &envelope) || envelope == nil {
		return err
	}
	if original, ok := envelope.Original.(error); ok && original != nil {
		return original
	}
	return err
}

// EnsureEnvelope returns err as an envelope, wrapping foreign errors as
// INTERNAL_ERROR.
func EnsureEnvelope(err error) *errors.ErrorEnvelope {
	var envelope *errors.ErrorEnvelope
	switch {
	case err == nil:
		envelope = errors.NewErrorEnvelope(CodeInternal, "unexpected nil error")
		envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
		return envelope
	case stderrors.As(err, &envelope) && envelope != nil:
		return envelope
	default:
		return wrap(context.Background(), CodeInternal, err, "unexpected error")
	}
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return middleware.GetRequestID(ctx)
}
