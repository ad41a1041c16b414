package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaybot/relaybot/internal/server/middleware"
)

func TestWrapStoreErrorCarriesContext(t *testing.T) {
	ctx := middleware.WithRequestID(context.Background(), "req-1")
	env := WrapStoreError(ctx, stderrors.New("database is locked"), "failed to load rate windows")

	assert.Equal(t, CodeStore, env.Code)
	assert.Equal(t, "req-1", env.CorrelationID)
	assert.Equal(t, "database is locked", env.Context["wrapped_error"])
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromCode(env.Code))
}

func TestCauseReturnsWrappedError(t *testing.T) {
	cause := stderrors.New("telegram.token is required")
	env := WrapConfigInvalid(context.Background(), cause, "bot token missing")

	assert.Same(t, cause, Cause(env))
	assert.NotEmpty(t, env.CorrelationID)

	plain := stderrors.New("plain")
	assert.Same(t, plain, Cause(plain))
	assert.Equal(t, CodeExternalService, Cause(NewExternalServiceError("exporter down")).(*gferrors.ErrorEnvelope).Code)
}

func TestEnsureEnvelope(t *testing.T) {
	env := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, gferrors.SeverityHigh, env.Severity)

	original := NewNotFoundError("missing")
	assert.Same(t, original, EnsureEnvelope(original))

	assert.Equal(t, CodeInternal, EnsureEnvelope(nil).Code)
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req = req.WithContext(middleware.WithRequestID(req.Context(), "req-9"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, NewServiceUnavailableError("supervisor stopped"))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, CodeServiceUnavailable, body.Error.Code)
	assert.Equal(t, "supervisor stopped", body.Error.Message)
	assert.Equal(t, "req-9", body.Error.RequestID)
}

func TestHTTPStatusFromCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromCode(CodeInvalidInput))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromCode(CodeNotFound))
	assert.Equal(t, http.StatusMethodNotAllowed, HTTPStatusFromCode(CodeMethodNotAllowed))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusFromCode(CodeExternalService))
	assert.Equal(t, http.StatusGatewayTimeout, HTTPStatusFromCode(CodeTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromCode(CodeConfigInvalid))
}

func TestDefaultSeverityByCode(t *testing.T) {
	assert.Equal(t, gferrors.SeverityMedium, NewServiceUnavailableError("not ready").Severity)
	assert.Equal(t, gferrors.SeverityHigh, WrapStoreError(context.Background(), stderrors.New("locked"), "save failed").Severity)
}

func TestResponseDetailsPrefersDetails(t *testing.T) {
	env := NewServiceUnavailableError("readiness probe failed").WithDetails(map[string]interface{}{"status": "unhealthy"})
	env, err := env.WithContext(map[string]interface{}{"status": "shadowed", "probe": "ready"})
	require.NoError(t, err)

	details := ResponseDetails(env)
	assert.Equal(t, "unhealthy", details["status"])
	assert.Equal(t, "ready", details["probe"])
	assert.Nil(t, ResponseDetails(NewNotFoundError("missing")))
}
