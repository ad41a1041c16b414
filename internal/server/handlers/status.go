package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/relaybot/relaybot/internal/appid"
	"github.com/relaybot/relaybot/internal/core/engine"
	apperrors "github.com/relaybot/relaybot/internal/errors"
)

// StatusSource reports the running bot's state.
type StatusSource interface {
	BotStatus(ctx context.Context) BotStatus
}

// BotStatus is the /status payload.
type BotStatus struct {
	Service       string                     `json:"service"`
	Version       string                     `json:"version"`
	Bot           string                     `json:"bot,omitempty"`
	StartedAt     time.Time                  `json:"started_at"`
	Uptime        string                     `json:"uptime"`
	Supervisor    engine.SupervisorStatus    `json:"supervisor"`
	Poller        *engine.PollSnapshot       `json:"poller,omitempty"`
	RateLimits    map[string]RateLimitStatus `json:"rate_limits,omitempty"`
	ActiveWindows int                        `json:"active_windows"`
	AI            AIStatus                   `json:"ai"`
}

// RateLimitStatus is one category's configured window.
type RateLimitStatus struct {
	Limit  int    `json:"limit"`
	Window string `json:"window"`
}

// AIStatus describes the AI responder.
type AIStatus struct {
	Configured bool   `json:"configured"`
	Model      string `json:"model,omitempty"`
	Breaker    string `json:"breaker,omitempty"`
}

// RootResponse is the / payload.
type RootResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Version string `json:"version"`
}

// RootHandler answers with a one-line liveness summary.
func RootHandler(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := RootResponse{Service: appid.BinaryName, Status: "ok", Version: AppVersion}
		if source != nil {
			st := source.BotStatus(r.Context())
			resp.Status = string(st.Supervisor.State)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// StatusHandler serves the full bot status.
func StatusHandler(source StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if source == nil {
			respondWithError(w, r, apperrors.NewServiceUnavailableError("bot status is not available"))
			return
		}
		writeJSON(w, http.StatusOK, source.BotStatus(r.Context()))
	}
}
