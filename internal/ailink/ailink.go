// Package ailink answers free-text prompts with a generative model.
package ailink

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no API key is configured.
var ErrNotConfigured = errors.New("ai responder is not configured")

// ErrEmptyReply is returned when the model produced no text.
var ErrEmptyReply = errors.New("model returned an empty reply")

// Responder produces a reply for a user prompt.
type Responder interface {
	Configured() bool
	Reply(ctx context.Context, prompt string) (string, error)
}

// ReplyError captures a classified provider failure.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *ReplyError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *ReplyError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying later may succeed.
func (e *ReplyError) Temporary() bool {
	switch e.Code {
	case CodeTimeout, CodeRateLimit, CodeUnavailable, CodeCircuitOpen:
		return true
	}
	return false
}

// Reply error codes.
const (
	CodeTimeout     = "AILINK_PROVIDER_TIMEOUT"
	CodeAuth        = "AILINK_PROVIDER_AUTH"
	CodeRateLimit   = "AILINK_PROVIDER_RATE_LIMIT"
	CodeUnavailable = "AILINK_PROVIDER_UNAVAILABLE"
	CodeBadRequest  = "AILINK_PROVIDER_BAD_REQUEST"
	CodeCircuitOpen = "AILINK_CIRCUIT_OPEN"
	CodeEmpty       = "AILINK_EMPTY_REPLY"
	CodeError       = "AILINK_PROVIDER_ERROR"
)
