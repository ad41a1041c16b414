package ailink

import (
	"context"
	"errors"
	"strings"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

func mapProviderError(err error) *ReplyError {
	if err == nil {
		return nil
	}

	var rerr *ReplyError
	if errors.As(err, &rerr) {
		return rerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ReplyError{Code: CodeTimeout, Message: "provider request timed out", Err: err}
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &ReplyError{Code: CodeCircuitOpen, Message: "provider temporarily disabled after repeated failures", Err: err}
	}
	if errors.Is(err, ErrEmptyReply) {
		return &ReplyError{Code: CodeEmpty, Message: "provider returned no text", Err: err}
	}

	if status, details, ok := apiStatus(err); ok {
		switch {
		case status == 401 || status == 403:
			return &ReplyError{Code: CodeAuth, Message: "provider authentication failed", Details: details, Err: err}
		case status == 429:
			return &ReplyError{Code: CodeRateLimit, Message: "provider rate limited", Details: details, Err: err}
		case status >= 500 && status <= 599:
			return &ReplyError{Code: CodeUnavailable, Message: "provider unavailable", Details: details, Err: err}
		case status >= 400 && status <= 499:
			return &ReplyError{Code: CodeBadRequest, Message: "provider rejected request", Details: details, Err: err}
		}
	}

	return &ReplyError{Code: CodeError, Message: "provider request failed", Details: err.Error(), Err: err}
}

func apiStatus(err error) (int, string, bool) {
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, strings.TrimSpace(ptr.Message), true
	}
	var val genai.APIError
	if errors.As(err, &val) {
		return val.Code, strings.TrimSpace(val.Message), true
	}
	return 0, "", false
}
