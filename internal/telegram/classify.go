package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/relaybot/relaybot/internal/core"
)

// Classify maps a Bot API call failure to a fetch status. This is the only
// place error text or codes are inspected.
//
//	409                             conflict (another poller or a webhook)
//	429, 5xx, timeouts, network     transient
//	anything else                   unknown
func Classify(err error) core.FetchStatus {
	if err == nil {
		return core.FetchOK
	}

	if code, ok := apiErrorCode(err); ok {
		switch {
		case code == http.StatusConflict:
			return core.FetchConflict
		case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
			return core.FetchTransient
		default:
			return core.FetchUnknown
		}
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return core.FetchTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.FetchTransient
	}

	if strings.Contains(err.Error(), "Conflict: terminated by other getUpdates request") {
		return core.FetchConflict
	}
	return core.FetchUnknown
}

func apiErrorCode(err error) (int, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val.Code, true
	}
	return 0, false
}
