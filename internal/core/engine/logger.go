package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logger is the structured logging surface the engine needs. Both the
// gofulmen logger and *zap.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

var nopLogger Logger = zap.NewNop()

func loggerOr(l Logger) Logger {
	if l == nil {
		return nopLogger
	}
	return l
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func sleepOr(fn SleepFunc) SleepFunc {
	if fn == nil {
		return Sleep
	}
	return fn
}
