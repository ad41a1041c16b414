package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// Replaced in tests.
var (
	osExit           = os.Exit
	stderr io.Writer = os.Stderr
)

// ExitWithCode logs err with the exit code's catalog metadata and exits.
// Without a logger it falls back to ExitWithCodeStderr.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if logger == nil || !ok {
		ExitWithCodeStderr(exitCode, msg, err)
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	fields = append(fields, envelopeFields(err)...)
	logger.Error(msg, fields...)
	osExit(info.Code)
}

// ExitWithCodeStderr writes msg and err to stderr and exits. It is used for
// failures outside the logger's lifetime.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	writeFatal(stderr, msg, err)
	info, ok := foundry.GetExitCodeInfo(exitCode)
	if !ok {
		osExit(int(exitCode))
		return
	}
	fmt.Fprintf(stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	osExit(info.Code)
}

// envelopeFields describes err for the log, unwrapping an envelope to the
// error it carries.
func envelopeFields(err error) []zap.Field {
	var envelope *gferrors.ErrorEnvelope
	if !errors.As(err, &envelope) {
		return []zap.Field{zap.Error(err)}
	}

	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.String("correlation_id", envelope.CorrelationID),
	}
	if len(envelope.Context) > 0 {
		fields = append(fields, zap.Any("error_context", envelope.Context))
	}
	if original, ok := envelope.Original.(error); ok && original != nil {
		return append(fields, zap.Error(original))
	}
	return append(fields, zap.Error(err))
}

func writeFatal(w io.Writer, msg string, err error) {
	var envelope *gferrors.ErrorEnvelope
	switch {
	case err == nil:
		fmt.Fprintf(w, "FATAL: %s\n", msg)
	case errors.As(err, &envelope):
		fmt.Fprintf(w, "FATAL: %s [%s]: %s (correlation: %s)\n", msg, envelope.Code, envelope.Message, envelope.CorrelationID)
		if original, ok := envelope.Original.(error); ok && original != nil {
			fmt.Fprintf(w, "Underlying error: %v\n", original)
		} else if wrapped, ok := envelope.Context["wrapped_error"]; ok {
			fmt.Fprintf(w, "Underlying error: %v\n", wrapped)
		}
	default:
		fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	}
}
