package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
)

var (
	// CLILogger serves the short-lived CLI commands.
	CLILogger *logging.Logger

	// BotLogger serves the long-running bot process and its status server.
	BotLogger *logging.Logger
)

// BotLogOptions configures BotLogger.
type BotLogOptions struct {
	Service string
	// Level is one of trace, debug, info, warn, error. Unknown values mean info.
	Level string
	// Profile is "simple" (console text) or "structured" (JSON, the default).
	Profile   string
	Namespace string
}

// InitCLILogger initializes CLILogger. verbose lowers the level to debug.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		fatal("Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitBotLogger initializes BotLogger.
func InitBotLogger(opts BotLogOptions) {
	logger, err := logging.New(botLoggerConfig(opts))
	if err != nil {
		fatal("Failed to initialize bot logger", err)
	}
	BotLogger = logger
}

func botLoggerConfig(opts BotLogOptions) *logging.LoggerConfig {
	level := parseLogLevel(opts.Level)
	verbose := level == "DEBUG" || level == "TRACE"

	fields := map[string]any{}
	if opts.Namespace != "" {
		fields["namespace"] = opts.Namespace
	}

	cfg := &logging.LoggerConfig{
		Profile:          logging.ProfileStructured,
		DefaultLevel:     level,
		Service:          opts.Service,
		Environment:      "production",
		StaticFields:     fields,
		EnableCaller:     verbose,
		EnableStacktrace: verbose,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{Type: "console", Format: "json", Console: &logging.ConsoleSinkConfig{Stream: "stderr"}},
		},
	}

	if strings.EqualFold(strings.TrimSpace(opts.Profile), "simple") {
		cfg.Profile = logging.ProfileSimple
		cfg.Middleware = nil
		cfg.Sinks = []logging.SinkConfig{
			{Type: "console", Format: "text", Console: &logging.ConsoleSinkConfig{Stream: "stderr", Colorize: false}},
		}
	}
	return cfg
}

func parseLogLevel(levelStr string) string {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// fatal reports a logger setup failure. No logger exists yet, so it
// writes to stderr directly.
func fatal(msg string, err error) {
	code := foundry.ExitConfigInvalid
	fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	if info, ok := foundry.GetExitCodeInfo(code); ok {
		fmt.Fprintf(os.Stderr, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
		os.Exit(info.Code)
	}
	os.Exit(int(code))
}
