package observability

import (
	"testing"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitLoggers(t *testing.T) {
	t.Run("CLI logger", func(t *testing.T) {
		InitCLILogger("relaybot-test", true)
		require.NotNil(t, CLILogger)
		CLILogger.Debug("cli logger ready", zap.String("test", "value"))
	})

	t.Run("Bot logger", func(t *testing.T) {
		InitBotLogger(BotLogOptions{Service: "relaybot-test", Level: "debug", Namespace: "relaybot"})
		require.NotNil(t, BotLogger)
		BotLogger.Info("bot logger ready",
			zap.String("component", "test"),
			zap.Int64("update_id", 123))
	})
}

func TestBotLoggerConfigProfiles(t *testing.T) {
	structured := botLoggerConfig(BotLogOptions{Service: "relaybot", Level: "debug", Namespace: "relaybot"})
	require.Equal(t, logging.ProfileStructured, structured.Profile)
	require.Equal(t, "DEBUG", structured.DefaultLevel)
	require.True(t, structured.EnableCaller)
	require.Equal(t, "relaybot", structured.StaticFields["namespace"])
	require.Len(t, structured.Middleware, 1)
	require.Equal(t, "json", structured.Sinks[0].Format)

	simple := botLoggerConfig(BotLogOptions{Service: "relaybot", Level: "warn", Profile: "SIMPLE"})
	require.Equal(t, logging.ProfileSimple, simple.Profile)
	require.Equal(t, "WARN", simple.DefaultLevel)
	require.False(t, simple.EnableStacktrace)
	require.Empty(t, simple.Middleware)
	require.Empty(t, simple.StaticFields)
	require.Equal(t, "text", simple.Sinks[0].Format)
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"trace":   "TRACE",
		"DEBUG":   "DEBUG",
		" info ":  "INFO",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for input, want := range cases {
		require.Equal(t, want, parseLogLevel(input), input)
	}
}

func TestEmbeddedCrucible(t *testing.T) {
	version := crucible.GetVersion()
	require.NotEmpty(t, version.Gofulmen)
	require.NotEmpty(t, version.Crucible)
}

func TestResolvePort(t *testing.T) {
	port, err := resolvePort("[::]:9191")
	require.NoError(t, err)
	require.Equal(t, 9191, port)

	_, err = resolvePort("no-port")
	require.Error(t, err)
}
