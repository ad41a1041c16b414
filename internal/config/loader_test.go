package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	ApplyDefaults(v)
	require.NoError(t, BindEnv(v))
	return v
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		t.Setenv("XDG_DATA_HOME", t.TempDir())

		cfg, err := LoadFrom(ctx, newTestViper(t))
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, 30*time.Second, cfg.Telegram.PollTimeout)
		assert.Equal(t, []string{"message", "callback_query"}, cfg.Telegram.AllowedUpdates)
		assert.True(t, cfg.Telegram.DropPendingUpdates)

		assert.Equal(t, 5, cfg.Poll.MaxConsecutiveErrors)
		assert.Equal(t, 100*time.Millisecond, cfg.Poll.BatchPause)
		assert.Equal(t, 2*time.Second, cfg.Poll.BackoffStep)
		assert.Equal(t, 10*time.Second, cfg.Poll.BackoffCap)

		assert.Equal(t, 10, cfg.Supervisor.MaxRestarts)
		assert.Equal(t, 2*time.Second, cfg.Supervisor.SettleDelay)
		assert.Equal(t, 15*time.Second, cfg.Supervisor.ConflictDelay)
		assert.Equal(t, 5*time.Second, cfg.Supervisor.TransientDelay)
		assert.Equal(t, 10*time.Second, cfg.Supervisor.DefaultDelay)

		assert.Equal(t, RateLimitConfig{Limit: 10, Window: time.Minute}, cfg.RateLimits["messages"])
		assert.Equal(t, RateLimitConfig{Limit: 5, Window: 24 * time.Hour}, cfg.RateLimits["broadcasts"])

		assert.Equal(t, "file", cfg.Store.Driver)
		assert.Equal(t, DefaultStorePath("file"), cfg.Store.Path)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Same(t, cfg, GetConfig())
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		t.Setenv("RELAYBOT_SUPERVISOR_CONFLICT_DELAY", "30s")
		t.Setenv("RELAYBOT_POLL_WORKERS", "4")
		t.Setenv("RELAYBOT_STORE_DRIVER", "libsql")

		cfg, err := LoadFrom(ctx, newTestViper(t))
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, cfg.Supervisor.ConflictDelay)
		assert.Equal(t, 4, cfg.Poll.Workers)
		assert.Equal(t, "libsql", cfg.Store.Driver)
		assert.Equal(t, ".db", filepath.Ext(cfg.Store.Path))
	})

	t.Run("LegacyEnvNames", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "123:abc")
		t.Setenv("ADMIN_USER_ID", "42")
		t.Setenv("GEMINI_API_KEY", "gm-key")

		cfg, err := LoadFrom(ctx, newTestViper(t))
		require.NoError(t, err)
		assert.Equal(t, "123:abc", cfg.Telegram.Token)
		assert.Equal(t, "42", cfg.Bot.OwnerID)
		assert.Equal(t, "gm-key", cfg.AI.APIKey)
		require.NoError(t, cfg.RequireToken())
	})

	t.Run("PrefixedEnvWinsOverLegacy", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "legacy")
		t.Setenv("RELAYBOT_TELEGRAM_TOKEN", "prefixed")

		cfg, err := LoadFrom(ctx, newTestViper(t))
		require.NoError(t, err)
		assert.Equal(t, "prefixed", cfg.Telegram.Token)
	})

	t.Run("ConfigFileAddsCategory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := []byte("rate_limits:\n  general:\n    limit: 3\n    window: 10s\n  messages:\n    limit: 0\n")
		require.NoError(t, os.WriteFile(path, body, 0o600))

		v := newTestViper(t)
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())

		cfg, err := LoadFrom(ctx, v)
		require.NoError(t, err)
		assert.Equal(t, RateLimitConfig{Limit: 3, Window: 10 * time.Second}, cfg.RateLimits["general"])
		assert.Equal(t, 0, cfg.RateLimits["messages"].Limit)
		assert.Equal(t, time.Minute, cfg.RateLimits["messages"].Window)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		cfg, err := LoadFrom(ctx, newTestViper(t), map[string]any{
			"supervisor": map[string]any{"max_restarts": 2},
			"poll":       map[string]any{"batch_pause": "250ms"},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Supervisor.MaxRestarts)
		assert.Equal(t, 250*time.Millisecond, cfg.Poll.BatchPause)
	})

	t.Run("ValidationFails", func(t *testing.T) {
		_, err := LoadFrom(ctx, newTestViper(t), map[string]any{
			"poll":  map[string]any{"max_consecutive_errors": 0},
			"store": map[string]any{"driver": "redis"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "poll.max_consecutive_errors")
		assert.Contains(t, err.Error(), "store.redis.addr")
	})

	t.Run("MissingToken", func(t *testing.T) {
		t.Setenv("TELEGRAM_TOKEN", "")
		t.Setenv("TELEGRAM_BOT_TOKEN", "")
		t.Setenv("RELAYBOT_TELEGRAM_TOKEN", "")

		cfg, err := LoadFrom(ctx, newTestViper(t))
		require.NoError(t, err)
		require.Error(t, cfg.RequireToken())
	})
}
