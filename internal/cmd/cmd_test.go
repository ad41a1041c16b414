package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaybot/relaybot/internal/config"
	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/core/engine"
	"github.com/relaybot/relaybot/internal/core/store"
	"github.com/relaybot/relaybot/internal/output"
	"github.com/relaybot/relaybot/internal/server/handlers"
)

func TestRateLimitOverrides(t *testing.T) {
	overrides := rateLimitOverrides(map[string]config.RateLimitConfig{
		"messages": {Limit: 20, Window: 30 * time.Second},
		"uploads":  {Limit: 0},
	})

	require.Equal(t, engine.RateLimit{RequestsPerWindow: 20, WindowDuration: 30 * time.Second}, overrides["messages"])
	require.Equal(t, engine.RateLimit{}, overrides["uploads"])

	limiter := &engine.RateLimiter{}
	limiter.ApplyOverrides(overrides)
	require.Equal(t, 20, limiter.Limits[core.CategoryMessages].RequestsPerWindow)
	require.Equal(t, engine.DefaultLimits[core.CategoryBroadcasts], limiter.Limits[core.CategoryBroadcasts])
}

func TestSupervisorConfigKeepsDefaultsForZeroDelays(t *testing.T) {
	cfg := supervisorConfig(config.SupervisorConfig{MaxRestarts: 3, ConflictDelay: 20 * time.Second})

	defaults := engine.DefaultSupervisorConfig()
	require.Equal(t, 3, cfg.MaxRestarts)
	require.Equal(t, 20*time.Second, cfg.ConflictDelay)
	require.Equal(t, defaults.TransientDelay, cfg.TransientDelay)
	require.Equal(t, defaults.SettleDelay, cfg.SettleDelay)
	require.Equal(t, defaults.CleanupTimeout, cfg.CleanupTimeout)
}

func TestPollConfigFromConfig(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{PollTimeout: 25 * time.Second, AllowedUpdates: []string{"message"}},
		Poll:     config.PollConfig{MaxConsecutiveErrors: 7, Workers: 2},
	}

	poll := pollConfig(cfg)
	require.Equal(t, 25*time.Second, poll.Timeout)
	require.Equal(t, []string{"message"}, poll.AllowedKinds)
	require.Equal(t, 7, poll.MaxConsecutiveErrors)
	require.Equal(t, 2, poll.Workers)
}

func TestSupervisorHealth(t *testing.T) {
	require.NoError(t, supervisorHealth(engine.SupervisorStatus{State: engine.StateRunning}))

	for _, state := range []engine.SupervisorState{engine.StateInit, engine.StateEnsuringSingle, engine.StateRestartWait} {
		err := supervisorHealth(engine.SupervisorStatus{State: state, RestartCount: 1})
		require.ErrorIs(t, err, handlers.ErrDegraded, "state %s", state)
	}

	err := supervisorHealth(engine.SupervisorStatus{State: engine.StateStopped})
	require.Error(t, err)
	require.NotErrorIs(t, err, handlers.ErrDegraded)
}

func TestRedactSecrets(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.Token = "123:abc"
	cfg.AI.APIKey = "key"
	cfg.Store.Redis.Password = ""

	redactSecrets(cfg)
	require.Equal(t, redacted, cfg.Telegram.Token)
	require.Equal(t, redacted, cfg.AI.APIKey)
	require.Empty(t, cfg.Store.Redis.Password)
}

func TestBotStatusSource(t *testing.T) {
	started := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	limiter := &engine.RateLimiter{Clock: func() time.Time { return started }}
	rt := &bot{limiter: limiter}

	poller := engine.NewPoller(nil, nil, engine.PollConfig{}, nil)
	rt.poller.Store(poller)

	src := &botStatusSource{
		bot:       rt,
		startedAt: started,
		version:   "1.0.0",
		clock:     func() time.Time { return started.Add(90 * time.Second) },
	}

	status := src.BotStatus(context.Background())
	require.Equal(t, "relaybot", status.Service)
	require.Equal(t, "1m30s", status.Uptime)
	require.NotNil(t, status.Poller)
	require.Equal(t, engine.PollIdle, status.Poller.State)
	require.Equal(t, 10, status.RateLimits["messages"].Limit)
	require.Equal(t, "24h0m0s", status.RateLimits["broadcasts"].Window)
	require.Zero(t, status.ActiveWindows)
}

func TestWriteRateLimitResetResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRateLimitResetResult(output.FormatTable, &buf, 3, 0, true))
	require.Equal(t, "Would delete 3 rate limit window(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeRateLimitResetResult(output.FormatJSON, &buf, 3, 2, false))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, float64(2), decoded["deleted"])
	require.Equal(t, false, decoded["dry_run"])
}

func TestRateLimitCommandsAgainstFileStore(t *testing.T) {
	storeDir := t.TempDir()
	t.Setenv("RELAYBOT_STORE_DRIVER", "file")
	t.Setenv("RELAYBOT_STORE_PATH", storeDir)

	kv, err := store.OpenFile(storeDir)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.NewCounters(kv).Save(context.Background(), core.WindowSet{
		"1001": {core.CategoryMessages: {now.Add(-time.Second)}},
		"1002": {core.CategoryMessages: {now}, core.CategoryBroadcasts: {now}},
	}))

	outDir := t.TempDir()
	listPath := filepath.Join(outDir, "list.json")
	rootCmd.SetArgs([]string{"rate-limit", "list", "--output-format", "json", "--out", listPath})
	require.NoError(t, rootCmd.Execute())

	data, err := os.ReadFile(listPath)
	require.NoError(t, err)
	var windows []core.RateWindow
	require.NoError(t, json.Unmarshal(data, &windows))
	require.Len(t, windows, 3)

	resetPath := filepath.Join(outDir, "reset.json")
	rootCmd.SetArgs([]string{"rate-limit", "reset", "--subject", "1002", "--output-format", "json", "--out", resetPath})
	require.NoError(t, rootCmd.Execute())

	remaining, err := store.NewCounters(kv).Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, remaining, "1001")
	require.NotContains(t, remaining, "1002")
}

func TestSubjectsListWritesToCommandOutput(t *testing.T) {
	storeDir := t.TempDir()
	t.Setenv("RELAYBOT_STORE_DRIVER", "file")
	t.Setenv("RELAYBOT_STORE_PATH", storeDir)

	kv, err := store.OpenFile(storeDir)
	require.NoError(t, err)
	subjects := store.NewSubjects(kv)
	now := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, subjects.Track(ctx, core.Event{SubjectID: "1001", Username: "ada", ReceivedAt: now.Add(-time.Hour)}))
	require.NoError(t, subjects.Track(ctx, core.Event{SubjectID: "1002", Username: "bob", ReceivedAt: now}))
	require.NoError(t, subjects.Track(ctx, core.Event{SubjectID: "1002", ReceivedAt: now}))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	rootCmd.SetArgs([]string{"subjects", "list", "--output-format", "json", "--limit", "1"})
	require.NoError(t, rootCmd.Execute())

	var listed []core.SubjectProfile
	require.NoError(t, json.Unmarshal(out.Bytes(), &listed))
	require.Len(t, listed, 1)
	require.Equal(t, "1002", listed[0].SubjectID)
	require.Equal(t, "bob", listed[0].Username)
	require.Equal(t, int64(2), listed[0].MessageCount)
}
