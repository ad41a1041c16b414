package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relaybot/relaybot/internal/ailink"
	"github.com/relaybot/relaybot/internal/commands"
	"github.com/relaybot/relaybot/internal/config"
	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/core/engine"
	"github.com/relaybot/relaybot/internal/core/store"
	"github.com/relaybot/relaybot/internal/observability"
	"github.com/relaybot/relaybot/internal/server/handlers"
	"github.com/relaybot/relaybot/internal/telegram"
)

const startUpdate = `{"ok":true,"result":[{"update_id":500,"message":{"message_id":1,"date":1735689600,` +
	`"from":{"id":7,"is_bot":false,"first_name":"Ada","username":"ada"},` +
	`"chat":{"id":7,"type":"private"},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}]}`

// botAPI is a minimal Bot API that hands out one /start update and records
// every outgoing message.
type botAPI struct {
	mu      sync.Mutex
	served  bool
	methods map[string]int
	sent    []map[string]string
}

func (b *botAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	b.mu.Lock()
	b.methods[method]++
	body := `{"ok":true,"result":true}`
	switch method {
	case "getMe":
		body = `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"Relay","username":"relay_bot"}}`
	case "getUpdates":
		body = `{"ok":true,"result":[]}`
		if !b.served {
			b.served = true
			body = startUpdate
		}
	case "sendMessage":
		form := map[string]string{}
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		b.sent = append(b.sent, form)
		body = `{"ok":true,"result":{"message_id":2,"date":1735689601,"chat":{"id":7,"type":"private"}}}`
	}
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func (b *botAPI) count(method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.methods[method]
}

func (b *botAPI) messages() []map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]string(nil), b.sent...)
}

type runtimeStatus struct {
	supervisor *engine.Supervisor
	poller     func() *engine.Poller
}

func (s runtimeStatus) BotStatus(ctx context.Context) handlers.BotStatus {
	status := handlers.BotStatus{Service: "relaybot", Supervisor: s.supervisor.Snapshot()}
	if p := s.poller(); p != nil {
		snap := p.Snapshot()
		status.Poller = &snap
	}
	return status
}

func TestBotAnswersStartEndToEnd(t *testing.T) {
	observability.InitCLILogger("test", false)
	observability.InitBotLogger(observability.BotLogOptions{Service: "test", Level: "info"})
	initMetricsOrSkip(t)

	api := &botAPI{methods: map[string]int{}}
	apiServer := httptest.NewServer(api)
	t.Cleanup(apiServer.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := zaptest.NewLogger(t)

	kv, err := store.Open(ctx, config.StoreConfig{Driver: "file", Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	client, err := telegram.New(ctx, telegram.Options{
		Token:              "123:abc",
		APIEndpoint:        apiServer.URL + "/bot%s/%s",
		PollTimeout:        time.Second,
		DropPendingUpdates: true,
		Logger:             logger,
	})
	require.NoError(t, err)
	require.Empty(t, client.Username(), "authentication waits for the supervisor")

	limiter := &engine.RateLimiter{Store: store.NewCounters(kv), Logger: logger}
	limiter.ApplyOverrides(nil)
	subjects := store.NewSubjects(kv)

	dispatcher := engine.NewDispatcher(limiter, client, logger)
	dispatcher.Tracker = subjects
	commands.Register(dispatcher, commands.Deps{
		Replier:   client,
		Sender:    client,
		Directory: subjects,
		Responder: ailink.NewGeminiWithGenerator(config.AIConfig{}, nil, logger),
		Logger:    logger,
	})
	require.NoError(t, client.SetCommands(ctx, dispatcher.Commands()))

	var (
		pollerMu sync.Mutex
		current  *engine.Poller
	)
	cfg := engine.DefaultSupervisorConfig()
	cfg.SettleDelay = 10 * time.Millisecond
	supervisor := engine.NewSupervisor(client, func() engine.Runner {
		p := engine.NewPoller(client, dispatcher, engine.PollConfig{
			Timeout:    time.Second,
			BatchPause: 10 * time.Millisecond,
		}, logger)
		pollerMu.Lock()
		current = p
		pollerMu.Unlock()
		return p
	}, cfg, logger)

	done := make(chan error, 1)
	go func() { done <- supervisor.Run(ctx) }()

	require.Eventually(t, func() bool { return len(api.messages()) == 1 }, 5*time.Second, 20*time.Millisecond)
	welcome := api.messages()[0]
	assert.Equal(t, "7", welcome["chat_id"])
	assert.Contains(t, welcome["text"], "Welcome, @ada")

	require.Eventually(t, func() bool {
		profile, ok, err := subjects.Get(ctx, "7")
		return err == nil && ok && profile.Username == "ada"
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, 9, limiter.Remaining(ctx, "7", core.CategoryMessages))

	ts, httpClient := newTestServer(t, runtimeStatus{
		supervisor: supervisor,
		poller: func() *engine.Poller {
			pollerMu.Lock()
			defer pollerMu.Unlock()
			return current
		},
	})

	resp, err := httpClient.Get(ts.URL + "/status")
	require.NoError(t, err)
	var status handlers.BotStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, engine.StateRunning, status.Supervisor.State)
	require.NotNil(t, status.Poller)
	assert.Equal(t, int64(501), status.Poller.Cursor)

	resp, err = httpClient.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_bot_poll_batches_total")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
	assert.Equal(t, engine.StateStopped, supervisor.Snapshot().State)
	assert.Equal(t, "relay_bot", client.Username())
	assert.Equal(t, 1, api.count("getMe"))
	assert.Equal(t, 1, api.count("deleteWebhook"))
	assert.Equal(t, 1, api.count("setMyCommands"))
}
