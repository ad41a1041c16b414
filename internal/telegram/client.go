// Package telegram adapts the Bot API to the engine's fetch, session and
// notification contracts.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relaybot/relaybot/internal/config"
	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/core/engine"
	"github.com/relaybot/relaybot/internal/metrics"
)

// MaxBatch is the largest update batch requested per fetch.
const MaxBatch = 100

// Options configures a Client.
type Options struct {
	Token              string
	APIEndpoint        string
	PollTimeout        time.Duration
	RequestTimeout     time.Duration
	DropPendingUpdates bool
	SendRate           float64
	SendBurst          int

	// HTTPClient overrides the transport. Its Timeout must exceed the
	// poll timeout.
	HTTPClient *http.Client
	Logger     engine.Logger
}

// OptionsFromConfig maps the telegram config section to client options.
func OptionsFromConfig(cfg config.TelegramConfig) Options {
	return Options{
		Token:              cfg.Token,
		APIEndpoint:        cfg.APIEndpoint,
		PollTimeout:        cfg.PollTimeout,
		RequestTimeout:     cfg.RequestTimeout,
		DropPendingUpdates: cfg.DropPendingUpdates,
		SendRate:           cfg.SendRate,
		SendBurst:          cfg.SendBurst,
	}
}

// Client talks to the Bot API. It implements engine.Fetcher,
// engine.Session and engine.Notifier.
type Client struct {
	token       string
	endpoint    string
	http        *http.Client
	sendLimiter *rate.Limiter
	dropPending bool
	logger      engine.Logger

	mu  sync.Mutex
	api *tgbotapi.BotAPI

	// Clock stamps events whose update carries no timestamp.
	Clock func() time.Time

	// OnAuthenticated runs once, after the first successful getMe.
	OnAuthenticated func(ctx context.Context)
}

// New validates opts and returns a client. It does no network I/O; the
// bot authenticates (getMe) on its first session reset or API call, so a
// startup failure is handled by the supervisor's restart policy.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is required")
	}

	endpoint := opts.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if strings.Count(endpoint, "%s") != 2 {
		return nil, fmt.Errorf("telegram api endpoint %q must contain two %%s placeholders (token, method)", endpoint)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		pollTimeout := opts.PollTimeout
		if pollTimeout <= 0 {
			pollTimeout = 30 * time.Second
		}
		requestTimeout := opts.RequestTimeout
		if requestTimeout <= pollTimeout {
			requestTimeout = pollTimeout + 15*time.Second
		}
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	burst := opts.SendBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		token:       opts.Token,
		endpoint:    endpoint,
		http:        httpClient,
		sendLimiter: rate.NewLimiter(limit, burst),
		dropPending: opts.DropPendingUpdates,
		logger:      opts.Logger,
	}, nil
}

// Username returns the bot's @username as reported by getMe, or "" before
// the bot has authenticated.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return ""
	}
	return c.api.Self.UserName
}

// botAPI returns the authenticated API handle, calling getMe on first use.
func (c *Client) botAPI(ctx context.Context) (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	api := c.api
	c.mu.Unlock()
	if api != nil {
		return api, nil
	}

	authed := make(chan *tgbotapi.BotAPI, 1)
	err := c.call(ctx, func() error {
		api, err := tgbotapi.NewBotAPIWithClient(c.token, c.endpoint, c.http)
		if err != nil {
			return err
		}
		authed <- api
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate bot: %w", err)
	}
	api = <-authed

	c.mu.Lock()
	first := c.api == nil
	if first {
		c.api = api
	} else {
		api = c.api
	}
	c.mu.Unlock()

	if first {
		if c.logger != nil {
			c.logger.Info("Authenticated with the Bot API", zap.String("bot", api.Self.UserName))
		}
		if c.OnAuthenticated != nil {
			c.OnAuthenticated(ctx)
		}
	}
	return api, nil
}

// Fetch long-polls getUpdates starting at cursor. Every returned update
// becomes an event, including kinds the bot does not handle, so the
// cursor can advance past them.
func (c *Client) Fetch(ctx context.Context, cursor int64, timeout time.Duration, kinds []string) core.FetchResult {
	cfg := tgbotapi.UpdateConfig{
		Offset:         int(cursor),
		Limit:          MaxBatch,
		Timeout:        int(timeout / time.Second),
		AllowedUpdates: kinds,
	}

	api, err := c.botAPI(ctx)
	if err != nil {
		return core.FetchResult{Status: Classify(err), Err: err}
	}

	var updates []tgbotapi.Update
	err = c.call(ctx, func() error {
		var err error
		updates, err = api.GetUpdates(cfg)
		return err
	})
	if err != nil {
		return core.FetchResult{Status: Classify(err), Err: err}
	}

	now := c.now()
	events := make([]core.Event, 0, len(updates))
	for _, update := range updates {
		events = append(events, EventFromUpdate(update, now))
	}
	return core.FetchResult{Status: core.FetchOK, Events: events}
}

// ResetSession authenticates if needed, then deletes any webhook, which
// also ends an abandoned long-poll session for this token.
func (c *Client) ResetSession(ctx context.Context) error {
	api, err := c.botAPI(ctx)
	if err != nil {
		return core.NewFault(core.FaultKindFor(Classify(err)), "reset bot session", err)
	}

	err = c.call(ctx, func() error {
		_, err := api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: c.dropPending})
		return err
	})
	if err != nil {
		return core.NewFault(core.FaultKindFor(Classify(err)), "reset bot session", err)
	}
	return nil
}

// Cleanup drops pooled connections left by the previous poll session.
func (c *Client) Cleanup(ctx context.Context) error {
	c.http.CloseIdleConnections()
	return nil
}

// Send delivers text to chatID, waiting for an outbound slot first.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	if chatID == 0 {
		return errors.New("send: chat id is required")
	}
	if err := c.sendLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("send: wait for slot: %w", err)
	}

	api, err := c.botAPI(ctx)
	if err == nil {
		err = c.call(ctx, func() error {
			_, err := api.Send(tgbotapi.NewMessage(chatID, text))
			return err
		})
	}
	metrics.RecordSend(err == nil)
	if err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

// Notify replies in the event's chat, falling back to the subject's
// private chat.
func (c *Client) Notify(ctx context.Context, event core.Event, text string) error {
	chatID := event.ChatID
	if chatID == 0 {
		id, err := strconv.ParseInt(event.SubjectID, 10, 64)
		if err != nil {
			return fmt.Errorf("notify: no chat for subject %q", event.SubjectID)
		}
		chatID = id
	}
	return c.Send(ctx, chatID, text)
}

// SetCommands publishes the visible command registry as the bot menu.
func (c *Client) SetCommands(ctx context.Context, commands []engine.Command) error {
	menu := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		if cmd.Hidden {
			continue
		}
		menu = append(menu, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}

	api, err := c.botAPI(ctx)
	if err != nil {
		return fmt.Errorf("set my commands: %w", err)
	}
	err = c.call(ctx, func() error {
		_, err := api.Request(tgbotapi.NewSetMyCommands(menu...))
		return err
	})
	if err != nil {
		return fmt.Errorf("set my commands: %w", err)
	}
	if c.logger != nil {
		c.logger.Info("Registered bot commands", zap.Int("count", len(menu)))
	}
	return nil
}

// call runs fn, returning early when ctx ends. The Bot API client has no
// context support, so an abandoned request finishes in the background and
// its result is discarded. Discarded updates are redelivered because the
// cursor was never confirmed past them.
func (c *Client) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (c *Client) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
