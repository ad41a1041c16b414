package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaybot/relaybot/internal/ailink"
	"github.com/relaybot/relaybot/internal/appid"
	"github.com/relaybot/relaybot/internal/commands"
	"github.com/relaybot/relaybot/internal/config"
	"github.com/relaybot/relaybot/internal/core/engine"
	"github.com/relaybot/relaybot/internal/core/store"
	errwrap "github.com/relaybot/relaybot/internal/errors"
	"github.com/relaybot/relaybot/internal/metrics"
	"github.com/relaybot/relaybot/internal/observability"
	"github.com/relaybot/relaybot/internal/server"
	"github.com/relaybot/relaybot/internal/server/handlers"
	"github.com/relaybot/relaybot/internal/telegram"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the bot and its status server",
	Long: `Run the bot: supervised long polling, command dispatch behind the rate
limiter, and the status HTTP server.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read the config file (changes apply on restart)

The process exits with the external-service-unavailable code when the
supervisor exhausts its restart budget.`,
	RunE: runBot,
}

func runBot(cmd *cobra.Command, args []string) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := loadConfig(parent)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration is invalid", err)
	}
	if err := cfg.RequireToken(); err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Bot token missing", err)
	}

	identity := appid.Get()
	observability.InitBotLogger(observability.BotLogOptions{
		Service:   identity.BinaryName,
		Level:     cfg.Logging.Level,
		Profile:   cfg.Logging.Profile,
		Namespace: identity.BinaryName,
	})
	logger := observability.BotLogger

	if cfg.Metrics.Enabled {
		if err := observability.InitMetrics(identity.BinaryName, cfg.Metrics.Port); err != nil {
			return errwrap.WrapInternal(parent, err, "metrics initialization failed")
		}
		defer func() { _ = observability.ShutdownMetrics() }()
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rt, err := buildBot(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	startedAt := time.Now().UTC()
	metrics.SetBotStartTime(startedAt.Unix())
	logger.Info("Starting bot",
		zap.String("version", versionInfo.Version),
		zap.String("store", cfg.Store.Driver),
		zap.Int("max_restarts", cfg.Supervisor.MaxRestarts),
		zap.Bool("ai_configured", rt.ai.Configured()))

	status := &botStatusSource{
		bot:       rt,
		startedAt: startedAt,
		version:   versionInfo.Version,
	}

	done := make(chan struct{})
	registerSignalHandlers(cancel, done, logger)
	go func() {
		if err := signals.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Signal handler error", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.supervisor.Run(gctx)
	})
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server, newHealthManager(rt), status)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	close(done)
	_ = logger.Sync()

	if errors.Is(err, engine.ErrRestartBudgetExhausted) {
		ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Bot stopped after exhausting its restart budget", err)
	}
	if err != nil {
		return fmt.Errorf("bot stopped: %w", err)
	}
	logger.Info("Bot stopped")
	return nil
}

// bot holds the wired components of one run.
type bot struct {
	kv         store.KeyValueStore
	client     *telegram.Client
	limiter    *engine.RateLimiter
	dispatcher *engine.Dispatcher
	ai         *ailink.Gemini
	supervisor *engine.Supervisor
	poller     atomic.Pointer[engine.Poller]
}

func buildBot(ctx context.Context, cfg *config.Config, logger engine.Logger) (*bot, error) {
	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, errwrap.WrapStoreError(ctx, err, "failed to open store")
	}

	limiter := &engine.RateLimiter{Store: store.NewCounters(kv), Logger: logger}
	limiter.ApplyOverrides(rateLimitOverrides(cfg.RateLimits))

	opts := telegram.OptionsFromConfig(cfg.Telegram)
	opts.Logger = logger
	client, err := telegram.New(ctx, opts)
	if err != nil {
		_ = kv.Close()
		return nil, errwrap.WrapConfigInvalid(ctx, err, "invalid Telegram Bot API settings")
	}

	ai, err := ailink.NewGemini(ctx, cfg.AI, logger)
	if err != nil {
		_ = kv.Close()
		return nil, errwrap.WrapExternalService(ctx, err, "failed to initialize the AI client")
	}

	subjects := store.NewSubjects(kv)
	dispatcher := engine.NewDispatcher(limiter, client, logger)
	dispatcher.Tracker = subjects
	commands.Register(dispatcher, commands.Deps{
		Replier:   client,
		Sender:    client,
		Directory: subjects,
		Responder: ai,
		OwnerID:   cfg.Bot.OwnerID,
		Logger:    logger,
	})

	if cfg.Bot.RegisterCommands {
		client.OnAuthenticated = func(ctx context.Context) {
			if err := client.SetCommands(ctx, dispatcher.Commands()); err != nil {
				logger.Warn("Failed to register the command menu", zap.Error(err))
			}
		}
	}

	b := &bot{
		kv:         kv,
		client:     client,
		limiter:    limiter,
		dispatcher: dispatcher,
		ai:         ai,
	}

	pollCfg := pollConfig(cfg)
	b.supervisor = engine.NewSupervisor(client, func() engine.Runner {
		p := engine.NewPoller(client, dispatcher, pollCfg, logger)
		b.poller.Store(p)
		return p
	}, supervisorConfig(cfg.Supervisor), logger)

	return b, nil
}

func (b *bot) close() {
	if b.client != nil {
		_ = b.client.Cleanup(context.Background())
	}
	if b.kv != nil {
		_ = b.kv.Close()
	}
}

func rateLimitOverrides(limits map[string]config.RateLimitConfig) map[string]engine.RateLimit {
	overrides := make(map[string]engine.RateLimit, len(limits))
	for name, limit := range limits {
		overrides[name] = engine.RateLimit{
			RequestsPerWindow: limit.Limit,
			WindowDuration:    limit.Window,
		}
	}
	return overrides
}

func pollConfig(cfg *config.Config) engine.PollConfig {
	return engine.PollConfig{
		Timeout:              cfg.Telegram.PollTimeout,
		AllowedKinds:         cfg.Telegram.AllowedUpdates,
		MaxConsecutiveErrors: cfg.Poll.MaxConsecutiveErrors,
		BatchPause:           cfg.Poll.BatchPause,
		BackoffStep:          cfg.Poll.BackoffStep,
		BackoffCap:           cfg.Poll.BackoffCap,
		Workers:              cfg.Poll.Workers,
	}
}

func supervisorConfig(cfg config.SupervisorConfig) engine.SupervisorConfig {
	out := engine.DefaultSupervisorConfig()
	out.MaxRestarts = cfg.MaxRestarts
	if cfg.SettleDelay > 0 {
		out.SettleDelay = cfg.SettleDelay
	}
	if cfg.ConflictDelay > 0 {
		out.ConflictDelay = cfg.ConflictDelay
	}
	if cfg.TransientDelay > 0 {
		out.TransientDelay = cfg.TransientDelay
	}
	if cfg.DefaultDelay > 0 {
		out.DefaultDelay = cfg.DefaultDelay
	}
	return out
}

func newHealthManager(b *bot) *handlers.HealthManager {
	hm := handlers.NewHealthManager(versionInfo.Version)
	hm.RegisterChecker("store", handlers.CheckerFunc(b.kv.Ping))
	hm.RegisterChecker("supervisor", handlers.CheckerFunc(func(ctx context.Context) error {
		return supervisorHealth(b.supervisor.Snapshot())
	}))
	return hm
}

func supervisorHealth(status engine.SupervisorStatus) error {
	switch status.State {
	case engine.StateRunning:
		return nil
	case engine.StateInit, engine.StateEnsuringSingle, engine.StateRestartWait:
		return handlers.Degraded(fmt.Errorf("supervisor is %s after %d restarts", status.State, status.RestartCount))
	default:
		return fmt.Errorf("supervisor is %s", status.State)
	}
}

// registerSignalHandlers cancels the run on SIGINT or SIGTERM and waits for
// the supervisor and server to finish before the signal package proceeds.
func registerSignalHandlers(cancel context.CancelFunc, done <-chan struct{}, logger engine.Logger) {
	signals.OnShutdown(func(ctx context.Context) error {
		logger.Info("Shutdown requested, stopping poll session")
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	})

	signals.OnReload(func(ctx context.Context) error {
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				logger.Info("No config file to reload")
				return nil
			}
			logger.Error("Failed to reload config file", zap.String("file", viper.ConfigFileUsed()), zap.Error(err))
			return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
		}
		logger.Info("Config file re-read; restart the bot to apply changes",
			zap.String("file", viper.ConfigFileUsed()))
		return nil
	})

	if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
		Window:  2 * time.Second,
		Message: "Press Ctrl+C again within 2 seconds to force quit",
	}); err != nil {
		logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
	}
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("host", "", "status server host (overrides server.host)")
	runCmd.Flags().IntP("port", "p", 0, "status server port (overrides server.port)")
	runCmd.Flags().Int("max-restarts", 0, "restart budget (overrides supervisor.max_restarts)")

	bindFlag(runCmd, "server.host", "host")
	bindFlag(runCmd, "server.port", "port")
	bindFlag(runCmd, "supervisor.max_restarts", "max-restarts")
}

// bindFlag binds a flag so it only overrides the config when set.
func bindFlag(cmd *cobra.Command, key, flag string) {
	_ = viper.BindPFlag(key, cmd.Flags().Lookup(flag))
}
