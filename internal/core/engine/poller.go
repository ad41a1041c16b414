package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/metrics"
)

// PollState is the poll loop's current phase.
type PollState string

const (
	PollIdle       PollState = "idle"
	PollFetching   PollState = "fetching"
	PollProcessing PollState = "processing"
	PollBackoff    PollState = "backoff"
	PollFatal      PollState = "fatal"
	PollStopped    PollState = "stopped"
)

// Update kinds requested from the platform by default.
var DefaultAllowedKinds = []string{"message", "callback_query"}

// Fetcher retrieves pending events at or after cursor. A zero cursor means
// the platform's current position.
type Fetcher interface {
	Fetch(ctx context.Context, cursor int64, timeout time.Duration, kinds []string) core.FetchResult
}

// EventHandler consumes fetched events. *Dispatcher implements it.
type EventHandler interface {
	Handle(ctx context.Context, event core.Event) Outcome
}

// PollConfig tunes the poll loop. Zero values take the defaults noted on
// each field.
type PollConfig struct {
	Timeout              time.Duration // 30s
	AllowedKinds         []string      // message, callback_query
	MaxConsecutiveErrors int           // 5
	BatchPause           time.Duration // 100ms
	BackoffStep          time.Duration // 2s per consecutive transient error
	BackoffCap           time.Duration // 10s
	UnknownStep          time.Duration // 1s per consecutive unknown error
	UnknownCap           time.Duration // 5s
	Workers              int           // 0 dispatches inline
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if len(c.AllowedKinds) == 0 {
		c.AllowedKinds = DefaultAllowedKinds
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.BatchPause <= 0 {
		c.BatchPause = 100 * time.Millisecond
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	if c.UnknownStep <= 0 {
		c.UnknownStep = time.Second
	}
	if c.UnknownCap <= 0 {
		c.UnknownCap = 5 * time.Second
	}
	return c
}

// backoff returns the delay after the n-th consecutive failure.
func (c PollConfig) backoff(status core.FetchStatus, n int) time.Duration {
	step, limit := c.BackoffStep, c.BackoffCap
	if status != core.FetchTransient {
		step, limit = c.UnknownStep, c.UnknownCap
	}
	delay := time.Duration(n) * step
	if delay > limit {
		return limit
	}
	return delay
}

// PollSnapshot is a point-in-time view of the poll loop.
type PollSnapshot struct {
	State             PollState  `json:"state"`
	Cursor            int64      `json:"cursor"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	LastBatchAt       *time.Time `json:"last_batch_at,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// Poller runs the long-poll cycle: fetch, advance the cursor, dispatch.
type Poller struct {
	Fetcher Fetcher
	Handler EventHandler
	Config  PollConfig
	Logger  Logger
	Sleep   SleepFunc
	Clock   func() time.Time

	// OnState, when set, observes every state transition.
	OnState func(PollState)

	mu          sync.RWMutex
	state       PollState
	cursor      int64
	consecutive int
	lastBatchAt time.Time
	lastError   string
}

// NewPoller builds a poller with the given collaborators.
func NewPoller(fetcher Fetcher, handler EventHandler, cfg PollConfig, logger Logger) *Poller {
	return &Poller{
		Fetcher: fetcher,
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		state:   PollIdle,
	}
}

// Run polls until ctx is canceled (returning nil) or a fatal condition ends
// the session (returning a *core.Fault).
func (p *Poller) Run(ctx context.Context) error {
	cfg := p.Config.withDefaults()
	sleep := sleepOr(p.Sleep)
	log := loggerOr(p.Logger)

	var workers *errgroup.Group
	if cfg.Workers > 0 {
		workers = &errgroup.Group{}
		workers.SetLimit(cfg.Workers)
		defer func() { _ = workers.Wait() }()
	}

	for {
		if ctx.Err() != nil {
			p.setState(PollStopped)
			return nil
		}

		p.setState(PollFetching)
		result := p.Fetcher.Fetch(ctx, p.Cursor(), cfg.Timeout, cfg.AllowedKinds)
		if ctx.Err() != nil {
			p.setState(PollStopped)
			return nil
		}

		switch result.Status {
		case core.FetchOK:
			p.recordSuccess()
			p.setState(PollProcessing)
			metrics.RecordPollBatch(len(result.Events))

			for _, event := range result.Events {
				p.advance(event.ID)
				if workers != nil {
					workers.Go(func() error {
						p.Handler.Handle(ctx, event)
						return nil
					})
					continue
				}
				p.Handler.Handle(ctx, event)
			}

			if err := sleep(ctx, cfg.BatchPause); err != nil {
				p.setState(PollStopped)
				return nil
			}

		case core.FetchConflict:
			metrics.RecordPollError(result.Status.String())
			p.recordFailure(result.Err)
			p.setState(PollFatal)
			log.Error("Another poller is active for this bot token", zap.Error(result.Err))
			return core.NewFault(core.FaultConflict, "another poller is active for this bot token", result.Err)

		default:
			metrics.RecordPollError(result.Status.String())
			n := p.recordFailure(result.Err)
			if n >= cfg.MaxConsecutiveErrors {
				p.setState(PollFatal)
				log.Error("Too many consecutive polling errors",
					zap.Int("consecutive_errors", n),
					zap.String("status", result.Status.String()),
					zap.Error(result.Err))
				return core.NewFault(core.FaultKindFor(result.Status), "too many consecutive polling errors", result.Err)
			}

			delay := cfg.backoff(result.Status, n)
			p.setState(PollBackoff)
			log.Warn("Polling failed, backing off",
				zap.Int("consecutive_errors", n),
				zap.String("status", result.Status.String()),
				zap.Duration("delay", delay),
				zap.Error(result.Err))
			if err := sleep(ctx, delay); err != nil {
				p.setState(PollStopped)
				return nil
			}
		}
	}
}

// Cursor returns the next update id to request.
func (p *Poller) Cursor() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// State returns the current phase.
func (p *Poller) State() PollState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.state == "" {
		return PollIdle
	}
	return p.state
}

// ConsecutiveErrors returns the current consecutive failure count.
func (p *Poller) ConsecutiveErrors() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consecutive
}

// Snapshot returns the poller's observable state.
func (p *Poller) Snapshot() PollSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := PollSnapshot{
		State:             p.state,
		Cursor:            p.cursor,
		ConsecutiveErrors: p.consecutive,
		LastError:         p.lastError,
	}
	if snap.State == "" {
		snap.State = PollIdle
	}
	if !p.lastBatchAt.IsZero() {
		at := p.lastBatchAt
		snap.LastBatchAt = &at
	}
	return snap
}

func (p *Poller) advance(id int64) {
	p.mu.Lock()
	if next := id + 1; next > p.cursor {
		p.cursor = next
	}
	cursor := p.cursor
	p.mu.Unlock()
	metrics.SetPollCursor(cursor)
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutive = 0
	p.lastError = ""
	p.lastBatchAt = p.now()
}

func (p *Poller) recordFailure(err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutive++
	if err != nil {
		p.lastError = err.Error()
	}
	return p.consecutive
}

func (p *Poller) setState(state PollState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
	if p.OnState != nil {
		p.OnState(state)
	}
}

func (p *Poller) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}
