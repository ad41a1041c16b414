package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/metrics"
)

// ErrRestartBudgetExhausted is returned by Supervisor.Run when a fault
// arrives after MaxRestarts restarts.
var ErrRestartBudgetExhausted = errors.New("restart budget exhausted")

// SupervisorState is the supervisor's lifecycle phase.
type SupervisorState string

const (
	StateInit           SupervisorState = "init"
	StateEnsuringSingle SupervisorState = "ensuring_single"
	StateRunning        SupervisorState = "running"
	StateRestartWait    SupervisorState = "restart_wait"
	StateStopped        SupervisorState = "stopped"
)

// Session is the platform-side lifecycle the supervisor drives.
type Session interface {
	// ResetSession drops any webhook or abandoned long-poll session so a
	// fresh poll session can start.
	ResetSession(ctx context.Context) error
	// Cleanup releases connections held by the previous poll session.
	Cleanup(ctx context.Context) error
}

// Runner is one poll session. *Poller implements it.
type Runner interface {
	Run(ctx context.Context) error
}

// SupervisorConfig bounds restarts and sets per-fault delays.
type SupervisorConfig struct {
	MaxRestarts    int
	SettleDelay    time.Duration
	ConflictDelay  time.Duration
	TransientDelay time.Duration
	DefaultDelay   time.Duration
	CleanupTimeout time.Duration
}

// DefaultSupervisorConfig returns the stock restart policy.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestarts:    10,
		SettleDelay:    2 * time.Second,
		ConflictDelay:  15 * time.Second,
		TransientDelay: 5 * time.Second,
		DefaultDelay:   10 * time.Second,
		CleanupTimeout: 5 * time.Second,
	}
}

// DelayFor returns the wait before restarting after a fault of kind.
func (c SupervisorConfig) DelayFor(kind core.FaultKind) time.Duration {
	switch kind {
	case core.FaultConflict:
		return c.ConflictDelay
	case core.FaultTransient:
		return c.TransientDelay
	default:
		return c.DefaultDelay
	}
}

// SupervisorStatus is the supervisor's bookkeeping, safe to hand to readers.
type SupervisorStatus struct {
	State         SupervisorState `json:"state"`
	Running       bool            `json:"running"`
	RestartCount  int             `json:"restart_count"`
	MaxRestarts   int             `json:"max_restarts"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	LastRestartAt *time.Time      `json:"last_restart_at,omitempty"`
	LastFaultKind core.FaultKind  `json:"last_fault_kind,omitempty"`
	LastFault     string          `json:"last_fault,omitempty"`
}

// Supervisor owns the poll session lifecycle: single-instance assurance,
// fault classification and bounded restart.
type Supervisor struct {
	Session   Session
	NewRunner func() Runner
	Config    SupervisorConfig
	Logger    Logger
	Sleep     SleepFunc
	Clock     func() time.Time

	mu     sync.RWMutex
	status SupervisorStatus
}

// NewSupervisor wires a supervisor.
func NewSupervisor(session Session, newRunner func() Runner, cfg SupervisorConfig, logger Logger) *Supervisor {
	return &Supervisor{
		Session:   session,
		NewRunner: newRunner,
		Config:    cfg,
		Logger:    logger,
		status:    SupervisorStatus{State: StateInit, MaxRestarts: cfg.MaxRestarts},
	}
}

// Run drives poll sessions until ctx is canceled (returning nil) or the
// restart budget is exhausted (returning ErrRestartBudgetExhausted).
func (s *Supervisor) Run(ctx context.Context) error {
	if s.NewRunner == nil {
		return errors.New("supervisor has no runner factory")
	}
	log := loggerOr(s.Logger)
	sleep := sleepOr(s.Sleep)

	s.begin()
	defer s.update(func(st *SupervisorStatus) { st.Running = false })

	for {
		if ctx.Err() != nil {
			return s.stop(ctx, nil)
		}

		s.setState(StateEnsuringSingle)
		err := s.ensureSingle(ctx, sleep)
		if err == nil {
			if ctx.Err() != nil {
				return s.stop(ctx, nil)
			}
			s.setState(StateRunning)
			log.Info("Poll session starting", zap.Int("restart_count", s.Snapshot().RestartCount))
			err = s.NewRunner().Run(ctx)
		}

		if ctx.Err() != nil || err == nil {
			return s.stop(ctx, nil)
		}

		kind := core.KindOf(err)
		status := s.recordFault(kind, err)
		if status.RestartCount >= s.Config.MaxRestarts {
			log.Error("Restart budget exhausted; bot is stopping and needs attention",
				zap.Int("restart_count", status.RestartCount),
				zap.Int("max_restarts", s.Config.MaxRestarts),
				zap.String("fault_kind", string(kind)),
				zap.Error(err))
			return s.stop(ctx, fmt.Errorf("%w after %d restarts: %w", ErrRestartBudgetExhausted, status.RestartCount, err))
		}

		delay := s.Config.DelayFor(kind)
		status = s.recordRestart()
		metrics.RecordRestart(string(kind))
		log.Warn("Poll session ended; restarting",
			zap.String("fault_kind", string(kind)),
			zap.Int("restart_count", status.RestartCount),
			zap.Int("max_restarts", s.Config.MaxRestarts),
			zap.Duration("delay", delay),
			zap.Error(err))

		s.cleanup(ctx)
		s.setState(StateRestartWait)
		if err := sleep(ctx, delay); err != nil {
			return s.stop(ctx, nil)
		}
	}
}

// Snapshot returns a copy of the supervisor's bookkeeping.
func (s *Supervisor) Snapshot() SupervisorStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if st.State == "" {
		st.State = StateInit
	}
	return st
}

func (s *Supervisor) ensureSingle(ctx context.Context, sleep SleepFunc) error {
	if s.Session != nil {
		if err := s.Session.ResetSession(ctx); err != nil {
			return err
		}
	}
	return sleep(ctx, s.Config.SettleDelay)
}

func (s *Supervisor) cleanup(ctx context.Context) {
	if s.Session == nil {
		return
	}
	timeout := s.Config.CleanupTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.Session.Cleanup(cleanupCtx); err != nil {
		loggerOr(s.Logger).Warn("Session cleanup failed", zap.Error(err))
	}
}

func (s *Supervisor) stop(ctx context.Context, err error) error {
	s.cleanup(ctx)
	s.setState(StateStopped)
	if err == nil {
		loggerOr(s.Logger).Info("Supervisor stopped")
	}
	return err
}

func (s *Supervisor) begin() {
	now := s.now()
	s.update(func(st *SupervisorStatus) {
		st.State = StateInit
		st.Running = true
		st.MaxRestarts = s.Config.MaxRestarts
		st.StartedAt = &now
	})
}

func (s *Supervisor) recordFault(kind core.FaultKind, err error) SupervisorStatus {
	var out SupervisorStatus
	s.update(func(st *SupervisorStatus) {
		st.LastFaultKind = kind
		st.LastFault = err.Error()
		out = *st
	})
	return out
}

func (s *Supervisor) recordRestart() SupervisorStatus {
	now := s.now()
	var out SupervisorStatus
	s.update(func(st *SupervisorStatus) {
		st.RestartCount++
		st.LastRestartAt = &now
		out = *st
	})
	return out
}

func (s *Supervisor) setState(state SupervisorState) {
	s.update(func(st *SupervisorStatus) { st.State = state })
	metrics.SetSupervisorState(string(state))
}

func (s *Supervisor) update(fn func(*SupervisorStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func (s *Supervisor) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
