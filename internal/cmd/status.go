package cmd

import (
	"context"
	"time"

	"github.com/relaybot/relaybot/internal/appid"
	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/core/engine"
	"github.com/relaybot/relaybot/internal/metrics"
	"github.com/relaybot/relaybot/internal/server/handlers"
)

// botStatusSource feeds /status from the running components.
type botStatusSource struct {
	bot       *bot
	startedAt time.Time
	version   string
	clock     func() time.Time
}

func (s *botStatusSource) BotStatus(ctx context.Context) handlers.BotStatus {
	now := time.Now().UTC()
	if s.clock != nil {
		now = s.clock()
	}
	uptime := now.Sub(s.startedAt).Truncate(time.Second)
	metrics.SetStatusServerUptime(int64(uptime.Seconds()))

	status := handlers.BotStatus{
		Service:   appid.BinaryName,
		Version:   s.version,
		StartedAt: s.startedAt,
		Uptime:    uptime.String(),
	}

	b := s.bot
	if b == nil {
		return status
	}
	if b.client != nil {
		status.Bot = b.client.Username()
	}
	if b.supervisor != nil {
		status.Supervisor = b.supervisor.Snapshot()
	}
	if p := b.poller.Load(); p != nil {
		snap := p.Snapshot()
		status.Poller = &snap
	}
	if b.limiter != nil {
		status.RateLimits = rateLimitStatus(b.limiter.Limits)
		status.ActiveWindows = len(b.limiter.Snapshot(ctx))
	}
	if b.ai != nil {
		status.AI = handlers.AIStatus{
			Configured: b.ai.Configured(),
			Model:      b.ai.Model(),
			Breaker:    b.ai.BreakerState(),
		}
	}
	return status
}

func rateLimitStatus(limits map[core.Category]engine.RateLimit) map[string]handlers.RateLimitStatus {
	if limits == nil {
		limits = engine.DefaultLimits
	}
	out := make(map[string]handlers.RateLimitStatus, len(limits))
	for category, limit := range limits {
		out[category.String()] = handlers.RateLimitStatus{
			Limit:  limit.RequestsPerWindow,
			Window: limit.WindowDuration.String(),
		}
	}
	return out
}
