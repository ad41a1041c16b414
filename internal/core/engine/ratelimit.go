package engine

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relaybot/relaybot/internal/core"
	"github.com/relaybot/relaybot/internal/metrics"
)

// RateLimiter admits actions per subject and category using sliding windows.
//
// Windows are loaded from the Store on first use and the whole set is saved
// after every admitted action. Save failures are logged and never change a
// decision.
type RateLimiter struct {
	Store  WindowStore
	Limits map[core.Category]RateLimit
	Clock  func() time.Time
	Logger Logger

	mu      sync.Mutex
	loaded  bool
	windows core.WindowSet
}

// RateLimit represents a rate limit window.
type RateLimit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// WindowStore persists the limiter's windows.
type WindowStore interface {
	Load(ctx context.Context) (core.WindowSet, error)
	Save(ctx context.Context, set core.WindowSet) error
}

// DefaultLimits provides the built-in category table.
var DefaultLimits = map[core.Category]RateLimit{
	core.CategoryMessages:   {RequestsPerWindow: 10, WindowDuration: time.Minute},
	core.CategoryDownloads:  {RequestsPerWindow: 5, WindowDuration: time.Hour},
	core.CategoryBroadcasts: {RequestsPerWindow: 5, WindowDuration: 24 * time.Hour},
}

// Admit decides whether subjectID may perform an action in category now and
// records it when admitted.
func (r *RateLimiter) Admit(ctx context.Context, subjectID string, category core.Category) core.Admission {
	if r == nil {
		return core.Admitted
	}

	limit, ok := r.getLimit(category)
	if !ok {
		return core.Admitted
	}

	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return core.Rejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx)

	now := r.now()
	cutoff := now.Add(-limit.WindowDuration)

	categories := r.windows[subjectID]
	if categories == nil {
		categories = make(map[core.Category][]time.Time)
		r.windows[subjectID] = categories
	}

	live := prune(categories[category], cutoff)
	if len(live) >= limit.RequestsPerWindow {
		categories[category] = live
		metrics.RecordAdmission(category.String(), false)
		return core.Rejected
	}

	categories[category] = insertSorted(live, now)
	metrics.RecordAdmission(category.String(), true)
	r.persist(ctx)
	return core.Admitted
}

// Remaining reports how many more actions subjectID may take in category
// right now. Unlimited categories report -1.
func (r *RateLimiter) Remaining(ctx context.Context, subjectID string, category core.Category) int {
	if r == nil {
		return -1
	}
	limit, ok := r.getLimit(category)
	if !ok {
		return -1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx)
	live := prune(r.windows[strings.TrimSpace(subjectID)][category], r.now().Add(-limit.WindowDuration))
	remaining := limit.RequestsPerWindow - len(live)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns a copy of every window currently held in memory.
func (r *RateLimiter) Snapshot(ctx context.Context) []core.RateWindow {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ensureLoaded(ctx)
	return r.windows.Windows()
}

// ApplyOverrides merges per-category limits on top of DefaultLimits.
// A non-positive limit marks the category unlimited.
func (r *RateLimiter) ApplyOverrides(overrides map[string]RateLimit) {
	if r == nil || len(overrides) == 0 {
		return
	}

	if r.Limits == nil {
		r.Limits = make(map[core.Category]RateLimit, len(DefaultLimits))
		for key, limit := range DefaultLimits {
			r.Limits[key] = limit
		}
	}

	for name, limit := range overrides {
		category := core.ParseCategory(name)
		if category == "" {
			continue
		}
		if limit.WindowDuration <= 0 {
			if existing, ok := r.Limits[category]; ok {
				limit.WindowDuration = existing.WindowDuration
			}
		}
		r.Limits[category] = limit
	}
}

func (r *RateLimiter) getLimit(category core.Category) (RateLimit, bool) {
	limits := r.Limits
	if limits == nil {
		limits = DefaultLimits
	}

	limit, ok := limits[category]
	if !ok || limit.RequestsPerWindow <= 0 || limit.WindowDuration <= 0 {
		return RateLimit{}, false
	}
	return limit, true
}

func (r *RateLimiter) ensureLoaded(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true
	r.windows = core.WindowSet{}

	if r.Store == nil {
		return
	}

	set, err := r.Store.Load(ctx)
	if err != nil {
		loggerOr(r.Logger).Warn("Rate windows could not be fully loaded; continuing with what was readable",
			zap.Error(err))
	}
	if set != nil {
		r.windows = set
	}
}

func (r *RateLimiter) persist(ctx context.Context) {
	if r.Store == nil {
		return
	}
	if err := r.Store.Save(ctx, r.windows); err != nil {
		metrics.RecordPersistError("rate_windows")
		loggerOr(r.Logger).Error("Failed to persist rate windows", zap.Error(err))
	}
}

func (r *RateLimiter) now() time.Time {
	if r != nil && r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

// prune drops timestamps before cutoff. It checks every entry because the
// wall clock can step backwards, leaving a window out of order.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	live := stamps[:0:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			live = append(live, ts)
		}
	}
	switch len(live) {
	case len(stamps):
		return stamps
	case 0:
		return nil
	}
	return live
}

// insertSorted adds ts to a window, keeping it chronological.
func insertSorted(stamps []time.Time, ts time.Time) []time.Time {
	i, _ := slices.BinarySearchFunc(stamps, ts, func(a, b time.Time) int { return a.Compare(b) })
	for i < len(stamps) && stamps[i].Equal(ts) {
		i++
	}
	return slices.Insert(stamps, i, ts)
}
