package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaybot/relaybot/internal/core"
)

type memoryWindowStore struct {
	set     core.WindowSet
	loadErr error
	saveErr error
	saves   int
}

func (m *memoryWindowStore) Load(ctx context.Context) (core.WindowSet, error) {
	if m.set == nil {
		return core.WindowSet{}, m.loadErr
	}
	return m.set.Clone(), m.loadErr
}

func (m *memoryWindowStore) Save(ctx context.Context, set core.WindowSet) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.set = set.Clone()
	return nil
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(store WindowStore, clock *fakeClock, limits map[core.Category]RateLimit) *RateLimiter {
	return &RateLimiter{Store: store, Limits: limits, Clock: clock.Now}
}

func TestRateLimiterSlidingWindowNeverExceedsLimit(t *testing.T) {
	const limit = 4
	window := 10 * time.Second
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 20; run++ {
		clock := newFakeClock()
		limiter := newTestLimiter(&memoryWindowStore{}, clock, map[core.Category]RateLimit{
			core.CategoryMessages: {RequestsPerWindow: limit, WindowDuration: window},
		})

		var admitted []time.Time
		for i := 0; i < 200; i++ {
			clock.Advance(time.Duration(rng.Intn(4000)) * time.Millisecond)
			if limiter.Admit(context.Background(), "U1", core.CategoryMessages) == core.Admitted {
				admitted = append(admitted, clock.Now())
			}
		}
		require.NotEmpty(t, admitted)

		for i, start := range admitted {
			count := 0
			for _, ts := range admitted[i:] {
				if ts.After(start.Add(window)) {
					break
				}
				count++
			}
			require.LessOrEqual(t, count, limit, "window starting at %s", start)
		}
	}
}

func TestRateLimiterUnknownCategoryFailsOpen(t *testing.T) {
	store := &memoryWindowStore{}
	limiter := newTestLimiter(store, newFakeClock(), nil)

	for i := 0; i < 1000; i++ {
		require.Equal(t, core.Admitted, limiter.Admit(context.Background(), "U1", core.Category("nonexistent_category")))
	}
	require.Zero(t, store.saves)
	require.Equal(t, -1, limiter.Remaining(context.Background(), "U1", "nonexistent_category"))
}

func TestRateLimiterNonPositiveLimitIsUnlimited(t *testing.T) {
	limiter := newTestLimiter(&memoryWindowStore{}, newFakeClock(), map[core.Category]RateLimit{
		core.CategoryMessages: {RequestsPerWindow: 0, WindowDuration: time.Minute},
	})
	for i := 0; i < 50; i++ {
		require.Equal(t, core.Admitted, limiter.Admit(context.Background(), "U1", core.CategoryMessages))
	}
}

func TestRateLimiterRejectionDoesNotConsumeBudget(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := &memoryWindowStore{}
	limiter := newTestLimiter(store, clock, map[core.Category]RateLimit{
		core.CategoryMessages: {RequestsPerWindow: 3, WindowDuration: time.Minute},
	})

	for i := 0; i < 3; i++ {
		require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
		clock.Advance(time.Second)
	}
	require.Equal(t, 3, store.saves)

	require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages))
	require.Equal(t, 3, store.saves, "rejections are not persisted")

	// All three admitted entries (t=0s..2s) have expired at t=62.5s while a
	// counted rejection at t=3s would still be live.
	clock.Advance(59*time.Second + 500*time.Millisecond)
	for i := 0; i < 3; i++ {
		require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages), "admit %d", i)
	}
	require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages))
}

func TestRateLimiterWindowBoundaryIsInclusive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	limiter := newTestLimiter(&memoryWindowStore{}, clock, map[core.Category]RateLimit{
		core.CategoryMessages: {RequestsPerWindow: 1, WindowDuration: time.Minute},
	})

	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
	clock.Advance(time.Minute)
	require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages))
	clock.Advance(time.Nanosecond)
	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
}

func TestRateLimiterSurvivesClockSteppingBack(t *testing.T) {
	ctx := context.Background()
	store := &memoryWindowStore{}
	clock := newFakeClock()
	start := clock.Now()
	limiter := newTestLimiter(store, clock, map[core.Category]RateLimit{
		core.CategoryMessages: {RequestsPerWindow: 2, WindowDuration: 10 * time.Second},
	})

	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
	clock.Advance(-5 * time.Second)
	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
	require.Equal(t, []time.Time{start.Add(-5 * time.Second), start}, store.set["U1"][core.CategoryMessages])

	// The stepped-back entry has expired; the later one is still live.
	clock.Advance(11 * time.Second)
	require.Equal(t, 1, limiter.Remaining(ctx, "U1", core.CategoryMessages))
	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
	require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages))
}

func TestPruneChecksEveryEntry(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{base.Add(5 * time.Second), base, base.Add(8 * time.Second), base.Add(time.Second)}

	require.Equal(t, []time.Time{base.Add(5 * time.Second), base.Add(8 * time.Second)}, prune(stamps, base.Add(2*time.Second)))
	require.Equal(t, stamps, prune(stamps, base))
	require.Nil(t, prune(stamps, base.Add(time.Minute)))
}

func TestRateLimiterSubjectsAndCategoriesAreIndependent(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(&memoryWindowStore{}, newFakeClock(), map[core.Category]RateLimit{
		core.CategoryMessages:   {RequestsPerWindow: 1, WindowDuration: time.Minute},
		core.CategoryBroadcasts: {RequestsPerWindow: 1, WindowDuration: time.Hour},
	})

	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
	require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages))
	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U2", core.CategoryMessages))
	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryBroadcasts))
	require.Equal(t, core.Rejected, limiter.Admit(ctx, "", core.CategoryMessages))
}

func TestRateLimiterLoadsPersistedWindows(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := &memoryWindowStore{set: core.WindowSet{
		"U1": {core.CategoryMessages: {clock.Now().Add(-10 * time.Second), clock.Now().Add(-5 * time.Second)}},
	}}
	limiter := newTestLimiter(store, clock, map[core.Category]RateLimit{
		core.CategoryMessages: {RequestsPerWindow: 2, WindowDuration: time.Minute},
	})

	require.Equal(t, 0, limiter.Remaining(ctx, "U1", core.CategoryMessages))
	require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages))

	clock.Advance(51 * time.Second)
	require.Equal(t, 1, limiter.Remaining(ctx, "U1", core.CategoryMessages))
	require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))

	windows := limiter.Snapshot(ctx)
	require.Len(t, windows, 1)
	require.Len(t, windows[0].Timestamps, 2)
	require.Len(t, store.set["U1"][core.CategoryMessages], 2, "pruned window is persisted")
}

func TestRateLimiterStoreFailuresFailOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadError", func(t *testing.T) {
		store := &memoryWindowStore{loadErr: errors.New("store data is corrupt")}
		limiter := newTestLimiter(store, newFakeClock(), map[core.Category]RateLimit{
			core.CategoryMessages: {RequestsPerWindow: 1, WindowDuration: time.Minute},
		})
		require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
		require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages))
	})

	t.Run("SaveError", func(t *testing.T) {
		store := &memoryWindowStore{saveErr: errors.New("disk full")}
		limiter := newTestLimiter(store, newFakeClock(), map[core.Category]RateLimit{
			core.CategoryMessages: {RequestsPerWindow: 2, WindowDuration: time.Minute},
		})
		require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
		require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
		require.Equal(t, core.Rejected, limiter.Admit(ctx, "U1", core.CategoryMessages), "in-memory window still enforced")
		require.Equal(t, 2, store.saves)
	})

	t.Run("NoStore", func(t *testing.T) {
		limiter := &RateLimiter{Clock: newFakeClock().Now}
		require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
	})

	t.Run("NilLimiter", func(t *testing.T) {
		var limiter *RateLimiter
		require.Equal(t, core.Admitted, limiter.Admit(ctx, "U1", core.CategoryMessages))
	})
}

func TestRateLimiterApplyOverrides(t *testing.T) {
	limiter := &RateLimiter{}
	limiter.ApplyOverrides(map[string]RateLimit{
		"Messages": {RequestsPerWindow: 20},
		"general":  {RequestsPerWindow: 3, WindowDuration: 10 * time.Second},
		"":         {RequestsPerWindow: 1, WindowDuration: time.Second},
	})

	require.Equal(t, RateLimit{RequestsPerWindow: 20, WindowDuration: time.Minute}, limiter.Limits[core.CategoryMessages])
	require.Equal(t, RateLimit{RequestsPerWindow: 3, WindowDuration: 10 * time.Second}, limiter.Limits["general"])
	require.Equal(t, DefaultLimits[core.CategoryBroadcasts], limiter.Limits[core.CategoryBroadcasts])
	require.Len(t, limiter.Limits, 4)
}
