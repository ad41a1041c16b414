package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaybot/relaybot/internal/core"
)

// Counters is the rate window view over a key value store.
type Counters struct {
	kv KeyValueStore
}

// NewCounters wraps kv.
func NewCounters(kv KeyValueStore) *Counters {
	return &Counters{kv: kv}
}

// Load returns every persisted window.
//
// The returned set is never nil. A missing namespace yields an empty set and
// no error. Undecodable entries are skipped and reported through an error
// wrapping ErrCorrupt, so callers may log it and carry on with what loaded.
func (c *Counters) Load(ctx context.Context) (core.WindowSet, error) {
	set := core.WindowSet{}
	if c == nil || c.kv == nil {
		return set, errors.New("store is not initialized")
	}

	entries, err := c.kv.LoadAll(ctx, NamespaceRateWindows)
	if err != nil {
		return set, err
	}

	var bad []string
	for subject, data := range entries {
		categories := map[core.Category][]time.Time{}
		if err := json.Unmarshal(data, &categories); err != nil {
			bad = append(bad, subject)
			continue
		}
		set[subject] = categories
	}
	if len(bad) > 0 {
		return set, fmt.Errorf("%w: %d rate window entries skipped (%s)", ErrCorrupt, len(bad), strings.Join(bad, ", "))
	}
	return set, nil
}

// Save replaces all persisted windows with set.
func (c *Counters) Save(ctx context.Context, set core.WindowSet) error {
	if c == nil || c.kv == nil {
		return errors.New("store is not initialized")
	}

	entries := make(map[string][]byte, len(set))
	for subject, categories := range set {
		if len(categories) == 0 {
			continue
		}
		data, err := json.Marshal(categories)
		if err != nil {
			return fmt.Errorf("encode rate windows for %s: %w", subject, err)
		}
		entries[subject] = data
	}

	if err := c.kv.SaveAll(ctx, NamespaceRateWindows, entries); err != nil {
		return fmt.Errorf("save rate windows: %w", err)
	}
	return nil
}

// WindowQuery selects persisted windows for admin commands.
type WindowQuery struct {
	All      bool
	Subject  string
	Category string
}

func (q WindowQuery) Validate() error {
	if q.All {
		return nil
	}
	if strings.TrimSpace(q.Subject) != "" {
		return nil
	}
	if strings.TrimSpace(q.Category) != "" {
		return nil
	}
	return errors.New("must specify --all, --subject, or --category")
}

func (q WindowQuery) matches(subject string, category core.Category) bool {
	if q.All {
		return true
	}
	if want := strings.TrimSpace(q.Subject); want != "" && want != subject {
		return false
	}
	if want := core.ParseCategory(q.Category); want != "" && want != category {
		return false
	}
	return true
}

// List returns the windows matching q.
func (c *Counters) List(ctx context.Context, q WindowQuery) ([]core.RateWindow, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	set, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}

	windows := []core.RateWindow{}
	for _, window := range set.Windows() {
		if q.matches(window.SubjectID, window.Category) {
			windows = append(windows, window)
		}
	}
	return windows, nil
}

// Count returns the number of windows matching q.
func (c *Counters) Count(ctx context.Context, q WindowQuery) (int, error) {
	windows, err := c.List(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(windows), nil
}

// Reset deletes the windows matching q and returns how many were removed.
func (c *Counters) Reset(ctx context.Context, q WindowQuery) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	set, err := c.Load(ctx)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return 0, err
	}

	removed := 0
	for subject, categories := range set {
		for category := range categories {
			if q.matches(subject, category) {
				delete(categories, category)
				removed++
			}
		}
		if len(categories) == 0 {
			delete(set, subject)
		}
	}

	if removed == 0 && err == nil {
		return 0, nil
	}
	if err := c.Save(ctx, set); err != nil {
		return 0, err
	}
	return removed, nil
}
