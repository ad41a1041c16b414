package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relaybot/relaybot/internal/core"
)

// Subjects is the directory of known subjects and their activity.
type Subjects struct {
	kv    KeyValueStore
	Clock func() time.Time

	mu       sync.Mutex
	loaded   bool
	profiles map[string]core.SubjectProfile
}

// NewSubjects wraps kv.
func NewSubjects(kv KeyValueStore) *Subjects {
	return &Subjects{kv: kv}
}

// Track records activity for the event's subject and persists the directory.
func (s *Subjects) Track(ctx context.Context, event core.Event) error {
	if s == nil || s.kv == nil {
		return errors.New("store is not initialized")
	}
	subject := strings.TrimSpace(event.SubjectID)
	if subject == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	at := event.ReceivedAt
	if at.IsZero() {
		at = s.now()
	}

	profile, ok := s.profiles[subject]
	if !ok {
		profile = core.SubjectProfile{SubjectID: subject, FirstSeen: at}
	}
	if event.Username != "" {
		profile.Username = event.Username
	}
	if event.ChatID != 0 {
		profile.ChatID = event.ChatID
	}
	profile.LastActivity = at
	profile.MessageCount++
	s.profiles[subject] = profile

	return s.saveLocked(ctx)
}

// Get returns a single profile.
func (s *Subjects) Get(ctx context.Context, subjectID string) (core.SubjectProfile, bool, error) {
	if s == nil || s.kv == nil {
		return core.SubjectProfile{}, false, errors.New("store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return core.SubjectProfile{}, false, err
	}
	profile, ok := s.profiles[strings.TrimSpace(subjectID)]
	return profile, ok, nil
}

// List returns all profiles, most recently active first.
func (s *Subjects) List(ctx context.Context) ([]core.SubjectProfile, error) {
	if s == nil || s.kv == nil {
		return nil, errors.New("store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	profiles := make([]core.SubjectProfile, 0, len(s.profiles))
	for _, profile := range s.profiles {
		profiles = append(profiles, profile)
	}
	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].LastActivity.Equal(profiles[j].LastActivity) {
			return profiles[i].SubjectID < profiles[j].SubjectID
		}
		return profiles[i].LastActivity.After(profiles[j].LastActivity)
	})
	return profiles, nil
}

// Stats summarizes the directory. Subjects active within 24h of now count
// as active today.
func (s *Subjects) Stats(ctx context.Context, now time.Time) (core.SubjectStats, error) {
	profiles, err := s.List(ctx)
	if err != nil {
		return core.SubjectStats{}, err
	}

	stats := core.SubjectStats{TotalSubjects: int64(len(profiles))}
	cutoff := now.Add(-24 * time.Hour)
	for _, profile := range profiles {
		stats.TotalMessages += profile.MessageCount
		if !profile.LastActivity.Before(cutoff) {
			stats.ActiveToday++
		}
	}
	return stats, nil
}

func (s *Subjects) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	s.profiles = map[string]core.SubjectProfile{}
	entries, err := s.kv.LoadAll(ctx, NamespaceSubjects)
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return err
	}
	for key, data := range entries {
		var profile core.SubjectProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			continue
		}
		if profile.SubjectID == "" {
			profile.SubjectID = key
		}
		s.profiles[key] = profile
	}
	s.loaded = true
	return nil
}

func (s *Subjects) saveLocked(ctx context.Context) error {
	entries := make(map[string][]byte, len(s.profiles))
	for key, profile := range s.profiles {
		data, err := json.Marshal(profile)
		if err != nil {
			return fmt.Errorf("encode subject %s: %w", key, err)
		}
		entries[key] = data
	}
	if err := s.kv.SaveAll(ctx, NamespaceSubjects, entries); err != nil {
		return fmt.Errorf("save subjects: %w", err)
	}
	return nil
}

func (s *Subjects) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
