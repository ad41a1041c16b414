package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaybot/relaybot/internal/core"
)

func TestSubjectsTrack(t *testing.T) {
	ctx := context.Background()
	fs, err := OpenFile(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	subjects := NewSubjects(fs)

	require.NoError(t, subjects.Track(ctx, core.Event{SubjectID: "7", ChatID: 70, Username: "ana", ReceivedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, subjects.Track(ctx, core.Event{SubjectID: "7", ChatID: 70, ReceivedAt: now.Add(-time.Hour)}))
	require.NoError(t, subjects.Track(ctx, core.Event{SubjectID: "8", ChatID: 80, ReceivedAt: now.Add(-30 * time.Hour)}))
	require.NoError(t, subjects.Track(ctx, core.Event{ChatID: 90}))

	profile, ok, err := subjects.Get(ctx, "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), profile.MessageCount)
	require.Equal(t, "ana", profile.Username)
	require.Equal(t, now.Add(-48*time.Hour), profile.FirstSeen)
	require.Equal(t, now.Add(-time.Hour), profile.LastActivity)

	// A fresh view over the same store sees the persisted directory.
	reloaded := NewSubjects(fs)
	list, err := reloaded.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "7", list[0].SubjectID)

	stats, err := reloaded.Stats(ctx, now)
	require.NoError(t, err)
	require.Equal(t, core.SubjectStats{TotalSubjects: 2, TotalMessages: 3, ActiveToday: 1}, stats)
}

func TestSubjectsTrackUsesClockWhenEventUnstamped(t *testing.T) {
	ctx := context.Background()
	fs, err := OpenFile(t.TempDir())
	require.NoError(t, err)

	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	subjects := NewSubjects(fs)
	subjects.Clock = func() time.Time { return fixed }

	require.NoError(t, subjects.Track(ctx, core.Event{SubjectID: "1"}))
	profile, ok, err := subjects.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, fixed, profile.LastActivity)
}
