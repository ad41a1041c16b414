package core

import (
	"sort"
	"time"
)

// RateWindow is the sliding window of admitted timestamps for one subject and
// category. Timestamps are kept in chronological order.
type RateWindow struct {
	SubjectID  string      `json:"subject_id"`
	Category   Category    `json:"category"`
	Timestamps []time.Time `json:"timestamps"`
}

// WindowSet maps subject -> category -> timestamps.
type WindowSet map[string]map[Category][]time.Time

// Clone returns a deep copy of the set.
func (s WindowSet) Clone() WindowSet {
	out := make(WindowSet, len(s))
	for subject, categories := range s {
		inner := make(map[Category][]time.Time, len(categories))
		for category, stamps := range categories {
			inner[category] = append([]time.Time(nil), stamps...)
		}
		out[subject] = inner
	}
	return out
}

// Windows flattens the set into a list ordered by subject then category.
func (s WindowSet) Windows() []RateWindow {
	windows := make([]RateWindow, 0, len(s))
	for subject, categories := range s {
		for category, stamps := range categories {
			windows = append(windows, RateWindow{
				SubjectID:  subject,
				Category:   category,
				Timestamps: append([]time.Time(nil), stamps...),
			})
		}
	}
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].SubjectID == windows[j].SubjectID {
			return windows[i].Category < windows[j].Category
		}
		return windows[i].SubjectID < windows[j].SubjectID
	})
	return windows
}

// Last returns the most recent timestamp, or the zero time.
func (w RateWindow) Last() time.Time {
	if len(w.Timestamps) == 0 {
		return time.Time{}
	}
	return w.Timestamps[len(w.Timestamps)-1]
}
