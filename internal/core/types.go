package core

import (
	"strings"
	"time"
)

// Category names a class of action with its own rate-limit window.
type Category string

const (
	CategoryMessages   Category = "messages"
	CategoryDownloads  Category = "downloads"
	CategoryBroadcasts Category = "broadcasts"
)

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// ParseCategory normalizes a user supplied category name.
func ParseCategory(value string) Category {
	return Category(strings.ToLower(strings.TrimSpace(value)))
}

// Admission is the rate limiter's decision for one action attempt.
type Admission int

const (
	Admitted Admission = iota
	Rejected
)

func (a Admission) String() string {
	if a == Admitted {
		return "admitted"
	}
	return "rejected"
}

// Event is one inbound update from the messaging platform.
//
// SubjectID is empty for updates without an identifiable actor (channel
// posts, service messages). CommandName is empty for free text.
type Event struct {
	ID          int64     `json:"id"`
	SubjectID   string    `json:"subject_id,omitempty"`
	ChatID      int64     `json:"chat_id,omitempty"`
	Username    string    `json:"username,omitempty"`
	CommandName string    `json:"command_name,omitempty"`
	Args        []string  `json:"args,omitempty"`
	RawContent  string    `json:"raw_content,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
}

// IsCommand reports whether the event invokes a structured command.
func (e Event) IsCommand() bool {
	return e.CommandName != ""
}

// Text returns the command arguments joined, or the raw content for free text.
func (e Event) Text() string {
	if e.IsCommand() {
		return strings.Join(e.Args, " ")
	}
	return strings.TrimSpace(e.RawContent)
}

// SubjectProfile tracks activity for a known subject.
type SubjectProfile struct {
	SubjectID    string    `json:"subject_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id,omitempty"`
	FirstSeen    time.Time `json:"first_seen"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int64     `json:"message_count"`
}

// SubjectStats summarizes the subject directory.
type SubjectStats struct {
	TotalSubjects int64 `json:"total_subjects"`
	TotalMessages int64 `json:"total_messages"`
	ActiveToday   int64 `json:"active_today"`
}
