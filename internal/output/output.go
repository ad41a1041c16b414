// Package output renders CLI results as tables, JSON or Markdown.
package output

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/relaybot/relaybot/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders admin listings.
type Formatter interface {
	FormatWindows(windows []core.RateWindow) (string, error)
	FormatSubjects(subjects []core.SubjectProfile) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// Extension returns the file extension for format.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.UTC().Format(time.RFC3339)
}

func windowBounds(window core.RateWindow) (oldest, newest time.Time) {
	if len(window.Timestamps) == 0 {
		return time.Time{}, time.Time{}
	}
	return window.Timestamps[0], window.Last()
}

func displayUser(profile core.SubjectProfile) string {
	if profile.Username == "" {
		return "-"
	}
	return "@" + profile.Username
}

// FormatForPath infers a format from a file extension.
func FormatForPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".md", ".markdown":
		return FormatMarkdown, true
	default:
		return "", false
	}
}
