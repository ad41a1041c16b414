package output

import (
	"fmt"
	"strings"

	"github.com/relaybot/relaybot/internal/core"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatWindows renders windows as Markdown.
func (f *MarkdownFormatter) FormatWindows(windows []core.RateWindow) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limit windows\n\n")
	sb.WriteString("| Subject | Category | Count | Oldest | Newest |\n")
	sb.WriteString("|---------|----------|-------|--------|--------|\n")
	for _, window := range windows {
		oldest, newest := windowBounds(window)
		fmt.Fprintf(&sb, "| %s | %s | %d | %s | %s |\n",
			escapeMarkdownCell(window.SubjectID),
			escapeMarkdownCell(window.Category.String()),
			len(window.Timestamps),
			formatTime(oldest),
			formatTime(newest),
		)
	}
	return sb.String(), nil
}

// FormatSubjects renders profiles as Markdown.
func (f *MarkdownFormatter) FormatSubjects(subjects []core.SubjectProfile) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Subjects\n\n")
	sb.WriteString("| Subject | User | Messages | First Seen | Last Activity |\n")
	sb.WriteString("|---------|------|----------|------------|---------------|\n")
	for _, profile := range subjects {
		fmt.Fprintf(&sb, "| %s | %s | %d | %s | %s |\n",
			escapeMarkdownCell(profile.SubjectID),
			escapeMarkdownCell(displayUser(profile)),
			profile.MessageCount,
			formatTime(profile.FirstSeen),
			formatTime(profile.LastActivity),
		)
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
