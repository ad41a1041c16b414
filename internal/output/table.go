package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/relaybot/relaybot/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatWindows renders one row per subject and category.
func (f *TableFormatter) FormatWindows(windows []core.RateWindow) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Subject", "Category", "Count", "Oldest", "Newest"})

	total := 0
	for _, window := range windows {
		oldest, newest := windowBounds(window)
		t.AppendRow(table.Row{
			window.SubjectID,
			window.Category.String(),
			len(window.Timestamps),
			formatTime(oldest),
			formatTime(newest),
		})
		total += len(window.Timestamps)
	}
	t.AppendFooter(table.Row{"", "", total, fmt.Sprintf("%d window(s)", len(windows)), ""})
	return t.Render(), nil
}

// FormatSubjects renders the subject directory.
func (f *TableFormatter) FormatSubjects(subjects []core.SubjectProfile) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Subject", "User", "Messages", "First Seen", "Last Activity"})

	var messages int64
	for _, profile := range subjects {
		t.AppendRow(table.Row{
			profile.SubjectID,
			displayUser(profile),
			profile.MessageCount,
			formatTime(profile.FirstSeen),
			formatTime(profile.LastActivity),
		})
		messages += profile.MessageCount
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d subject(s)", len(subjects)), "", messages, "", ""})
	return t.Render(), nil
}
