package cli

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/neilberkman/chatsync/internal/core/models"
)

// truncateWidth flattens s to one line and cuts it to width terminal cells
func truncateWidth(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}

// padWidth pads s with spaces to width terminal cells
func padWidth(s string, width int) string {
	return runewidth.FillRight(truncateWidth(s, width), width)
}

// formatTimestamp formats a timestamp in a human-friendly way
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func speaker(m models.Message) string {
	if m.IsAutomated {
		return "assistant"
	}
	return "you"
}

// parseDate accepts natural language ("last week", "yesterday") or common
// absolute formats
func parseDate(s string, now time.Time) (time.Time, bool) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	if result, err := w.Parse(s, now); err == nil && result != nil {
		return result.Time, true
	}

	formats := []string{
		"2006-01-02",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
	}
	for _, format := range formats {
		if t, err := time.ParseInLocation(format, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
