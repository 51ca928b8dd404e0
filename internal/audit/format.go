package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.SessionID
	if label == "" {
		label = "all sessions"
	}
	if len(result.Entries) == 0 {
		return fmt.Sprintf("Session: %s | No entries found.\n", label)
	}

	var b strings.Builder

	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Session: %s | %s–%s UTC\n", label, first, last))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		event := strings.ToUpper(e.Event)
		condition := truncate(e.Condition, 32)
		details := truncate(e.Details, 40)

		b.WriteString(strings.TrimRight(fmt.Sprintf("%-10s %-11s %-32s %s", ts, event, condition, details), " ") + "\n")
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{fmt.Sprintf("%d transitions", s.Total)}
	if s.PauseCount > 0 {
		parts = append(parts, fmt.Sprintf("%d paused", s.PauseCount))
	}
	if s.ResumeCount > 0 {
		parts = append(parts, fmt.Sprintf("%d resumed", s.ResumeCount))
	}

	outcome := "not terminated"
	if s.Terminated {
		outcome = "terminated: " + s.Condition
		if s.Details != "" {
			outcome += " - " + s.Details
		}
	}
	return fmt.Sprintf("Summary: %s | %s\n", strings.Join(parts, ", "), outcome)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
