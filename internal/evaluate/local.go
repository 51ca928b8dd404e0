package evaluate

import (
	"strings"

	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/rules"
)

// Local matches rules by case-insensitive substring, with the loop
// heuristic and action counting for the two special rule shapes.
type Local struct {
	// Window bounds how many recent entries literal termination rules
	// inspect. Zero means DefaultWindow.
	Window int

	// Stringify renders entry content for matching. Nil means
	// eventlog.Stringify.
	Stringify func(any) string
}

// NewLocal returns a Local evaluator with default settings.
func NewLocal() *Local {
	return &Local{}
}

func (l *Local) window() int {
	if l.Window <= 0 {
		return DefaultWindow
	}
	return l.Window
}

func (l *Local) text(e eventlog.Entry) string {
	if l.Stringify != nil {
		return l.Stringify(e.Content)
	}
	return e.Text()
}

// FindTerminationMatch checks each rule in order. Every rule is first tried
// as a substring of the recent window; the loop sentinel then runs the loop
// heuristic and a counting rule compares the whole-log action count.
func (l *Local) FindTerminationMatch(snapshot []eventlog.Entry, ruleList []string) (Match, bool) {
	if len(snapshot) == 0 {
		return Match{}, false
	}
	recent := eventlog.Tail(snapshot, l.window())

	for _, raw := range ruleList {
		rule := rules.Classify(raw)
		if !rule.Valid && rule.Kind == rules.KindLiteral {
			continue
		}

		pattern := strings.ToLower(raw)
		for _, e := range recent {
			text := l.text(e)
			if strings.Contains(strings.ToLower(text), pattern) {
				return Match{Rule: raw, Details: "Detected in log: " + text}, true
			}
		}

		switch rule.Kind {
		case rules.KindLoop:
			if detectLoop(snapshot, l.text) {
				return Match{Rule: raw}, true
			}
		case rules.KindCount:
			if rule.Valid && eventlog.Count(snapshot, eventlog.Entry.IsAction) > rule.Threshold {
				return Match{Rule: raw}, true
			}
		}
	}
	return Match{}, false
}

// FindPermissionMatch inspects only the newest entry.
func (l *Local) FindPermissionMatch(snapshot []eventlog.Entry, ruleList []string) (string, bool) {
	if len(snapshot) == 0 {
		return "", false
	}
	text := strings.ToLower(l.text(snapshot[len(snapshot)-1]))

	for _, raw := range ruleList {
		if raw == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(raw)) {
			return raw, true
		}
	}
	return "", false
}
