package evaluate

import "github.com/ppiankov/monmon/internal/eventlog"

const (
	loopWindow = 6
	loopRun    = 3
)

// DetectLoop reports whether the assistant repeated its last three actions
// verbatim. Only assistant entries among the six most recent entries are
// considered, so interleaved user entries shrink the sample; fewer than six
// assistant entries in that window never count as a loop.
func DetectLoop(snapshot []eventlog.Entry) bool {
	return detectLoop(snapshot, eventlog.Entry.Text)
}

func detectLoop(snapshot []eventlog.Entry, text func(eventlog.Entry) string) bool {
	recent := eventlog.Tail(snapshot, loopWindow)
	if len(recent) < loopWindow {
		return false
	}

	actions := make([]string, 0, loopWindow)
	for _, e := range recent {
		if e.IsAction() {
			actions = append(actions, text(e))
		}
	}
	if len(actions) < loopWindow {
		return false
	}

	prev, last := actions[:loopRun], actions[loopRun:]
	for i := range last {
		if prev[i] != last[i] {
			return false
		}
	}
	return true
}
