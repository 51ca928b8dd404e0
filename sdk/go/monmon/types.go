package monmon

import (
	"github.com/ppiankov/monmon/internal/monitor"
)

// State is a session's lifecycle state.
type State string

const (
	Running    State = "running"
	Paused     State = "paused"
	Terminated State = "terminated"
)

// ErrTerminated matches every termination via errors.Is.
var ErrTerminated = monitor.ErrTerminated

// ErrNotPaused is returned by Grant when no request is pending.
var ErrNotPaused = monitor.ErrNotPaused

// TerminationError reports the condition that ended a session.
type TerminationError = monitor.TerminationError

// Action describes what a tool intends to do.
type Action struct {
	Tool  string // tool name: "web_search", "shell", "send_email"
	Input string // what the tool is asked to do: a query, a command, a URL
}

// String renders the action the way it is logged and matched.
func (a Action) String() string {
	if a.Tool == "" {
		return a.Input
	}
	if a.Input == "" {
		return a.Tool
	}
	return a.Tool + ": " + a.Input
}

// Status is a snapshot of the session.
type Status struct {
	SessionID string
	State     State
	Pending   string // condition awaiting a decision while Paused
	Entries   int
	Err       error // *TerminationError once Terminated
}
