package monitor

import (
	"fmt"
	"io"
	"os"
	"time"
)

// State is the lifecycle state of a monitoring session.
type State int

const (
	StateRunning State = iota
	StatePaused
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event names a lifecycle transition.
type Event string

const (
	EventStarted    Event = "started"
	EventPaused     Event = "paused"
	EventResumed    Event = "resumed"
	EventTerminated Event = "terminated"
	EventStopped    Event = "stopped"
)

// Transition describes one state change.
type Transition struct {
	SessionID string    `json:"session_id"`
	Event     Event     `json:"event"`
	From      State     `json:"-"`
	To        State     `json:"-"`
	Condition string    `json:"condition,omitempty"`
	Details   string    `json:"details,omitempty"`
	Time      time.Time `json:"ts"`
}

// Observer receives every transition outside the monitor's lock.
// Implementations must not block for long: they run on the goroutine that
// caused the transition.
type Observer interface {
	Transition(Transition)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Transition)

func (f ObserverFunc) Transition(t Transition) { f(t) }

// Notifier is told when a permission request pauses the session. It is
// called synchronously from RequestPermission.
type Notifier interface {
	PermissionRequired(condition string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(condition string)

func (f NotifierFunc) PermissionRequired(condition string) { f(condition) }

// WriterNotifier prints "Permission required: <condition>" to W.
type WriterNotifier struct {
	W io.Writer
}

func (n WriterNotifier) PermissionRequired(condition string) {
	w := n.W
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, "Permission required: %s\n", condition)
}

type observers []Observer

func (o observers) Transition(t Transition) {
	for _, obs := range o {
		obs.Transition(t)
	}
}
