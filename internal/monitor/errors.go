package monitor

import "errors"

var (
	// ErrTerminated matches every *TerminationError via errors.Is.
	ErrTerminated = errors.New("termination condition met")

	// ErrAlreadyRunning is returned by Start when the poll loop is active.
	ErrAlreadyRunning = errors.New("monitor: already running")

	// ErrNotPaused is returned by GrantPermission when no request is pending.
	ErrNotPaused = errors.New("monitor: no permission request pending")
)

// TerminationError ends a session. It is the only error a monitor returns
// from Log for reasons other than context cancellation.
type TerminationError struct {
	Condition string
	Details   string
}

func (e *TerminationError) Error() string {
	msg := "termination condition met: " + e.Condition
	if e.Details != "" {
		msg += " - " + e.Details
	}
	return msg
}

// Is reports ErrTerminated as a match.
func (e *TerminationError) Is(target error) bool {
	return target == ErrTerminated
}

// Details strings recorded when a pause ends in termination.
const (
	DetailsDenied   = "permission denied"
	DetailsTimedOut = "permission request timed out"
)
