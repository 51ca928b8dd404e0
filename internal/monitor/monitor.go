// Package monitor runs a monitoring session over an event log: a background
// poll loop evaluates rules, terminates the session or pauses it until an
// operator grants permission, and blocks the logging caller while paused.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/monmon/internal/evaluate"
	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/rules"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultStopGrace    = time.Second
)

// Config holds lifecycle tuning.
type Config struct {
	PollInterval time.Duration

	// PermissionTimeout bounds how long Log blocks while paused. Zero waits
	// indefinitely. An expired wait is treated as a denial.
	PermissionTimeout time.Duration

	// StopGrace bounds how long Stop waits for the poll loop to exit.
	StopGrace time.Duration
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithEvaluator replaces the default substring evaluator.
func WithEvaluator(e evaluate.Evaluator) Option {
	return func(m *Monitor) { m.eval = e }
}

// WithNotifier replaces the default stdout notifier.
func WithNotifier(n Notifier) Option {
	return func(m *Monitor) { m.notifier = n }
}

// WithObserver adds a transition observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observers = append(m.observers, o) }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithSink adds an entry sink to the session's event log.
func WithSink(s eventlog.Sink) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, s) }
}

// WithSessionID fixes the id of the first session instead of generating one.
func WithSessionID(id string) Option {
	return func(m *Monitor) { m.sessionID = id }
}

// Monitor owns one session's state machine and poll loop.
type Monitor struct {
	cfg       Config
	rules     rules.RuleSet
	log       *eventlog.Log
	eval      evaluate.Evaluator
	notifier  Notifier
	observers observers
	logger    logging.Logger
	sinks     []eventlog.Sink

	mu        sync.Mutex
	state     State
	pending   string
	permIndex int           // newest entry index when permission was last requested
	resume    chan struct{} // closed when the current pause resolves
	done      chan struct{} // closed on termination
	termErr   *TerminationError
	sessionID string
	started   bool
	cancel    context.CancelFunc
	stopped   chan struct{} // closed when the poll loop exits
}

// New creates a Monitor in the running state. The poll loop does not run
// until Start.
func New(cfg Config, ruleSet rules.RuleSet, opts ...Option) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}

	m := &Monitor{
		cfg:       cfg,
		rules:     ruleSet.Clone(),
		eval:      evaluate.NewLocal(),
		notifier:  WriterNotifier{},
		logger:    logging.Nop{},
		permIndex: -1,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sessionID == "" {
		m.sessionID = uuid.New().String()
	}

	m.log = eventlog.New(m.sinks...)
	m.log.OnSinkError(func(err error) {
		m.logger.Warn("entry sink failed", logging.String("session_id", m.SessionID()), logging.Err(err))
	})
	return m
}

// Rules returns a copy of the rule set the monitor evaluates.
func (m *Monitor) Rules() rules.RuleSet {
	return m.rules.Clone()
}

// Log appends an entry. If the session is paused, Log blocks until the pause
// is resolved, ctx is cancelled, or the permission timeout expires. It
// returns the session's *TerminationError once the session has terminated,
// and ctx.Err() if ctx ends the wait (the session stays paused).
func (m *Monitor) Log(ctx context.Context, role string, content any) error {
	entry := m.log.Append(role, content)

	m.mu.Lock()
	if m.state != StatePaused {
		err := m.errLocked()
		m.mu.Unlock()
		return err
	}
	resume := m.resume
	condition := m.pending
	m.mu.Unlock()

	m.logger.Info("agent paused, waiting for permission",
		logging.String("session_id", m.SessionID()),
		logging.String("condition", condition),
		logging.Int("entry", entry.Index))

	var timeout <-chan time.Time
	if m.cfg.PermissionTimeout > 0 {
		t := time.NewTimer(m.cfg.PermissionTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-resume:
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		m.expire(resume)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errLocked()
}

// RequestPermission pauses a running session on condition and notifies the
// notifier. It is a no-op unless the session is running.
func (m *Monitor) RequestPermission(condition string) {
	m.requestPermission(condition, m.log.Len()-1)
}

func (m *Monitor) requestPermission(condition string, index int) {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	m.state = StatePaused
	m.pending = condition
	m.permIndex = index
	m.resume = make(chan struct{})
	t := m.transitionLocked(EventPaused, StateRunning, condition, "")
	m.mu.Unlock()

	m.emit(t)
	m.notifier.PermissionRequired(condition)
}

// GrantPermission resolves the pending request. Granting resumes the
// session; denying terminates it with the pending condition. Either way
// the blocked caller is released.
func (m *Monitor) GrantPermission(granted bool) error {
	m.mu.Lock()
	if m.state != StatePaused {
		m.mu.Unlock()
		return ErrNotPaused
	}

	if !granted {
		t, _ := m.terminateLocked(m.pending, DetailsDenied)
		m.mu.Unlock()
		m.emit(t)
		return nil
	}

	condition := m.pending
	m.state = StateRunning
	m.pending = ""
	close(m.resume)
	m.resume = nil
	t := m.transitionLocked(EventResumed, StatePaused, condition, "")
	m.mu.Unlock()

	m.emit(t)
	return nil
}

// Terminate ends the session and returns the resulting *TerminationError.
// The first termination wins: later calls return the original error.
func (m *Monitor) Terminate(condition, details string) error {
	m.mu.Lock()
	t, ok := m.terminateLocked(condition, details)
	err := m.termErr
	m.mu.Unlock()

	if ok {
		m.emit(t)
	}
	return err
}

// expire turns a timed-out pause into a denial, unless it was resolved
// meanwhile.
func (m *Monitor) expire(resume chan struct{}) {
	m.mu.Lock()
	if m.state != StatePaused || m.resume != resume {
		m.mu.Unlock()
		return
	}
	t, _ := m.terminateLocked(m.pending, DetailsTimedOut)
	m.mu.Unlock()
	m.emit(t)
}

func (m *Monitor) terminateLocked(condition, details string) (Transition, bool) {
	if m.state == StateTerminated {
		return Transition{}, false
	}
	from := m.state
	m.state = StateTerminated
	m.pending = ""
	m.termErr = &TerminationError{Condition: condition, Details: details}
	close(m.done)

	// A caller blocked in Log is released and sees the termination error.
	if m.resume != nil {
		close(m.resume)
		m.resume = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	return m.transitionLocked(EventTerminated, from, condition, details), true
}

func (m *Monitor) transitionLocked(ev Event, from State, condition, details string) Transition {
	return Transition{
		SessionID: m.sessionID,
		Event:     ev,
		From:      from,
		To:        m.state,
		Condition: condition,
		Details:   details,
		Time:      time.Now().UTC(),
	}
}

func (m *Monitor) emit(t Transition) {
	fields := []logging.Field{
		logging.String("session_id", t.SessionID),
		logging.String("event", string(t.Event)),
		logging.String("state", t.To.String()),
	}
	if t.Condition != "" {
		fields = append(fields, logging.String("condition", t.Condition))
	}
	if t.Details != "" {
		fields = append(fields, logging.String("details", t.Details))
	}
	m.logger.Info("monitor transition", fields...)
	m.observers.Transition(t)
}

func (m *Monitor) errLocked() error {
	if m.termErr == nil {
		return nil
	}
	return m.termErr
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns the condition of the pending permission request, or "".
func (m *Monitor) Pending() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Err returns the termination error, or nil while the session is live.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errLocked()
}

// Done returns a channel closed when the current session terminates.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// SessionID returns the id of the current session.
func (m *Monitor) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Entries returns a snapshot of the event log.
func (m *Monitor) Entries() []eventlog.Entry {
	return m.log.Snapshot()
}
