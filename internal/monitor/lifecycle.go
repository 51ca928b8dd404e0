package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/monmon/internal/logging"
)

// Start resets the session state and launches the poll loop. The event log
// is kept across sessions. Restarting a monitor begins a new session id.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	if m.started {
		m.sessionID = uuid.New().String()
	}
	m.started = true

	from := m.state
	if m.resume != nil {
		close(m.resume)
		m.resume = nil
	}
	if m.state == StateTerminated {
		m.done = make(chan struct{})
	}
	m.state = StateRunning
	m.pending = ""
	m.termErr = nil

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	m.cancel = cancel
	m.stopped = stopped
	t := m.transitionLocked(EventStarted, from, "", "")
	m.mu.Unlock()

	go func() {
		defer close(stopped)
		m.Run(runCtx)
	}()

	m.emit(t)
	return nil
}

// Stop signals the poll loop and waits up to StopGrace for it to exit.
// Stop is idempotent and does not change the lifecycle state.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	cancel, stopped := m.cancel, m.stopped
	if cancel == nil {
		m.mu.Unlock()
		return nil
	}
	m.cancel = nil
	m.stopped = nil
	t := m.transitionLocked(EventStopped, m.state, "", "")
	m.mu.Unlock()

	cancel()
	select {
	case <-stopped:
	case <-time.After(m.cfg.StopGrace):
		m.logger.Warn("poll loop did not stop within grace period",
			logging.String("session_id", t.SessionID),
			logging.Duration("grace", m.cfg.StopGrace))
	}

	m.emit(t)
	return nil
}

// Session runs fn inside a started session and always stops the monitor
// afterwards. It returns fn's error.
func (m *Monitor) Session(ctx context.Context, fn func(*Monitor) error) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	defer m.Stop()
	return fn(m)
}

// Run is the poll loop. It blocks until ctx is cancelled or the session
// terminates.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	done := m.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// check runs one evaluation pass: termination always, permission only while
// running and only for an entry not already asked about.
func (m *Monitor) check() {
	snapshot := m.log.Snapshot()
	m.logger.Debug("poll", logging.Int("entries", len(snapshot)))

	if match, ok := m.eval.FindTerminationMatch(snapshot, m.rules.TerminateIf); ok {
		m.Terminate(match.Rule, match.Details)
		return
	}
	if len(snapshot) == 0 {
		return
	}

	newest := snapshot[len(snapshot)-1].Index
	m.mu.Lock()
	skip := m.state != StateRunning || newest <= m.permIndex
	m.mu.Unlock()
	if skip {
		return
	}

	if rule, ok := m.eval.FindPermissionMatch(snapshot, m.rules.AskPermissionIf); ok {
		m.requestPermission(rule, newest)
	}
}
