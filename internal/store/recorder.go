package store

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/monitor"
)

// writeTimeout bounds each database write made on the monitor's behalf.
const writeTimeout = 5 * time.Second

// Recorder attaches a Store to a monitor. It is both the entry sink (every
// appended entry is stored under the current session) and an observer
// (session rows follow the lifecycle).
type Recorder struct {
	store     *Store
	rulesHash string

	mu        sync.Mutex
	sessionID string
}

// NewRecorder creates a Recorder. sessionID is the session entries belong
// to until the monitor reports a start.
func NewRecorder(s *Store, sessionID, rulesHash string) *Recorder {
	return &Recorder{store: s, sessionID: sessionID, rulesHash: rulesHash}
}

var (
	_ eventlog.Sink    = (*Recorder)(nil)
	_ monitor.Observer = (*Recorder)(nil)
)

// WriteEntry implements eventlog.Sink.
func (r *Recorder) WriteEntry(e eventlog.Entry) error {
	r.mu.Lock()
	id := r.sessionID
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return r.store.AppendEntry(ctx, id, e)
}

// Transition implements monitor.Observer. Write failures are dropped; the
// entry sink reports its own.
func (r *Recorder) Transition(t monitor.Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch t.Event {
	case monitor.EventStarted:
		r.mu.Lock()
		r.sessionID = t.SessionID
		r.mu.Unlock()
		_ = r.store.BeginSession(ctx, t.SessionID, r.rulesHash, t.Time)
	case monitor.EventTerminated:
		end := t.Time
		_ = r.store.UpdateSession(ctx, t.SessionID, t.To.String(), t.Condition, t.Details, &end)
	case monitor.EventStopped:
		end := t.Time
		sess, err := r.store.Session(ctx, t.SessionID)
		if err != nil {
			return
		}
		_ = r.store.UpdateSession(ctx, t.SessionID, t.To.String(), sess.Condition, sess.Details, &end)
	default:
		_ = r.store.UpdateSession(ctx, t.SessionID, t.To.String(), t.Condition, "", nil)
	}
}
