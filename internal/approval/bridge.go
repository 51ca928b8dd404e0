package approval

import (
	"context"
	"errors"
	"sync"

	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
)

// Granter is the monitor surface the bridge drives.
type Granter interface {
	GrantPermission(granted bool) error
	SessionID() string
}

// Bridge connects a monitor to a Store. As a notifier it writes a pending
// request when the session pauses; its watcher feeds the operator's
// decision back into GrantPermission. As an observer it closes out a
// request that was resolved some other way.
type Bridge struct {
	store  *Store
	target Granter
	logger logging.Logger

	mu      sync.Mutex
	current string // id of the request the session is paused on
}

// NewBridge creates a Bridge for one monitor.
func NewBridge(store *Store, target Granter, logger logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Bridge{store: store, target: target, logger: logger}
}

// SetTarget attaches the monitor when it is built after the bridge. Call it
// before the session starts.
func (b *Bridge) SetTarget(target Granter) {
	b.target = target
}

// PermissionRequired implements monitor.Notifier.
func (b *Bridge) PermissionRequired(condition string) {
	r, err := b.store.Create(b.target.SessionID(), condition)
	if err != nil {
		b.logger.Error("failed to write permission request", logging.String("condition", condition), logging.Err(err))
		return
	}

	b.mu.Lock()
	b.current = r.ID
	b.mu.Unlock()

	b.logger.Info("permission request written",
		logging.String("id", r.ID),
		logging.String("condition", condition),
		logging.String("dir", b.store.Dir()))
}

// Current returns the id of the request the session is waiting on, or "".
func (b *Bridge) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Transition implements monitor.Observer. A pause resolved through another
// channel leaves its request file pending; this records the outcome.
func (b *Bridge) Transition(t monitor.Transition) {
	if t.Event != monitor.EventResumed && t.Event != monitor.EventTerminated {
		return
	}

	b.mu.Lock()
	id := b.current
	b.current = ""
	b.mu.Unlock()
	if id == "" {
		return
	}

	var err error
	if t.Event == monitor.EventResumed {
		err = b.store.Grant(id, "monitor")
	} else {
		err = b.store.Deny(id, "monitor")
	}
	if err != nil && !errors.Is(err, ErrResolved) {
		b.logger.Warn("failed to close permission request", logging.String("id", id), logging.Err(err))
	}
}

// Handle checks one request file and applies its decision if it belongs to
// the pending request.
func (b *Bridge) Handle(path string) {
	id := idFromPath(path)

	b.mu.Lock()
	if id != b.current {
		b.mu.Unlock()
		return
	}
	r, err := b.store.Get(id)
	if err != nil || r.Status == StatusPending {
		b.mu.Unlock()
		return
	}
	b.current = ""
	b.mu.Unlock()

	granted := r.Status == StatusGranted
	if err := b.target.GrantPermission(granted); err != nil && !errors.Is(err, monitor.ErrNotPaused) {
		b.logger.Warn("failed to apply decision", logging.String("id", id), logging.Err(err))
		return
	}
	b.logger.Info("permission decision applied", logging.String("id", id), logging.Bool("granted", granted))
}

// Watch applies decisions until ctx is cancelled. It uses fsnotify and
// falls back to polling when the directory cannot be watched.
func (b *Bridge) Watch(ctx context.Context) error {
	err := NewDirWatcher(b.store.Dir(), b.Handle).Run(ctx)
	if err == nil {
		return nil
	}
	b.logger.Warn("fsnotify unavailable, polling for decisions", logging.Err(err))
	return NewPollWatcher(b.store.Dir(), b.Handle, 0).Run(ctx)
}
