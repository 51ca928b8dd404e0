// Package eventlog holds the append-only record of a monitoring session.
package eventlog

import (
	"sync"
	"time"
)

// Well-known roles. Any string is accepted as a role; only RoleAssistant
// has meaning to the evaluator (it counts as an action).
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Entry is one logged event. Entries are never modified after Append.
type Entry struct {
	Index     int       `json:"index"`
	Role      string    `json:"role"`
	Content   any       `json:"content"`
	Timestamp time.Time `json:"ts"`
}

// Text returns the stringified content used for rule matching.
func (e Entry) Text() string {
	return Stringify(e.Content)
}

// IsAction reports whether the entry was produced by the assistant.
func (e Entry) IsAction() bool {
	return e.Role == RoleAssistant
}

// Sink receives every entry after it has been appended.
type Sink interface {
	WriteEntry(Entry) error
}

// Log is an append-only, concurrency-safe ordered sequence of entries.
// Reads return copies of the slice header over an immutable prefix, so a
// snapshot never observes a partially appended entry.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	sinks   []Sink
	onError func(error)
	now     func() time.Time
}

// New creates an empty Log. Sinks are written in order after each append.
func New(sinks ...Sink) *Log {
	return &Log{sinks: sinks, now: time.Now}
}

// OnSinkError sets the hook that receives sink failures. Sink failures never
// fail the append itself.
func (l *Log) OnSinkError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = fn
}

// Append records a new entry and returns it with its index and timestamp.
func (l *Log) Append(role string, content any) Entry {
	l.mu.Lock()
	e := Entry{
		Index:     len(l.entries),
		Role:      role,
		Content:   content,
		Timestamp: l.now(),
	}
	l.entries = append(l.entries, e)
	sinks := l.sinks
	onError := l.onError
	l.mu.Unlock()

	for _, s := range sinks {
		if err := s.WriteEntry(e); err != nil && onError != nil {
			onError(err)
		}
	}
	return e
}

// Snapshot returns a consistent point-in-time view of the whole log.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// Full slice expression: appends after this point can never write into
	// the backing array visible to the caller.
	return l.entries[:len(l.entries):len(l.entries)]
}

// Len returns the number of entries appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// LastN returns the most recent n entries, or fewer if the log is shorter.
func (l *Log) LastN(n int) []Entry {
	return Tail(l.Snapshot(), n)
}

// CountWhere returns the number of entries matching pred.
func (l *Log) CountWhere(pred func(Entry) bool) int {
	return Count(l.Snapshot(), pred)
}

// Tail returns the last n entries of a snapshot.
func Tail(entries []Entry, n int) []Entry {
	if n <= 0 {
		return nil
	}
	if n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// Count returns the number of entries in a snapshot matching pred.
func Count(entries []Entry, pred func(Entry) bool) int {
	n := 0
	for _, e := range entries {
		if pred(e) {
			n++
		}
	}
	return n
}
