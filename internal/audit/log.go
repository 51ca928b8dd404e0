package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/monmon/internal/monitor"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// maxLine bounds a single JSONL line when scanning a log.
const maxLine = 1024 * 1024

// Log appends session transitions to a JSONL file. Every line carries the
// hash of the line before it, so an edited or removed line breaks the chain.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	tail string
}

// Open appends to the log at path, creating it and its directory as needed.
// An existing log is continued from its last line.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	tail, err := tailHash(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &Log{path: path, f: f, tail: tail}, nil
}

// tailHash returns the hash of the last non-empty line at path, or
// GenesisHash when the file is missing or empty.
func tailHash(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("audit: read existing log: %w", err)
	}
	defer func() { _ = f.Close() }()

	hash := GenesisHash
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			hash = HashLine(sc.Bytes())
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("audit: scan existing log: %w", err)
	}
	return hash, nil
}

// Record chains e onto the log and syncs it to disk. A zero Timestamp is
// filled with the current time.
func (l *Log) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	e.PrevHash = l.tail

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	if _, err := l.f.Write(buf); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.tail = HashLine(line)
	return nil
}

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// HashLine returns "sha256:<hex>" of line.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Recorder is a monitor.Observer that writes every transition to a Log,
// stamped with the hash of the rule file in force.
type Recorder struct {
	Log       *Log
	RulesHash string

	// OnError receives write failures. Nil discards them.
	OnError func(error)
}

// Transition implements monitor.Observer.
func (r *Recorder) Transition(t monitor.Transition) {
	err := r.Log.Record(Entry{
		Timestamp: t.Time.UTC().Format(TimestampFormat),
		SessionID: t.SessionID,
		Event:     string(t.Event),
		State:     t.To.String(),
		Condition: t.Condition,
		Details:   t.Details,
		RulesHash: r.RulesHash,
	})
	if err != nil && r.OnError != nil {
		r.OnError(err)
	}
}
