package approval

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault coalesces the burst of events an atomic rename produces.
const debounceDefault = 50 * time.Millisecond

// pollDefault is the polling interval when fsnotify is unavailable.
const pollDefault = time.Second

// Watcher reports request files that were created or rewritten.
type Watcher interface {
	Run(ctx context.Context) error
}

// DirWatcher watches a directory for request file changes using fsnotify.
type DirWatcher struct {
	dir      string
	handler  func(path string)
	debounce time.Duration
}

// NewDirWatcher creates an fsnotify-backed watcher.
func NewDirWatcher(dir string, handler func(path string)) *DirWatcher {
	return &DirWatcher{dir: dir, handler: handler, debounce: debounceDefault}
}

// Run delivers changed request files to the handler until ctx is done.
// Events are batched: the handler runs once per file after the directory has
// been quiet for the debounce interval.
func (w *DirWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.dir); err != nil {
		return err
	}

	changed := map[string]struct{}{}
	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-quiet.C:
			for p := range changed {
				delete(changed, p)
				w.handler(p)
			}
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !isRequestFile(ev.Name) {
				continue
			}
			changed[ev.Name] = struct{}{}
			quiet.Reset(w.debounce)
		case _, ok := <-fw.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// PollWatcher watches a directory by polling modification times. Used when
// fsnotify is unavailable (e.g., NFS).
type PollWatcher struct {
	dir      string
	handler  func(path string)
	interval time.Duration
	seen     map[string]time.Time
}

// NewPollWatcher creates a polling-based watcher.
func NewPollWatcher(dir string, handler func(path string), interval time.Duration) *PollWatcher {
	if interval == 0 {
		interval = pollDefault
	}
	return &PollWatcher{
		dir:      dir,
		handler:  handler,
		interval: interval,
		seen:     make(map[string]time.Time),
	}
}

// Run polls the directory. Blocks until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan reports request files whose modification time changed.
func (w *PollWatcher) scan() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !isRequestFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if prev, ok := w.seen[path]; ok && prev.Equal(info.ModTime()) {
			continue
		}
		w.seen[path] = info.ModTime()
		w.handler(path)
	}
}
