package eventlog

import (
	"errors"
	"sync"
	"testing"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (s *recordingSink) WriteEntry(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.err
}

func TestAppendAssignsIndexAndTimestamp(t *testing.T) {
	l := New()
	first := l.Append(RoleAssistant, "hello")
	second := l.Append(RoleUser, "world")

	if first.Index != 0 || second.Index != 1 {
		t.Fatalf("expected indices 0,1 got %d,%d", first.Index, second.Index)
	}
	if first.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if second.Timestamp.Before(first.Timestamp) {
		t.Error("timestamps must not go backwards")
	}
	if l.Len() != 2 {
		t.Fatalf("expected len 2, got %d", l.Len())
	}
}

func TestSnapshotIsStableAcrossAppends(t *testing.T) {
	l := New()
	l.Append(RoleAssistant, "a")
	l.Append(RoleAssistant, "b")

	snap := l.Snapshot()
	l.Append(RoleAssistant, "c")

	if len(snap) != 2 {
		t.Fatalf("snapshot grew to %d entries", len(snap))
	}
	grown := append(snap, Entry{Content: "x"})
	if l.Snapshot()[2].Content != "c" {
		t.Fatalf("appending to a snapshot overwrote the log: %v", grown)
	}
}

func TestLastN(t *testing.T) {
	l := New()
	for _, c := range []string{"a", "b", "c", "d"} {
		l.Append(RoleUser, c)
	}

	tests := []struct {
		n    int
		want []string
	}{
		{0, nil},
		{2, []string{"c", "d"}},
		{4, []string{"a", "b", "c", "d"}},
		{10, []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		got := l.LastN(tt.n)
		if len(got) != len(tt.want) {
			t.Fatalf("LastN(%d): expected %d entries, got %d", tt.n, len(tt.want), len(got))
		}
		for i := range got {
			if got[i].Content != tt.want[i] {
				t.Errorf("LastN(%d)[%d] = %v, want %s", tt.n, i, got[i].Content, tt.want[i])
			}
		}
	}
}

func TestCountWhere(t *testing.T) {
	l := New()
	l.Append(RoleAssistant, "a")
	l.Append(RoleUser, "b")
	l.Append(RoleAssistant, "c")

	if n := l.CountWhere(Entry.IsAction); n != 2 {
		t.Fatalf("expected 2 actions, got %d", n)
	}
}

func TestSinksReceiveEntries(t *testing.T) {
	sink := &recordingSink{}
	l := New(sink)
	l.Append(RoleAssistant, "a")
	l.Append(RoleUser, "b")

	if len(sink.entries) != 2 {
		t.Fatalf("expected sink to see 2 entries, got %d", len(sink.entries))
	}
	if sink.entries[1].Index != 1 {
		t.Errorf("expected index 1, got %d", sink.entries[1].Index)
	}
}

func TestSinkErrorDoesNotFailAppend(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	l := New(sink)

	var reported []error
	l.OnSinkError(func(err error) { reported = append(reported, err) })

	l.Append(RoleAssistant, "a")
	if l.Len() != 1 {
		t.Fatal("append must succeed even when a sink fails")
	}
	if len(reported) != 1 {
		t.Fatalf("expected 1 reported error, got %d", len(reported))
	}
}

func TestConcurrentAppendAndSnapshot(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			l.Append(RoleAssistant, i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			snap := l.Snapshot()
			for j, e := range snap {
				if e.Index != j {
					t.Errorf("entry %d has index %d", j, e.Index)
					return
				}
			}
		}
	}()
	wg.Wait()

	if l.Len() != 500 {
		t.Fatalf("expected 500 entries, got %d", l.Len())
	}
}
