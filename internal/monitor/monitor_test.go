package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/monmon/internal/evaluate"
	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/rules"
)

// recorder captures notifications and transitions.
type recorder struct {
	mu          sync.Mutex
	conditions  []string
	transitions []Transition
}

func (r *recorder) PermissionRequired(condition string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions = append(r.conditions, condition)
}

func (r *recorder) Transition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) notified() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.conditions...)
}

func (r *recorder) events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, t := range r.transitions {
		out = append(out, t.Event)
	}
	return out
}

func newTestMonitor(t *testing.T, rs rules.RuleSet, opts ...Option) (*Monitor, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithNotifier(rec), WithObserver(rec)}, opts...)
	m := New(Config{PollInterval: 5 * time.Millisecond}, rs, opts...)
	return m, rec
}

func start(t *testing.T, m *Monitor) {
	t.Helper()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { m.Stop() })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, m *Monitor, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return m.State() == want })
}

// logAsync runs Log on a goroutine and returns its result channel.
func logAsync(m *Monitor, ctx context.Context, role string, content any) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- m.Log(ctx, role, content) }()
	return ch
}

func TestEmptyRulesNeverFire(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{})
	start(t, m)

	for i := 0; i < 50; i++ {
		role := eventlog.RoleAssistant
		if i%2 == 1 {
			role = eventlog.RoleUser
		}
		if err := m.Log(context.Background(), role, fmt.Sprintf("entry %d rm -rf facebook.com", i)); err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
	}
	time.Sleep(30 * time.Millisecond)

	if m.State() != StateRunning {
		t.Fatalf("expected running, got %s", m.State())
	}
	if len(rec.notified()) != 0 {
		t.Fatalf("expected no notifications, got %v", rec.notified())
	}
	if len(m.Entries()) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(m.Entries()))
	}
}

func TestLiteralTermination(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{TerminateIf: []string{"facebook.com"}})
	start(t, m)

	ctx := context.Background()
	m.Log(ctx, eventlog.RoleAssistant, "hello")
	m.Log(ctx, eventlog.RoleAssistant, "let me check facebook.com")

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}

	var te *TerminationError
	if !errors.As(m.Err(), &te) {
		t.Fatalf("expected TerminationError, got %v", m.Err())
	}
	if te.Condition != "facebook.com" {
		t.Errorf("expected condition facebook.com, got %q", te.Condition)
	}
	if te.Details != "Detected in log: let me check facebook.com" {
		t.Errorf("unexpected details %q", te.Details)
	}

	err := m.Log(ctx, eventlog.RoleAssistant, "more")
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("log after termination should fail, got %v", err)
	}
}

func TestCountRuleTerminatesOnFourthAction(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{TerminateIf: []string{"the number of actions is > 3"}})
	start(t, m)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m.Log(ctx, eventlog.RoleAssistant, fmt.Sprintf("action %d", i))
		m.Log(ctx, eventlog.RoleUser, "ok")
	}
	time.Sleep(30 * time.Millisecond)
	if m.State() != StateRunning {
		t.Fatalf("fired after three actions")
	}

	m.Log(ctx, eventlog.RoleAssistant, "action 3")
	waitState(t, m, StateTerminated)
}

func TestLoopTermination(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{TerminateIf: []string{rules.LoopSentinel}})
	start(t, m)

	for _, c := range []string{"A", "B", "C", "A", "B", "C"} {
		m.Log(context.Background(), eventlog.RoleAssistant, c)
	}
	waitState(t, m, StateTerminated)

	var te *TerminationError
	errors.As(m.Err(), &te)
	if te == nil || te.Condition != rules.LoopSentinel || te.Details != "" {
		t.Fatalf("unexpected termination %+v", te)
	}
}

func TestPermissionGranted(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{AskPermissionIf: []string{"rm -rf"}})
	start(t, m)

	ctx := context.Background()
	if err := m.Log(ctx, eventlog.RoleAssistant, "I'll run rm -rf /"); err != nil {
		t.Fatalf("log: %v", err)
	}
	waitState(t, m, StatePaused)
	if m.Pending() != "rm -rf" {
		t.Fatalf("expected pending rm -rf, got %q", m.Pending())
	}

	blocked := logAsync(m, ctx, eventlog.RoleUser, "waiting")
	select {
	case err := <-blocked:
		t.Fatalf("log returned while paused: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	if err := m.GrantPermission(true); err != nil {
		t.Fatalf("grant: %v", err)
	}
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("expected nil after grant, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller not released by grant")
	}

	if m.State() != StateRunning {
		t.Fatalf("expected running, got %s", m.State())
	}
	if got := rec.notified(); len(got) != 1 || got[0] != "rm -rf" {
		t.Fatalf("expected one notification for rm -rf, got %v", got)
	}
}

func TestPermissionDenied(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{AskPermissionIf: []string{"rm -rf"}})
	start(t, m)

	ctx := context.Background()
	m.Log(ctx, eventlog.RoleAssistant, "I'll run rm -rf /")
	waitState(t, m, StatePaused)

	blocked := logAsync(m, ctx, eventlog.RoleUser, "waiting")
	time.Sleep(10 * time.Millisecond)
	if err := m.GrantPermission(false); err != nil {
		t.Fatalf("deny: %v", err)
	}

	select {
	case err := <-blocked:
		var te *TerminationError
		if !errors.As(err, &te) {
			t.Fatalf("expected TerminationError, got %v", err)
		}
		if te.Condition != "rm -rf" || te.Details != DetailsDenied {
			t.Fatalf("unexpected termination %+v", te)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller not released by denial")
	}
	if m.State() != StateTerminated {
		t.Fatalf("expected terminated, got %s", m.State())
	}
}

func TestResolvedEntryNotRequestedAgain(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{AskPermissionIf: []string{"send an email"}})
	start(t, m)

	m.Log(context.Background(), eventlog.RoleAssistant, "send an email to bob")
	waitState(t, m, StatePaused)
	m.GrantPermission(true)

	time.Sleep(30 * time.Millisecond)
	if m.State() != StateRunning {
		t.Fatalf("same entry paused the session again")
	}
	if n := len(rec.notified()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}

	m.Log(context.Background(), eventlog.RoleAssistant, "send an email to alice")
	waitState(t, m, StatePaused)
}

func TestPermissionOnlyNewestEntry(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{AskPermissionIf: []string{"rm -rf"}})
	m.Log(context.Background(), eventlog.RoleAssistant, "rm -rf /")
	m.Log(context.Background(), eventlog.RoleUser, "done")
	start(t, m)

	time.Sleep(30 * time.Millisecond)
	if m.State() != StateRunning {
		t.Fatal("older entry should not trigger permission")
	}
}

func TestTerminationWhilePausedReleasesCaller(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{})
	m.RequestPermission("CAPTCHA")

	blocked := logAsync(m, context.Background(), eventlog.RoleUser, "waiting")
	time.Sleep(10 * time.Millisecond)
	m.Terminate("operator abort", "")

	select {
	case err := <-blocked:
		if !errors.Is(err, ErrTerminated) {
			t.Fatalf("expected termination error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminate did not release the blocked caller")
	}
}

func TestPermissionTimeoutDenies(t *testing.T) {
	m := New(Config{PollInterval: 5 * time.Millisecond, PermissionTimeout: 20 * time.Millisecond},
		rules.RuleSet{}, WithNotifier(NotifierFunc(func(string) {})))
	m.RequestPermission("CAPTCHA")

	err := m.Log(context.Background(), eventlog.RoleUser, "waiting")
	var te *TerminationError
	if !errors.As(err, &te) {
		t.Fatalf("expected TerminationError, got %v", err)
	}
	if te.Condition != "CAPTCHA" || te.Details != DetailsTimedOut {
		t.Fatalf("unexpected termination %+v", te)
	}
}

func TestContextCancelLeavesPaused(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{})
	m.RequestPermission("CAPTCHA")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Log(ctx, eventlog.RoleUser, "waiting"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if m.State() != StatePaused {
		t.Fatalf("expected paused, got %s", m.State())
	}
}

func TestRequestPermissionIdempotent(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{})
	m.RequestPermission("first")
	m.RequestPermission("second")

	if m.Pending() != "first" {
		t.Fatalf("expected first request to stay pending, got %q", m.Pending())
	}
	if n := len(rec.notified()); n != 1 {
		t.Fatalf("expected one notification, got %d", n)
	}
}

func TestGrantWithoutPending(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{})
	if err := m.GrantPermission(true); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("expected ErrNotPaused, got %v", err)
	}
}

func TestTerminateFirstWins(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{})
	err1 := m.Terminate("first", "a")
	err2 := m.Terminate("second", "b")

	if err1.Error() != "termination condition met: first - a" {
		t.Fatalf("unexpected error text %q", err1.Error())
	}
	if err2 != err1 {
		t.Fatalf("expected first termination to win, got %v", err2)
	}
	if got := rec.events(); len(got) != 1 || got[0] != EventTerminated {
		t.Fatalf("expected one terminated event, got %v", got)
	}
}

func TestTerminationErrorFormat(t *testing.T) {
	err := &TerminationError{Condition: "facebook.com"}
	if err.Error() != "termination condition met: facebook.com" {
		t.Fatalf("unexpected %q", err.Error())
	}
	wrapped := fmt.Errorf("agent: %w", err)
	if !errors.Is(wrapped, ErrTerminated) {
		t.Fatal("wrapped termination error should match ErrTerminated")
	}
}

func TestStartTwice(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{})
	start(t, m)
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{})
	if err := m.Stop(); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	start(t, m)
	m.Stop()
	m.Stop()

	got := rec.events()
	if len(got) != 2 || got[0] != EventStarted || got[1] != EventStopped {
		t.Fatalf("expected started, stopped; got %v", got)
	}
}

func TestRestartClearsTermination(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{})
	start(t, m)
	first := m.SessionID()
	m.Terminate("x", "")
	m.Stop()

	start(t, m)
	if m.State() != StateRunning || m.Err() != nil {
		t.Fatalf("expected a fresh running session, got %s %v", m.State(), m.Err())
	}
	if m.SessionID() == first {
		t.Fatal("restart should begin a new session id")
	}
	select {
	case <-m.Done():
		t.Fatal("done channel of the new session should be open")
	default:
	}
}

func TestSessionStopsOnError(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{})
	boom := errors.New("boom")

	err := m.Session(context.Background(), func(*Monitor) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	got := rec.events()
	if len(got) != 2 || got[1] != EventStopped {
		t.Fatalf("expected session to stop, got %v", got)
	}
}

func TestSessionReturnsTermination(t *testing.T) {
	m, _ := newTestMonitor(t, rules.RuleSet{TerminateIf: []string{"facebook.com"}})

	err := m.Session(context.Background(), func(m *Monitor) error {
		for i := 0; i < 100; i++ {
			if err := m.Log(context.Background(), eventlog.RoleAssistant, "browsing facebook.com"); err != nil {
				return err
			}
			time.Sleep(2 * time.Millisecond)
		}
		return nil
	})
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("expected termination to unwind the session, got %v", err)
	}
}

func TestTransitionsInOrder(t *testing.T) {
	m, rec := newTestMonitor(t, rules.RuleSet{AskPermissionIf: []string{"CAPTCHA"}})
	start(t, m)

	m.Log(context.Background(), eventlog.RoleUser, "please solve this CAPTCHA")
	waitFor(t, "paused event", func() bool { return len(rec.events()) == 2 })
	m.GrantPermission(true)
	m.Terminate("done", "")
	m.Stop()

	want := []Event{EventStarted, EventPaused, EventResumed, EventTerminated, EventStopped}
	got := rec.events()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDefaultNotifierWritesCondition(t *testing.T) {
	var buf bytes.Buffer
	m := New(Config{}, rules.RuleSet{}, WithNotifier(WriterNotifier{W: &buf}))
	m.RequestPermission("send an email")

	if buf.String() != "Permission required: send an email\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

// countingEvaluator reports how often it was consulted.
type countingEvaluator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingEvaluator) FindTerminationMatch([]eventlog.Entry, []string) (evaluate.Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return evaluate.Match{}, false
}

func (c *countingEvaluator) FindPermissionMatch([]eventlog.Entry, []string) (string, bool) {
	return "", false
}

func (c *countingEvaluator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRunPollsUntilCancelled(t *testing.T) {
	eval := &countingEvaluator{}
	m := New(Config{PollInterval: 5 * time.Millisecond}, rules.RuleSet{}, WithEvaluator(eval))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if eval.count() < 2 {
		t.Fatalf("expected several polls, got %d", eval.count())
	}
}

// blockingEvaluator holds the poll loop inside evaluation until released.
type blockingEvaluator struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEvaluator) FindTerminationMatch([]eventlog.Entry, []string) (evaluate.Match, bool) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return evaluate.Match{}, false
}

func (b *blockingEvaluator) FindPermissionMatch([]eventlog.Entry, []string) (string, bool) {
	return "", false
}

func TestStopGivesUpAfterGrace(t *testing.T) {
	eval := &blockingEvaluator{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(eval.release)

	var mu sync.Mutex
	var events []Event
	m := New(Config{PollInterval: 5 * time.Millisecond, StopGrace: 30 * time.Millisecond}, rules.RuleSet{},
		WithEvaluator(eval),
		WithObserver(ObserverFunc(func(tr Transition) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, tr.Event)
		})))
	if err := m.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-eval.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never evaluated")
	}

	began := time.Now()
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(began)
	if elapsed < 30*time.Millisecond || elapsed > time.Second {
		t.Fatalf("stop returned after %v, want about the 30ms grace", elapsed)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[1] != EventStopped {
		t.Fatalf("expected started, stopped; got %v", events)
	}
}

type failingSink struct{}

func (failingSink) WriteEntry(eventlog.Entry) error { return errors.New("disk full") }

func TestSinkFailureDoesNotFailLog(t *testing.T) {
	m := New(Config{}, rules.RuleSet{}, WithSink(failingSink{}))
	if err := m.Log(context.Background(), eventlog.RoleUser, "x"); err != nil {
		t.Fatalf("sink failure leaked into Log: %v", err)
	}
}
