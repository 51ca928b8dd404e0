package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ppiankov/monmon/internal/monitor"
	"github.com/ppiankov/monmon/internal/rules"
)

type fixture struct {
	srv  *Server
	mon  *monitor.Monitor
	http *httptest.Server
}

func newFixture(t *testing.T, ruleSet rules.RuleSet) *fixture {
	t.Helper()
	srv := New(nil)
	mon := monitor.New(monitor.Config{PollInterval: 5 * time.Millisecond}, ruleSet,
		monitor.WithSessionID("s-dash"),
		monitor.WithNotifier(srv),
		monitor.WithObserver(srv),
		monitor.WithSink(srv))
	srv.SetTarget(mon)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		mon.Stop()
		hs.Close()
		srv.Close()
	})
	return &fixture{srv: srv, mon: mon, http: hs}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		if m.Type == typ {
			return m
		}
	}
}

func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, s.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHelloCarriesState(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})
	conn := f.dial(t)

	m := readUntil(t, conn, TypeHello)
	if m.SessionID != "s-dash" || m.State != "running" {
		t.Fatalf("unexpected hello %+v", m)
	}
}

func TestEntriesAreBroadcast(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})
	conn := f.dial(t)
	readUntil(t, conn, TypeHello)
	waitClients(t, f.srv, 1)

	if err := f.mon.Log(context.Background(), "assistant", "click buy"); err != nil {
		t.Fatal(err)
	}

	m := readUntil(t, conn, TypeEntry)
	if m.Entry == nil || m.Entry.Content != "click buy" || m.Entry.Role != "assistant" {
		t.Fatalf("unexpected entry frame %+v", m)
	}
}

func TestDecisionGrantsPermission(t *testing.T) {
	f := newFixture(t, rules.RuleSet{AskPermissionIf: []string{"CAPTCHA"}})
	conn := f.dial(t)
	readUntil(t, conn, TypeHello)
	waitClients(t, f.srv, 1)

	if err := f.mon.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.mon.Log(context.Background(), "assistant", "solve CAPTCHA")

	m := readUntil(t, conn, TypePermissionRequired)
	if m.Condition != "CAPTCHA" {
		t.Fatalf("unexpected condition %q", m.Condition)
	}

	if err := conn.WriteJSON(Decision{Type: TypeDecision, Granted: true}); err != nil {
		t.Fatal(err)
	}
	for {
		m = readUntil(t, conn, TypeTransition)
		if m.Event == string(monitor.EventResumed) {
			break
		}
	}
	if f.mon.State() != monitor.StateRunning {
		t.Fatalf("expected running, got %s", f.mon.State())
	}
}

func TestDecisionDenyTerminates(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})
	conn := f.dial(t)
	readUntil(t, conn, TypeHello)
	waitClients(t, f.srv, 1)

	f.mon.RequestPermission("purchase")
	readUntil(t, conn, TypePermissionRequired)

	conn.WriteJSON(Decision{Type: TypeDecision, Granted: false})
	for {
		m := readUntil(t, conn, TypeTransition)
		if m.Event == string(monitor.EventTerminated) {
			if m.Condition != "purchase" || m.Details != monitor.DetailsDenied {
				t.Fatalf("unexpected termination %+v", m)
			}
			break
		}
	}
}

func TestDecisionWhenNotPausedReportsError(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})
	conn := f.dial(t)
	readUntil(t, conn, TypeHello)

	conn.WriteJSON(Decision{Type: TypeDecision, Granted: true})
	m := readUntil(t, conn, TypeError)
	if !strings.Contains(m.Error, "no permission request pending") {
		t.Fatalf("unexpected error frame %+v", m)
	}
}

func TestUnknownFrameReportsError(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})
	conn := f.dial(t)
	readUntil(t, conn, TypeHello)

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reboot"}`))
	m := readUntil(t, conn, TypeError)
	if m.Error != "unsupported message" {
		t.Fatalf("unexpected error %q", m.Error)
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})
	f.mon.RequestPermission("CAPTCHA")

	resp, err := http.Get(f.http.URL + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var m Message
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatal(err)
	}
	if m.State != "paused" || m.Condition != "CAPTCHA" {
		t.Fatalf("unexpected status %+v", m)
	}
}

func TestIndexServesPage(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})

	resp, err := http.Get(f.http.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	resp, err = http.Get(f.http.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCrossOriginRejected(t *testing.T) {
	f := newFixture(t, rules.RuleSet{})
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Fatal("expected cross-origin handshake to fail")
	}
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	s := New(nil)
	defer s.Close()
	for i := 0; i < queueSize*2; i++ {
		s.PermissionRequired("x")
	}
}
