package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
)

func init() {
	retryDelay = time.Millisecond
}

func countingServer(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var called atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &called
}

func TestDispatchMatchesEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]WebhookConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventTerminated}},
	}, "", nil)

	d.Dispatch(Event{Type: EventTerminated, Condition: "facebook.com"})
	d.Wait()

	if called.Load() != 1 {
		t.Errorf("expected 1 call, got %d", called.Load())
	}
}

func TestDispatchSkipsNonMatching(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]WebhookConfig{
		{URL: srv.URL, Format: "generic", Events: []string{EventTerminated}},
	}, "", nil)

	d.Dispatch(Event{Type: EventResumed})
	d.Wait()

	if called.Load() != 0 {
		t.Errorf("expected 0 calls for non-matching event, got %d", called.Load())
	}
}

func TestDispatchDefaultEvents(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)
	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}}, "", nil)

	d.Dispatch(Event{Type: EventStarted})
	d.Dispatch(Event{Type: EventPermissionRequired})
	d.Dispatch(Event{Type: EventTerminated})
	d.Wait()

	if called.Load() != 2 {
		t.Errorf("expected permission_required and terminated only, got %d calls", called.Load())
	}
}

func TestDispatchMultipleWebhooks(t *testing.T) {
	srv1, called1 := countingServer(t, http.StatusOK)
	srv2, called2 := countingServer(t, http.StatusOK)

	d := NewDispatcher([]WebhookConfig{
		{URL: srv1.URL, Events: []string{EventTerminated}},
		{URL: srv2.URL, Events: []string{EventTerminated, EventPermissionRequired}},
	}, "", nil)

	d.Dispatch(Event{Type: EventTerminated})
	d.Wait()

	if called1.Load()+called2.Load() != 2 {
		t.Errorf("expected 2 calls (both webhooks match), got %d", called1.Load()+called2.Load())
	}
}

func TestTransitionPausedBecomesPermissionRequired(t *testing.T) {
	var mu sync.Mutex
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}}, "sha256:abc", nil)
	d.Transition(monitor.Transition{
		SessionID: "s-1",
		Event:     monitor.EventPaused,
		Condition: "rm -rf",
		Time:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if got.Type != EventPermissionRequired {
		t.Errorf("expected permission_required, got %q", got.Type)
	}
	if got.SessionID != "s-1" || got.Condition != "rm -rf" || got.RulesHash != "sha256:abc" {
		t.Errorf("unexpected payload %+v", got)
	}
	if !strings.HasPrefix(got.Timestamp, "2026-01-02T03:04:05") {
		t.Errorf("unexpected timestamp %q", got.Timestamp)
	}
}

func TestDispatchLogsFailure(t *testing.T) {
	srv, _ := countingServer(t, http.StatusForbidden)
	var buf bytes.Buffer
	d := NewDispatcher([]WebhookConfig{{URL: srv.URL}}, "", logging.NewJSON(&buf, "debug"))

	d.Dispatch(Event{Type: EventTerminated})
	d.Wait()

	if !strings.Contains(buf.String(), "webhook delivery failed") {
		t.Errorf("expected failure to be logged, got %q", buf.String())
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhook(WebhookConfig{URL: srv.URL, Format: "generic"}).Send(context.Background(), Event{Type: EventTerminated})
	if err != nil {
		t.Errorf("expected success after retries, got: %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	srv, attempts := countingServer(t, http.StatusBadRequest)

	err := NewWebhook(WebhookConfig{URL: srv.URL, Format: "generic"}).Send(context.Background(), Event{Type: EventTerminated})
	if err == nil {
		t.Error("expected error on 400, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry on 4xx), got %d", attempts.Load())
	}
}

func TestSendSetsHeaders(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Clone())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := NewWebhook(WebhookConfig{URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t"}})
	if err := hook.Send(context.Background(), Event{Type: EventPermissionRequired, SessionID: "s-1"}); err != nil {
		t.Fatal(err)
	}
	h := got.Load().(http.Header)
	if h.Get("Authorization") != "Bearer t" {
		t.Errorf("expected Authorization header, got %q", h.Get("Authorization"))
	}
	if h.Get("X-Monmon-Event") != EventPermissionRequired || h.Get("X-Monmon-Session") != "s-1" {
		t.Errorf("expected event headers, got %v", h)
	}
}

func TestWebhookSubscriptions(t *testing.T) {
	srv, called := countingServer(t, http.StatusOK)

	tests := []struct {
		events []string
		event  string
		want   bool
	}{
		{nil, EventPermissionRequired, true},
		{nil, EventTerminated, true},
		{nil, EventStarted, false},
		{[]string{EventStarted}, EventStarted, true},
		{[]string{EventStarted}, EventTerminated, false},
	}
	for _, tt := range tests {
		hook := NewWebhook(WebhookConfig{URL: srv.URL, Events: tt.events})
		if hook.Wants(tt.event) != tt.want {
			t.Errorf("events %v: Wants(%s) = %v", tt.events, tt.event, !tt.want)
		}
		err := hook.Send(context.Background(), Event{Type: tt.event})
		if tt.want && err != nil {
			t.Errorf("events %v: send %s: %v", tt.events, tt.event, err)
		}
		if !tt.want && !errors.Is(err, ErrNotSubscribed) {
			t.Errorf("events %v: expected ErrNotSubscribed for %s, got %v", tt.events, tt.event, err)
		}
	}
	if called.Load() != 3 {
		t.Errorf("expected 3 deliveries, got %d", called.Load())
	}
}

func TestFormatGenericJSON(t *testing.T) {
	event := Event{
		Timestamp: "2026-01-15T14:00:00Z",
		SessionID: "s-123",
		Type:      EventTerminated,
		Condition: "facebook.com",
		Details:   "Detected in log: facebook.com",
	}

	data, err := FormatPayload("generic", event)
	if err != nil {
		t.Fatal(err)
	}

	var parsed Event
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generic format is not valid JSON: %v", err)
	}
	if parsed != event {
		t.Errorf("expected %+v, got %+v", event, parsed)
	}
}

func TestFormatSlackBlockKit(t *testing.T) {
	data, err := FormatPayload("slack", Event{Type: EventTerminated, Condition: "x", Details: "y"})
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("slack format is not valid JSON: %v", err)
	}

	blocks, ok := parsed["blocks"].([]any)
	if !ok || len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %v", parsed["blocks"])
	}
	header, _ := blocks[0].(map[string]any)
	if header["type"] != "header" {
		t.Errorf("expected header block, got %s", header["type"])
	}
	section, _ := blocks[1].(map[string]any)
	fields, ok := section["fields"].([]any)
	if !ok || len(fields) != 3 {
		t.Errorf("expected 3 fields in section, got %v", fields)
	}
}

func TestFormatPagerDutySeverity(t *testing.T) {
	tests := map[string]string{
		EventTerminated:         "critical",
		EventPermissionRequired: "warning",
		EventStarted:            "info",
	}
	for eventType, want := range tests {
		data, err := FormatPayload("pagerduty", Event{Type: eventType})
		if err != nil {
			t.Fatal(err)
		}
		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("pagerduty format is not valid JSON: %v", err)
		}
		payload, _ := parsed["payload"].(map[string]any)
		if payload["severity"] != want {
			t.Errorf("%s: expected severity %s, got %v", eventType, want, payload["severity"])
		}
		if payload["source"] != "monmon" {
			t.Errorf("expected source monmon, got %v", payload["source"])
		}
	}
}

func TestNewDispatcherNilOnEmpty(t *testing.T) {
	if d := NewDispatcher(nil, "", nil); d != nil {
		t.Error("expected nil dispatcher for empty configs")
	}
}

type recordingNotifier struct {
	got []string
}

func (r *recordingNotifier) PermissionRequired(c string) { r.got = append(r.got, c) }

func TestMultiAndLogger(t *testing.T) {
	var buf bytes.Buffer
	rec := &recordingNotifier{}
	Multi{rec, nil, Logger{Log: logging.NewJSON(&buf, "info")}}.PermissionRequired("CAPTCHA")

	if len(rec.got) != 1 || rec.got[0] != "CAPTCHA" {
		t.Errorf("expected CAPTCHA, got %v", rec.got)
	}
	if !strings.Contains(buf.String(), `"condition":"CAPTCHA"`) {
		t.Errorf("expected logged condition, got %q", buf.String())
	}
}
