package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

var (
	httpClient = &http.Client{Timeout: requestTimeout}
	retryDelay = time.Second
)

// ErrNotSubscribed is returned by Webhook.Send for an event type the
// endpoint did not ask for.
var ErrNotSubscribed = errors.New("notify: webhook not subscribed to event")

// Webhook is one configured endpoint and the event types it receives.
type Webhook struct {
	cfg    WebhookConfig
	events map[string]bool
}

// NewWebhook binds cfg. An empty Events list subscribes to permission
// requests and terminations.
func NewWebhook(cfg WebhookConfig) *Webhook {
	events := cfg.Events
	if len(events) == 0 {
		events = defaultEvents
	}
	w := &Webhook{cfg: cfg, events: make(map[string]bool, len(events))}
	for _, e := range events {
		w.events[e] = true
	}
	return w
}

// URL returns the endpoint address.
func (w *Webhook) URL() string { return w.cfg.URL }

// Wants reports whether the endpoint receives events of this type.
func (w *Webhook) Wants(eventType string) bool { return w.events[eventType] }

// Send formats the event for the endpoint and posts it. 5xx responses and
// transport errors are retried with linear back-off; 4xx is final.
func (w *Webhook) Send(ctx context.Context, event Event) error {
	if !w.Wants(event.Type) {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, event.Type)
	}
	body, err := FormatPayload(w.cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * retryDelay):
			}
		}

		status, err := w.post(ctx, event, body)
		switch {
		case err != nil:
			lastErr = err
		case status < 300:
			return nil
		case status < 500:
			return fmt.Errorf("webhook rejected %s event: HTTP %d", event.Type, status)
		default:
			lastErr = fmt.Errorf("webhook server error: HTTP %d", status)
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

func (w *Webhook) post(ctx context.Context, event Event, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Monmon-Event", event.Type)
	if event.SessionID != "" {
		req.Header.Set("X-Monmon-Session", event.SessionID)
	}
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
