package notify

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
)

// Dispatcher fans out lifecycle events to matching webhooks. It observes a
// monitor: a pause is delivered as permission_required.
type Dispatcher struct {
	hooks     []*Webhook
	rulesHash string
	logger    logging.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []WebhookConfig, rulesHash string, logger logging.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	hooks := make([]*Webhook, len(configs))
	for i, cfg := range configs {
		hooks[i] = NewWebhook(cfg)
	}
	return &Dispatcher{hooks: hooks, rulesHash: rulesHash, logger: logger}
}

// Transition implements monitor.Observer.
func (d *Dispatcher) Transition(t monitor.Transition) {
	eventType := string(t.Event)
	if t.Event == monitor.EventPaused {
		eventType = EventPermissionRequired
	}
	d.Dispatch(Event{
		Timestamp: t.Time.Format(time.RFC3339Nano),
		SessionID: t.SessionID,
		Type:      eventType,
		Condition: t.Condition,
		Details:   t.Details,
		RulesHash: d.rulesHash,
	})
}

// Dispatch sends the event to every webhook subscribed to its type.
// Sends run on their own goroutines and never block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	for _, hook := range d.hooks {
		if !hook.Wants(event.Type) {
			continue
		}
		d.wg.Add(1)
		go func(hook *Webhook) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), maxRetries*(requestTimeout+maxRetries*retryDelay))
			defer cancel()
			if err := hook.Send(ctx, event); err != nil {
				d.logger.Warn("webhook delivery failed",
					logging.String("url", hook.URL()),
					logging.String("event", event.Type),
					logging.Err(err))
			}
		}(hook)
	}
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
