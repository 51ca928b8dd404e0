// Package notify delivers permission requests and lifecycle events to
// people: structured logs, webhooks, or several of them at once.
package notify

import (
	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
)

// Logger is a monitor.Notifier that writes permission requests to a logger.
type Logger struct {
	Log logging.Logger
}

func (l Logger) PermissionRequired(condition string) {
	l.Log.Warn("Permission required", logging.String("condition", condition))
}

// Multi fans a permission request out to every notifier in order.
type Multi []monitor.Notifier

func (m Multi) PermissionRequired(condition string) {
	for _, n := range m {
		if n != nil {
			n.PermissionRequired(condition)
		}
	}
}
