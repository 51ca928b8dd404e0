package monmon

import (
	"context"
	"fmt"

	"github.com/ppiankov/monmon/internal/eventlog"
)

// ToolFunc is the function signature that Wrap guards.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a ToolFunc that logs the action before calling fn. If the
// session is paused the call waits for a decision; if it has terminated fn
// is not called and the *TerminationError is returned.
//
// Rules are evaluated on a poll interval, so the call that trips a rule
// still runs. The next call is the one held or refused.
func (c *Client) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	var wcfg wrapConfig
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, action Action) (any, error) {
		if action.Tool == "" {
			action.Tool = wcfg.tool
		}
		if err := c.mon.Log(ctx, eventlog.RoleAssistant, action.String()); err != nil {
			return nil, err
		}

		result, err := fn(ctx, action)
		if c.cfg.logResults {
			observation := fmt.Sprint(result)
			if err != nil {
				observation = "error: " + err.Error()
			}
			if logErr := c.mon.Log(ctx, eventlog.RoleUser, observation); logErr != nil && err == nil {
				return result, logErr
			}
		}
		return result, err
	}
}
