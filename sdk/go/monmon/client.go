package monmon

import (
	"context"
	"fmt"

	"github.com/ppiankov/monmon/internal/config"
	"github.com/ppiankov/monmon/internal/content"
	"github.com/ppiankov/monmon/internal/evaluate"
	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
	"github.com/ppiankov/monmon/internal/rules"
)

// Client owns one monitored session. Thread-safe for concurrent tool calls.
type Client struct {
	cfg clientConfig
	mon *monitor.Monitor
}

// New creates a Client and starts its session. A config file that cannot be
// loaded, or carries invalid settings, is reported as a warning and the
// session runs with the rules given through WithRules alone.
func New(opts ...Option) (*Client, error) {
	var cfg clientConfig
	for _, o := range opts {
		o(&cfg)
	}
	logger := cfg.warnLogger()

	file := config.Default()
	if cfg.configPath != "" {
		loaded, _, err := config.LoadOrEmpty(cfg.configPath)
		if err != nil {
			logger.Warn("config unusable, monitoring with caller rules only",
				logging.String("path", cfg.configPath), logging.Err(err))
		}
		file = loaded
	}

	durations, err := file.Monitor.Parse()
	if err != nil {
		logger.Warn("monitor settings ignored", logging.Err(err))
	}
	if cfg.pollInterval > 0 {
		durations.PollInterval = cfg.pollInterval
	}
	if cfg.permissionTimeout > 0 {
		durations.PermissionTimeout = cfg.permissionTimeout
	}
	mode, err := content.ParseMode(file.Monitor.Content)
	if err != nil {
		logger.Warn("content mode ignored, using raw", logging.Err(err))
		mode = content.ModeRaw
	}

	ruleSet := rules.RuleSet{
		TerminateIf:     append(append([]string(nil), file.TerminateIf...), cfg.terminateIf...),
		AskPermissionIf: append(append([]string(nil), file.AskPermissionIf...), cfg.askPermissionIf...),
	}

	var notifier monitor.Notifier = monitor.WriterNotifier{W: cfg.diag}
	if cfg.onPermission != nil {
		notifier = monitor.NotifierFunc(cfg.onPermission)
	}

	mon := monitor.New(monitor.Config{
		PollInterval:      durations.PollInterval,
		PermissionTimeout: durations.PermissionTimeout,
		StopGrace:         durations.StopGrace,
	}, ruleSet,
		monitor.WithEvaluator(&evaluate.Local{Window: file.Monitor.Window, Stringify: content.Stringifier(mode)}),
		monitor.WithNotifier(notifier),
		monitor.WithLogger(logger),
	)
	if err := mon.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("monmon: %w", err)
	}
	return &Client{cfg: cfg, mon: mon}, nil
}

// Close stops the session's rule evaluation. The transcript stays readable.
func (c *Client) Close() error {
	return c.mon.Stop()
}

// Log records an entry. It blocks while the session is paused and returns a
// *TerminationError once the session has ended.
func (c *Client) Log(ctx context.Context, role string, content any) error {
	return c.mon.Log(ctx, role, content)
}

// Grant resolves the pending permission request.
func (c *Client) Grant(granted bool) error {
	return c.mon.GrantPermission(granted)
}

// Terminate ends the session from outside the rules.
func (c *Client) Terminate(reason string) error {
	return c.mon.Terminate(reason, "terminated by caller")
}

// Done is closed when the session terminates.
func (c *Client) Done() <-chan struct{} {
	return c.mon.Done()
}

// Status returns a snapshot of the session.
func (c *Client) Status() Status {
	return Status{
		SessionID: c.mon.SessionID(),
		State:     State(c.mon.State().String()),
		Pending:   c.mon.Pending(),
		Entries:   len(c.mon.Entries()),
		Err:       c.mon.Err(),
	}
}

// Transcript returns the logged entries as role/text pairs.
func (c *Client) Transcript() []Entry {
	snapshot := c.mon.Entries()
	out := make([]Entry, len(snapshot))
	for i, e := range snapshot {
		out[i] = Entry{Role: e.Role, Text: eventlog.Stringify(e.Content)}
	}
	return out
}

// Entry is one transcript line.
type Entry struct {
	Role string
	Text string
}
