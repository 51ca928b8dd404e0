package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/ppiankov/monmon/internal/approval"
	"github.com/ppiankov/monmon/internal/audit"
	"github.com/ppiankov/monmon/internal/config"
	"github.com/ppiankov/monmon/internal/content"
	"github.com/ppiankov/monmon/internal/dashboard"
	"github.com/ppiankov/monmon/internal/evaluate"
	"github.com/ppiankov/monmon/internal/judge"
	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
	"github.com/ppiankov/monmon/internal/notify"
	"github.com/ppiankov/monmon/internal/redact"
	"github.com/ppiankov/monmon/internal/store"
)

// monitorFlags are the flags shared by every command that runs a live
// monitor. Flag values override the configuration file only when set.
type monitorFlags struct {
	configPath        string
	pollInterval      time.Duration
	permissionTimeout time.Duration
	contentMode       string
	approvalsDir      string
	dbPath            string
	auditPath         string
	dashboardAddr     string
}

func (f *monitorFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.configPath, "config", "c", config.DefaultPath, "Path to the rules file (YAML or TOML)")
	fs.DurationVar(&f.pollInterval, "poll-interval", monitor.DefaultPollInterval, "How often rules are evaluated")
	fs.DurationVar(&f.permissionTimeout, "permission-timeout", 0, "Deny a pending permission request after this long (0 waits indefinitely)")
	fs.StringVar(&f.contentMode, "content", "raw", "How HTML entries are rendered before matching (raw|text|markdown)")
	fs.StringVar(&f.approvalsDir, "approvals", "", "Write permission requests to this directory and wait for 'monmon approve/deny'")
	fs.StringVar(&f.dbPath, "db", "", "Record the transcript in this SQLite database")
	fs.StringVar(&f.auditPath, "audit", "", "Append lifecycle transitions to this hash-chained audit log")
	fs.StringVar(&f.dashboardAddr, "dashboard", "", "Serve the operator console on this address (e.g. 127.0.0.1:8089)")
}

// stack is a monitor together with the collaborators wired around it.
type stack struct {
	mon       *monitor.Monitor
	rulesHash string

	// remote is true when a decision can arrive from outside the process.
	remote bool

	background []func(ctx context.Context) error
	closers    []func() error
}

// start launches the background services. Their errors are logged.
func (s *stack) start(ctx context.Context, logger logging.Logger) {
	for _, run := range s.background {
		go func(run func(context.Context) error) {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background service failed", logging.Err(err))
			}
		}(run)
	}
}

// close releases collaborators in reverse order of creation.
func (s *stack) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildOptions carries what differs between commands.
type buildOptions struct {
	// notifiers always receive permission requests, in addition to any
	// approval bridge or dashboard.
	notifiers []monitor.Notifier

	// fallback receives permission requests only when no remote decision
	// channel is configured.
	fallback monitor.Notifier
}

// buildStack loads configuration, applies explicitly set flags, and wires
// the monitor. A configuration that fails to load degrades to no rules.
func buildStack(fs *pflag.FlagSet, f *monitorFlags, opts buildOptions, logger logging.Logger) (*stack, error) {
	cfg, hash, err := config.LoadOrEmpty(f.configPath)
	if err != nil {
		logger.Warn("config unusable, monitoring with no rules", logging.String("path", f.configPath), logging.Err(err))
	}
	for _, w := range cfg.Lint() {
		logger.Warn("rule warning", logging.String("warning", w))
	}

	durations, err := cfg.Monitor.Parse()
	if err != nil {
		logger.Warn("monitor settings ignored", logging.Err(err))
	}
	if fs.Changed("poll-interval") {
		durations.PollInterval = f.pollInterval
	}
	if fs.Changed("permission-timeout") {
		durations.PermissionTimeout = f.permissionTimeout
	}
	modeName := cfg.Monitor.Content
	if fs.Changed("content") {
		modeName = f.contentMode
	}
	mode, err := content.ParseMode(modeName)
	if err != nil {
		if fs.Changed("content") {
			return nil, err
		}
		logger.Warn("content mode ignored, using raw", logging.Err(err))
		mode = content.ModeRaw
	}
	stringify := content.Stringifier(mode)

	s := &stack{rulesHash: hash}
	sessionID := uuid.New().String()

	var eval evaluate.Evaluator = &evaluate.Local{Window: cfg.Monitor.Window, Stringify: stringify}
	if cfg.Judge != nil {
		if j, err := newJudge(*cfg.Judge, stringify, logger); err != nil {
			logger.Warn("LLM judge disabled", logging.Err(err))
		} else {
			eval = evaluate.Chain(eval, j)
		}
	}

	monOpts := []monitor.Option{
		monitor.WithEvaluator(eval),
		monitor.WithLogger(logger),
		monitor.WithSessionID(sessionID),
	}
	notifiers := notify.Multi(append([]monitor.Notifier(nil), opts.notifiers...))

	if d := notify.NewDispatcher(cfg.Alerts, hash, logger); d != nil {
		monOpts = append(monOpts, monitor.WithObserver(d))
		s.closers = append(s.closers, func() error { d.Wait(); return nil })
	}

	if f.auditPath != "" {
		l, err := audit.Open(f.auditPath)
		if err != nil {
			_ = s.close()
			return nil, err
		}
		rec := &audit.Recorder{Log: l, RulesHash: hash, OnError: func(err error) {
			logger.Warn("audit write failed", logging.Err(err))
		}}
		monOpts = append(monOpts, monitor.WithObserver(rec))
		s.closers = append(s.closers, l.Close)
	}

	if f.dbPath != "" {
		st, err := store.Open(f.dbPath)
		if err != nil {
			_ = s.close()
			return nil, err
		}
		rec := store.NewRecorder(st, sessionID, hash)
		monOpts = append(monOpts, monitor.WithSink(rec), monitor.WithObserver(rec))
		s.closers = append(s.closers, st.Close)
	}

	var bridge *approval.Bridge
	if f.approvalsDir != "" {
		as, err := approval.NewStore(f.approvalsDir)
		if err != nil {
			_ = s.close()
			return nil, err
		}
		bridge = approval.NewBridge(as, nil, logger)
		notifiers = append(notifiers, bridge)
		monOpts = append(monOpts, monitor.WithObserver(bridge))
		s.background = append(s.background, bridge.Watch)
		s.remote = true
	}

	var console *dashboard.Server
	if f.dashboardAddr != "" {
		console = dashboard.New(logger)
		notifiers = append(notifiers, console)
		monOpts = append(monOpts, monitor.WithObserver(console), monitor.WithSink(console))
		addr := f.dashboardAddr
		s.background = append(s.background, func(ctx context.Context) error {
			return console.ListenAndServe(ctx, addr)
		})
		s.closers = append(s.closers, console.Close)
		s.remote = true
	}

	if !s.remote && opts.fallback != nil {
		notifiers = append(notifiers, opts.fallback)
	}
	monOpts = append(monOpts, monitor.WithNotifier(notifiers))

	s.mon = monitor.New(monitor.Config{
		PollInterval:      durations.PollInterval,
		PermissionTimeout: durations.PermissionTimeout,
		StopGrace:         durations.StopGrace,
	}, cfg.RuleSet, monOpts...)

	if bridge != nil {
		bridge.SetTarget(s.mon)
	}
	if console != nil {
		console.SetTarget(s.mon)
	}
	return s, nil
}

func newJudge(cfg judge.Config, stringify func(any) string, logger logging.Logger) (*judge.Judge, error) {
	mode, err := redact.ResolveMode(cfg.BaseURL, cfg.Redact)
	if err != nil {
		return nil, err
	}
	if mode == redact.ModeCloud {
		stringify = redact.Stringifier(stringify)
	}
	llm, err := judge.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return judge.New(cfg, llm, judge.WithLogger(logger), judge.WithStringify(stringify))
}

// printOutcome reports how a session ended.
func printOutcome(w io.Writer, mon *monitor.Monitor) {
	var term *monitor.TerminationError
	if errors.As(mon.Err(), &term) {
		fmt.Fprintf(w, "Session %s terminated: %s\n", mon.SessionID(), term.Error())
		return
	}
	fmt.Fprintf(w, "Session %s ended in state %s\n", mon.SessionID(), mon.State())
}
