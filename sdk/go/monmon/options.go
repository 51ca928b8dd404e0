package monmon

import (
	"io"
	"time"

	"github.com/ppiankov/monmon/internal/logging"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath        string
	terminateIf       []string
	askPermissionIf   []string
	pollInterval      time.Duration
	permissionTimeout time.Duration
	onPermission      func(condition string)
	logResults        bool
	diag              io.Writer
}

// warnLogger reports degraded configuration on the diagnostic writer, or
// the console when none was set.
func (c clientConfig) warnLogger() logging.Logger {
	if c.diag != nil {
		return logging.NewJSON(c.diag, "warn")
	}
	return logging.NewConsole("warn")
}

// WithConfig loads rules and tuning from a YAML or TOML file. Rules given
// with WithRules are appended to the file's.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithRules sets termination and permission rules.
func WithRules(terminateIf, askPermissionIf []string) Option {
	return func(c *clientConfig) {
		c.terminateIf = append(c.terminateIf, terminateIf...)
		c.askPermissionIf = append(c.askPermissionIf, askPermissionIf...)
	}
}

// WithPollInterval sets how often rules are evaluated.
func WithPollInterval(d time.Duration) Option {
	return func(c *clientConfig) { c.pollInterval = d }
}

// WithPermissionTimeout denies a pending request after d. Zero waits
// indefinitely.
func WithPermissionTimeout(d time.Duration) Option {
	return func(c *clientConfig) { c.permissionTimeout = d }
}

// OnPermissionRequired is called when a permission rule pauses the session.
// The callback must not block; resolve the request with Client.Grant.
func OnPermissionRequired(fn func(condition string)) Option {
	return func(c *clientConfig) { c.onPermission = fn }
}

// WithDiagnostics sends permission notices and configuration warnings to w
// instead of stdout and stderr. OnPermissionRequired still takes precedence
// for permission notices.
func WithDiagnostics(w io.Writer) Option {
	return func(c *clientConfig) { c.diag = w }
}

// WithResultLogging also logs each tool result as an observation entry.
func WithResultLogging() Option {
	return func(c *clientConfig) { c.logResults = true }
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	tool string
}

// WrapWithTool fills in Action.Tool when the caller leaves it empty.
func WrapWithTool(name string) WrapOption {
	return func(w *wrapConfig) { w.tool = name }
}
