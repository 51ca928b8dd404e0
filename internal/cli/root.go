package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/logging"
)

var (
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:          "monmon",
	Short:        "Rule-driven monitor for autonomous agents",
	Long:         "Watches an agent's transcript as it is logged. Terminates the session when a\nstop rule matches and pauses it until an operator decides when a permission\nrule matches.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Diagnostic log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Diagnostic log format (console|json)")
}

// newLogger builds the diagnostic logger. Diagnostics always go to stderr so
// stdout stays free for command output and the MCP transport.
func newLogger() logging.Logger {
	if logFormat == "json" {
		return logging.NewJSON(os.Stderr, logLevel)
	}
	return logging.NewConsole(logLevel)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
