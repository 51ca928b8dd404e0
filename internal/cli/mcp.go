package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/mcp"
	"github.com/ppiankov/monmon/internal/monitor"
	"github.com/ppiankov/monmon/internal/notify"
)

var mcpFlags monitorFlags

func init() {
	mcpFlags.register(mcpCmd.Flags())
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve a monitored session over MCP (stdio)",
	Long: `Start a monitor and expose it to an agent as MCP tools on stdin/stdout:
monmon_log, monmon_status, monmon_grant and monmon_entries.

stdout carries the protocol, so permission requests are logged to stderr
and can also be decided with --approvals or --dashboard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		s, err := buildStack(cmd.Flags(), &mcpFlags, buildOptions{
			notifiers: []monitor.Notifier{notify.Logger{Log: logger}},
		}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.close(); err != nil {
				logger.Warn("shutdown incomplete", logging.Err(err))
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		s.start(ctx, logger)

		server := mcp.New(s.mon, mcp.Config{Version: version})
		err = s.mon.Session(ctx, func(m *monitor.Monitor) error {
			return server.Run(ctx)
		})
		printOutcome(cmd.ErrOrStderr(), s.mon)
		return demoResult(err)
	},
}
