package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/demo"
	"github.com/ppiankov/monmon/internal/logging"
	"github.com/ppiankov/monmon/internal/monitor"
)

var runFlags struct {
	monitorFlags
	seed     int64
	delay    time.Duration
	maxTurns int
}

func init() {
	runFlags.register(runCmd.Flags())
	runCmd.Flags().Int64Var(&runFlags.seed, "seed", 0, "Random seed for the scripted agent (0 uses the clock)")
	runCmd.Flags().DurationVar(&runFlags.delay, "delay", time.Second, "Pause after each transcript entry")
	runCmd.Flags().IntVar(&runFlags.maxTurns, "max-turns", 0, "Stop after this many agent turns (0 runs until terminated)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scripted demo agent under the monitor",
	Long: `Run a scripted agent and environment under a live monitor.

Permission requests are asked on the terminal unless --approvals or
--dashboard provides another way to decide. A terminated session is a
normal outcome and exits 0.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		out := cmd.OutOrStdout()

		ask := newPrompter(cmd.InOrStdin(), out, logger)
		s, err := buildStack(cmd.Flags(), &runFlags.monitorFlags, buildOptions{fallback: ask}, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.close(); err != nil {
				logger.Warn("shutdown incomplete", logging.Err(err))
			}
		}()
		ask.setTarget(s.mon)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		s.start(ctx, logger)

		if runFlags.approvalsDir != "" {
			logger.Info("permission requests go to the approval directory",
				logging.String("dir", runFlags.approvalsDir))
		}

		err = s.mon.Session(ctx, func(m *monitor.Monitor) error {
			return demo.Run(ctx, m, demo.Options{
				Seed:     runFlags.seed,
				Delay:    runFlags.delay,
				MaxTurns: runFlags.maxTurns,
				Out:      out,
			})
		})
		return demoResult(err)
	},
}

// demoResult maps how a demo ended to the command's exit status.
func demoResult(err error) error {
	var term *monitor.TerminationError
	switch {
	case err == nil, errors.As(err, &term):
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}
