package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/approval"
)

func init() {
	rootCmd.AddCommand(approveCmd)
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Grant a pending permission request",
	Long:  "Marks the request granted. The paused session resumes as soon as its\nwatcher sees the change.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd.OutOrStdout(), approvalDir, args[0], true)
	},
}

// runDecide resolves a request in dir. by is recorded as "cli".
func runDecide(out io.Writer, dir, id string, granted bool) error {
	store, err := approval.NewStore(dir)
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	if granted {
		if err := store.Grant(id, "cli"); err != nil {
			return err
		}
		fmt.Fprintf(out, "Granted %s\n", id)
		return nil
	}

	if err := store.Deny(id, "cli"); err != nil {
		return err
	}
	fmt.Fprintf(out, "Denied %s\n", id)
	return nil
}
