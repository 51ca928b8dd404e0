package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/approval"
)

var (
	approvalDir string
	pendingAll  bool
)

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.Flags().BoolVar(&pendingAll, "all", false, "Include resolved requests")
	for _, c := range []*cobra.Command{pendingCmd, approveCmd, denyCmd} {
		c.Flags().StringVar(&approvalDir, "dir", approval.DefaultDir(), "Approval request directory")
	}
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List permission requests waiting for a decision",
	Long:  "Shows the permission requests written by sessions started with --approvals,\nwith the session, condition, and creation time of each.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPending(cmd.OutOrStdout(), approvalDir, pendingAll)
	},
}

func runPending(out io.Writer, dir string, all bool) error {
	store, err := approval.NewStore(dir)
	if err != nil {
		return fmt.Errorf("failed to open approval store: %w", err)
	}

	list, err := store.Pending()
	if all {
		list, err = store.List()
	}
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No pending permission requests.")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-9s %-36s %-30s %s\n", "ID", "STATUS", "SESSION", "CONDITION", "CREATED")
	for _, r := range list {
		fmt.Fprintf(out, "%-36s %-9s %-36s %-30s %s\n",
			r.ID,
			r.Status,
			r.SessionID,
			truncate(r.Condition, 30),
			r.CreatedAt.Local().Format("15:04:05"),
		)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
