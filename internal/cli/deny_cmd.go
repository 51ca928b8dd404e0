package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(denyCmd)
}

var denyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Deny a pending permission request",
	Long:  "Marks the request denied. The paused session terminates with the\npending condition and details \"permission denied\".",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecide(cmd.OutOrStdout(), approvalDir, args[0], false)
	},
}
