package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/config"
)

var (
	initPath  string
	initForce bool
)

func init() {
	initCmd.Flags().StringVar(&initPath, "path", config.DefaultPath, "Where to write the configuration file")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Writes a commented monmon.yaml with the starter rules: stop on facebook.com,
on a detected loop, or after 50 actions; ask before emails, shell commands,
rm -rf, and CAPTCHAs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInit(cmd.OutOrStdout())
	},
}

func runInit(out io.Writer) error {
	wrote, err := writeIfMissing(initPath, config.DefaultYAML())
	if err != nil {
		return err
	}
	if !wrote {
		fmt.Fprintf(out, "%s already exists (use --force to overwrite).\n", initPath)
		return nil
	}

	fmt.Fprintf(out, "Created %s\n\n", initPath)
	fmt.Fprintln(out, "Check the rules:")
	fmt.Fprintf(out, "  monmon check --lint --config %s\n\n", initPath)
	fmt.Fprintln(out, "Run the demo agent under them:")
	fmt.Fprintf(out, "  monmon run --config %s\n", initPath)
	return nil
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
