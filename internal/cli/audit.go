package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/audit"
)

var (
	tailLines    int
	replaySess   string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditReplayCmd.Flags().StringVarP(&replaySess, "session", "s", "", "Only show this session")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained log of session transitions.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log and validates that every entry's prev_hash\nmatches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuditVerify(cmd.OutOrStdout(), args[0])
	},
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the JSONL audit log and pretty-prints them.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAuditTail(cmd.OutOrStdout(), args[0], tailLines)
	},
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay <path>",
	Short: "Replay session transitions from the audit log",
	Long:  "Reads the audit log, filters by session and optional time range,\nand renders a transition timeline with a summary.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := replayFilter(replaySess, replayFrom, replayTo)
		if err != nil {
			return err
		}
		return runAuditReplay(cmd.OutOrStdout(), args[0], filter, replayFormat)
	},
}

func runAuditVerify(out io.Writer, path string) error {
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(out, "OK: %d entries verified across %d sessions\n", result.Lines, result.Sessions)
		return nil
	}
	return fmt.Errorf("FAILED at line %d: %s", result.ErrorLine, result.Error)
}

func runAuditTail(out io.Writer, path string, n int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	start := len(lines) - n
	if start < 0 {
		start = 0
	}

	for _, line := range lines[start:] {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			fmt.Fprintln(out, line)
			continue
		}
		pretty, _ := json.MarshalIndent(entry, "", "  ")
		fmt.Fprintln(out, string(pretty))
	}
	return nil
}

func replayFilter(session, from, to string) (audit.ReplayFilter, error) {
	filter := audit.ReplayFilter{SessionID: session}
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, fmt.Errorf("invalid --from time %q: %w", from, err)
		}
		filter.From = t
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, fmt.Errorf("invalid --to time %q: %w", to, err)
		}
		filter.To = t
	}
	return filter, nil
}

func runAuditReplay(out io.Writer, path string, filter audit.ReplayFilter, format string) error {
	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}

	switch format {
	case "json":
		s, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, s)
	default:
		fmt.Fprint(out, audit.FormatTimeline(result))
	}
	return nil
}
