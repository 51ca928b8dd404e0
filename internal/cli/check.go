package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/config"
	"github.com/ppiankov/monmon/internal/content"
	"github.com/ppiankov/monmon/internal/evaluate"
	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/store"
)

var checkFlags struct {
	configPath string
	dbPath     string
	sessionID  string
	format     string
	lint       bool
}

func init() {
	checkCmd.Flags().StringVarP(&checkFlags.configPath, "config", "c", config.DefaultPath, "Path to the rules file (YAML or TOML)")
	checkCmd.Flags().StringVar(&checkFlags.dbPath, "db", "", "Read the transcript from this SQLite database instead of a file")
	checkCmd.Flags().StringVar(&checkFlags.sessionID, "session", "", "Session to read from --db")
	checkCmd.Flags().StringVar(&checkFlags.format, "format", "text", "Output format (text|json)")
	checkCmd.Flags().BoolVar(&checkFlags.lint, "lint", false, "Only report rule problems, do not read a transcript")
	rootCmd.AddCommand(checkCmd)
}

// errWouldTerminate is returned when a checked transcript trips a stop rule.
var errWouldTerminate = errors.New("transcript would be terminated")

var checkCmd = &cobra.Command{
	Use:   "check [transcript.jsonl]",
	Short: "Evaluate rules against a recorded transcript",
	Long: `Re-evaluate a recorded transcript the way a live session would: one
evaluation after every entry, every permission request assumed granted.

The transcript is JSONL with one {"role": ..., "content": ...} object per
line, or a session stored with --db. Exits non-zero when a stop rule fires.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(checkFlags.configPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if checkFlags.lint {
			return runLint(out, cfg)
		}

		entries, err := loadTranscript(cmd.Context(), args)
		if err != nil {
			return err
		}
		mode, err := content.ParseMode(cfg.Monitor.Content)
		if err != nil {
			return err
		}
		ev := &evaluate.Local{Window: cfg.Monitor.Window, Stringify: content.Stringifier(mode)}
		findings := evaluate.Scan(ev, cfg.RuleSet, entries)
		return reportFindings(out, checkFlags.format, len(entries), findings)
	},
}

func runLint(out io.Writer, cfg *config.Config) error {
	warnings := cfg.Lint()
	if len(warnings) == 0 {
		fmt.Fprintf(out, "%d termination rules, %d permission rules: no problems found\n",
			len(cfg.TerminateIf), len(cfg.AskPermissionIf))
		return nil
	}
	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return fmt.Errorf("%d rule warnings", len(warnings))
}

func loadTranscript(ctx context.Context, args []string) ([]eventlog.Entry, error) {
	if checkFlags.dbPath != "" {
		if checkFlags.sessionID == "" {
			return nil, errors.New("--session is required with --db")
		}
		s, err := store.Open(checkFlags.dbPath)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		if _, err := s.Session(ctx, checkFlags.sessionID); err != nil {
			return nil, err
		}
		return s.Entries(ctx, checkFlags.sessionID)
	}

	if len(args) == 0 {
		return nil, errors.New("a transcript file or --db is required")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readTranscript(f)
}

// transcriptLine is one line of a JSONL transcript.
type transcriptLine struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// readTranscript decodes JSONL entries in order. Blank lines are skipped.
// A line without a role is treated as an assistant action.
func readTranscript(r io.Reader) ([]eventlog.Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var entries []eventlog.Entry
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var tl transcriptLine
		if err := json.Unmarshal(line, &tl); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if tl.Role == "" {
			tl.Role = eventlog.RoleAssistant
		}
		entries = append(entries, eventlog.Entry{Index: len(entries), Role: tl.Role, Content: tl.Content})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

type checkReport struct {
	Entries    int                `json:"entries"`
	Findings   []evaluate.Finding `json:"findings"`
	Terminated bool               `json:"terminated"`
}

// reportFindings writes the scan result and returns errWouldTerminate when
// the last finding is a termination.
func reportFindings(out io.Writer, format string, n int, findings []evaluate.Finding) error {
	terminated := len(findings) > 0 && findings[len(findings)-1].Kind == evaluate.FindingTerminate

	switch format {
	case "json":
		report := checkReport{Entries: n, Findings: findings, Terminated: terminated}
		if report.Findings == nil {
			report.Findings = []evaluate.Finding{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	case "text":
		for _, f := range findings {
			switch f.Kind {
			case evaluate.FindingTerminate:
				fmt.Fprintf(out, "entry %d: terminate on %q", f.Index, f.Rule)
				if f.Details != "" {
					fmt.Fprintf(out, " (%s)", f.Details)
				}
				fmt.Fprintln(out)
			default:
				fmt.Fprintf(out, "entry %d: permission required for %q\n", f.Index, f.Rule)
			}
		}
		if !terminated {
			fmt.Fprintf(out, "%d entries checked: not terminated\n", n)
		}
	default:
		return fmt.Errorf("unknown format %q (use text or json)", format)
	}

	if terminated {
		return fmt.Errorf("%w at entry %d", errWouldTerminate, findings[len(findings)-1].Index)
	}
	return nil
}
