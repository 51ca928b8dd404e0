package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/store"
)

var (
	sessionsDB     string
	sessionsShow   string
	sessionsFormat string
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().StringVar(&sessionsDB, "db", "", "SQLite transcript database (required)")
	sessionsCmd.Flags().StringVar(&sessionsShow, "show", "", "Print the transcript of this session")
	sessionsCmd.Flags().StringVarP(&sessionsFormat, "format", "f", "text", "Output format (text|json)")
	_ = sessionsCmd.MarkFlagRequired("db")
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions recorded with --db",
	Long:  "Lists recorded sessions newest first with their final state, or prints one\nsession's transcript with --show.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(sessionsDB)
		if err != nil {
			return err
		}
		defer s.Close()

		if sessionsShow != "" {
			return runSessionShow(cmd.Context(), cmd.OutOrStdout(), s, sessionsShow, sessionsFormat)
		}
		return runSessions(cmd.Context(), cmd.OutOrStdout(), s, sessionsFormat)
	},
}

func runSessions(ctx context.Context, out io.Writer, s *store.Store, format string) error {
	list, err := s.Sessions(ctx)
	if err != nil {
		return err
	}

	if format == "json" {
		if list == nil {
			list = []store.Session{}
		}
		return writeJSON(out, list)
	}

	if len(list) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}
	fmt.Fprintf(out, "%-36s %-19s %-10s %7s  %s\n", "ID", "STARTED", "STATE", "ENTRIES", "CONDITION")
	for _, sess := range list {
		fmt.Fprintf(out, "%-36s %-19s %-10s %7d  %s\n",
			sess.ID,
			sess.StartedAt.Local().Format("2006-01-02 15:04:05"),
			sess.State,
			sess.Entries,
			truncate(sess.Condition, 40),
		)
	}
	return nil
}

func runSessionShow(ctx context.Context, out io.Writer, s *store.Store, id, format string) error {
	sess, err := s.Session(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("session %s not found in %s", id, s.Path())
	}
	if err != nil {
		return err
	}
	entries, err := s.Entries(ctx, id)
	if err != nil {
		return err
	}

	if format == "json" {
		if entries == nil {
			entries = []eventlog.Entry{}
		}
		return writeJSON(out, struct {
			Session store.Session    `json:"session"`
			Entries []eventlog.Entry `json:"entries"`
		}{sess, entries})
	}

	fmt.Fprintf(out, "Session %s (%s)\n", sess.ID, sess.State)
	for _, e := range entries {
		fmt.Fprintf(out, "[%d] %s: %s\n", e.Index, e.Role, eventlog.Stringify(e.Content))
	}
	if sess.Condition != "" {
		fmt.Fprintf(out, "Condition: %s", sess.Condition)
		if sess.Details != "" {
			fmt.Fprintf(out, " (%s)", sess.Details)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
