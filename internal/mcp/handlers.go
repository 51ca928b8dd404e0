package mcp

import (
	"context"
	"errors"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/monmon/internal/eventlog"
	"github.com/ppiankov/monmon/internal/monitor"
)

// defaultEntries is how many entries monmon_entries returns when unset.
const defaultEntries = 20

// --- Input/Output types ---

// LogInput defines parameters for the monmon_log tool.
type LogInput struct {
	Role    string `json:"role,omitempty" jsonschema:"entry role, assistant for agent actions (default) or user for observations"`
	Content string `json:"content" jsonschema:"the action or observation"`
}

// LogOutput reports the session state after the entry was recorded.
type LogOutput struct {
	Index      int    `json:"index"`
	State      string `json:"state"`
	Terminated bool   `json:"terminated,omitempty"`
	Condition  string `json:"condition,omitempty"`
	Details    string `json:"details,omitempty"`
}

// StatusInput is empty: no parameters needed.
type StatusInput struct{}

// StatusOutput describes the session.
type StatusOutput struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Pending    string `json:"pending,omitempty"`
	Entries    int    `json:"entries"`
	Terminated bool   `json:"terminated,omitempty"`
	Condition  string `json:"condition,omitempty"`
	Details    string `json:"details,omitempty"`
}

// GrantInput defines parameters for the monmon_grant tool.
type GrantInput struct {
	Granted bool `json:"granted" jsonschema:"true to resume the session, false to terminate it"`
}

// GrantOutput confirms the decision.
type GrantOutput struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// EntriesInput defines parameters for the monmon_entries tool.
type EntriesInput struct {
	Last int `json:"last,omitempty" jsonschema:"number of most recent entries to return (default 20)"`
}

// EntriesOutput lists transcript entries, oldest first.
type EntriesOutput struct {
	Entries []EntryItem `json:"entries"`
}

// EntryItem is one transcript entry with its content rendered as text.
type EntryItem struct {
	Index     int    `json:"index"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"ts"`
}

// --- Handlers ---

func (s *Server) handleLog(ctx context.Context, req *mcpsdk.CallToolRequest, input LogInput) (*mcpsdk.CallToolResult, LogOutput, error) {
	role := input.Role
	if role == "" {
		role = eventlog.RoleAssistant
	}

	err := s.mon.Log(ctx, role, input.Content)
	out := LogOutput{
		Index: len(s.mon.Entries()) - 1,
		State: s.mon.State().String(),
	}

	var term *monitor.TerminationError
	switch {
	case err == nil:
		return nil, out, nil
	case errors.As(err, &term):
		out.Terminated = true
		out.Condition = term.Condition
		out.Details = term.Details
		return nil, out, nil
	default:
		return nil, out, err
	}
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	out := StatusOutput{
		SessionID: s.mon.SessionID(),
		State:     s.mon.State().String(),
		Pending:   s.mon.Pending(),
		Entries:   len(s.mon.Entries()),
	}

	var term *monitor.TerminationError
	if errors.As(s.mon.Err(), &term) {
		out.Terminated = true
		out.Condition = term.Condition
		out.Details = term.Details
	}
	return nil, out, nil
}

func (s *Server) handleGrant(ctx context.Context, req *mcpsdk.CallToolRequest, input GrantInput) (*mcpsdk.CallToolResult, GrantOutput, error) {
	if err := s.mon.GrantPermission(input.Granted); err != nil {
		out := GrantOutput{State: s.mon.State().String(), Error: err.Error()}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, GrantOutput{State: s.mon.State().String()}, nil
}

func (s *Server) handleEntries(ctx context.Context, req *mcpsdk.CallToolRequest, input EntriesInput) (*mcpsdk.CallToolResult, EntriesOutput, error) {
	n := input.Last
	if n <= 0 {
		n = defaultEntries
	}
	out := EntriesOutput{Entries: []EntryItem{}}
	for _, e := range eventlog.Tail(s.mon.Entries(), n) {
		out.Entries = append(out.Entries, EntryItem{
			Index:     e.Index,
			Role:      e.Role,
			Content:   e.Text(),
			Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}
	return nil, out, nil
}
