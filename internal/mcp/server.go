// Package mcp exposes a running monitor to an agent over the Model Context
// Protocol. The agent logs its actions through a tool call that blocks while
// the session waits for an operator's permission.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/monmon/internal/monitor"
)

// Config holds MCP server configuration.
type Config struct {
	Name    string // implementation name, "monmon" by default
	Version string
}

// Server wraps the MCP SDK server around one monitor.
type Server struct {
	mcpServer *mcpsdk.Server
	mon       *monitor.Monitor
}

// New creates an MCP server with the monmon tools registered. The monitor
// should already be started; the server only logs and reads through it.
func New(mon *monitor.Monitor, cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "monmon"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{mon: mon}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all monmon tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "monmon_log",
		Description: "Record an action or observation in the monitored transcript. Blocks while the session waits for operator permission. Returns terminated=true once the session has been stopped by a rule; stop acting when it does.",
	}, s.handleLog)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "monmon_status",
		Description: "Report the session state (running, paused, terminated), the pending permission condition, and the termination reason if any.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "monmon_grant",
		Description: "Resolve the pending permission request. granted=true resumes the session; granted=false terminates it.",
	}, s.handleGrant)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "monmon_entries",
		Description: "Return the most recent transcript entries.",
	}, s.handleEntries)
}
