package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/tasktrack/internal/api"
	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/journal"
	"github.com/joescharf/tasktrack/internal/resolve"
	"github.com/joescharf/tasktrack/internal/session"
)

// DefaultConsumer identifies visits made through MCP.
const DefaultConsumer = "mcp"

// Daemon is the daemon API used by the tools. *api.Client implements it.
type Daemon interface {
	Visit(ctx context.Context, path, consumer string) (*api.VisitResponse, error)
	Activity(ctx context.Context, consumer string) error
	Sessions(ctx context.Context) ([]session.Snapshot, error)
	Report(ctx context.Context, since time.Duration) ([]api.ReportRow, error)
}

// Pipeline resolves a descriptor to a task.
type Pipeline interface {
	Resolve(ctx context.Context, dir string, d *descriptor.Descriptor) (*resolve.Resolution, error)
}

// Server exposes the tasktrack daemon and resolution pipeline as MCP tools.
type Server struct {
	daemon   Daemon
	pipeline func(dryRun bool) Pipeline
	version  string
}

// NewServer creates the MCP server wrapper. pipeline builds a resolver with
// creation enabled or disabled.
func NewServer(d Daemon, pipeline func(dryRun bool) Pipeline, version string) *Server {
	return &Server{daemon: d, pipeline: pipeline, version: version}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("tasktrack", s.version, server.WithToolCapabilities(true))

	srv.AddTool(s.sessionsTool())
	srv.AddTool(s.visitTool())
	srv.AddTool(s.touchTool())
	srv.AddTool(s.resolveTool())
	srv.AddTool(s.reportTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdioServer := server.NewStdioServer(s.MCPServer())
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func daemonError(action string, err error) *mcp.CallToolResult {
	if errors.Is(err, api.ErrDaemonNotRunning) {
		return mcp.NewToolResultError("tasktrack daemon is not running; start it with `tasktrack daemon start`")
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err))
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// tasktrack_sessions
func (s *Server) sessionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tasktrack_sessions",
		mcp.WithDescription("List the daemon's sessions. Returns a JSON array with path, state, running flag, current flag, task and idle deadline."),
	)
	return tool, s.handleSessions
}

func (s *Server) handleSessions(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snaps, err := s.daemon.Sessions(ctx)
	if err != nil {
		return daemonError("list sessions", err), nil
	}
	if snaps == nil {
		snaps = []session.Snapshot{}
	}
	return jsonResult(snaps)
}

// tasktrack_visit
func (s *Server) visitTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tasktrack_visit",
		mcp.WithDescription("Report a visit to a directory. Starts tracking the task its .tasktrack.yaml names, creating the task if needed."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute directory path")),
		mcp.WithString("consumer", mcp.Description("Consumer id whose activity keeps the session alive (default: mcp)")),
	)
	return tool, s.handleVisit
}

func (s *Server) handleVisit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	if !filepath.IsAbs(path) {
		return mcp.NewToolResultError(fmt.Sprintf("path must be absolute: %s", path)), nil
	}
	consumer := request.GetString("consumer", DefaultConsumer)

	resp, err := s.daemon.Visit(ctx, path, consumer)
	if err != nil {
		return daemonError("visit "+path, err), nil
	}
	return jsonResult(resp)
}

// tasktrack_touch
func (s *Server) touchTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tasktrack_touch",
		mcp.WithDescription("Report activity for a consumer, postponing the idle stop of its session."),
		mcp.WithString("consumer", mcp.Description("Consumer id (default: mcp)")),
	)
	return tool, s.handleTouch
}

func (s *Server) handleTouch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	consumer := request.GetString("consumer", DefaultConsumer)
	if err := s.daemon.Activity(ctx, consumer); err != nil {
		return daemonError("report activity", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("activity recorded for %s", consumer)), nil
}

// tasktrack_resolve
func (s *Server) resolveTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tasktrack_resolve",
		mcp.WithDescription("Resolve the descriptor governing a directory to a Taskwarrior task without starting it. By default no task is created."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute directory path")),
		mcp.WithBoolean("create", mcp.Description("Create the task when no pending task matches")),
	)
	return tool, s.handleResolve
}

type resolveOut struct {
	Descriptor  string               `json:"descriptor"`
	Task        any                  `json:"task,omitempty"`
	Composition *resolve.Composition `json:"composition,omitempty"`
	Created     bool                 `json:"created"`
	WouldCreate []string             `json:"would_create,omitempty"`
}

func (s *Server) handleResolve(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: path"), nil
	}
	create := request.GetBool("create", false)

	found, err := descriptor.Find(path)
	if errors.Is(err, descriptor.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("no %s governs %s", descriptor.FileName, path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.pipeline(!create).Resolve(ctx, found.Dir, found.Descriptor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("resolve %s: %v", found.Path, err)), nil
	}

	out := resolveOut{
		Descriptor:  found.Path,
		Composition: res.Composition,
		Created:     res.Created,
		WouldCreate: res.WouldCreate,
	}
	if res.Task != nil {
		out.Task = res.Task
	}
	return jsonResult(out)
}

// tasktrack_report
func (s *Server) reportTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("tasktrack_report",
		mcp.WithDescription("Summarize tracked time per task from the journal."),
		mcp.WithString("since", mcp.Description("Look-back window such as 7d or 12h (default: 7d)")),
	)
	return tool, s.handleReport
}

func (s *Server) handleReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	since, err := journal.ParseSince(request.GetString("since", "7d"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rows, err := s.daemon.Report(ctx, since)
	if err != nil {
		return daemonError("build report", err), nil
	}
	if rows == nil {
		rows = []api.ReportRow{}
	}
	return jsonResult(rows)
}
