// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes raido task tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/dates"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/storage"
)

const formatURI = "raido://task-format"

// Server wraps the MCP server with raido tools.
type Server struct {
	mcp   *server.MCPServer
	eng   *engine.Engine
	idx   index.NoteIndex
	store storage.Provider
	now   func() time.Time
}

// New creates a new MCP server with all raido tools registered.
func New(eng *engine.Engine, idx index.NoteIndex, store storage.Provider) *Server {
	s := &Server{eng: eng, idx: idx, store: store, now: time.Now}

	s.mcp = server.NewMCPServer(
		"raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	pathArg := mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the task note (e.g. tasks/water.md)"))

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List every indexed task with its frontmatter fields."),
	), s.listTasks)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the raw Markdown of a note."),
		pathArg,
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("task_status",
		mcp.WithDescription("Effective status (open, done or skipped) of a task on a date."),
		pathArg,
		mcp.WithString("date", mcp.Description("Date as YYYY-MM-DD; defaults to today")),
	), s.taskStatus)

	s.mcp.AddTool(mcp.NewTool("next_occurrence",
		mcp.WithDescription("First occurrence of a recurring task that is neither completed nor skipped."),
		pathArg,
		mcp.WithString("ref", mcp.Description("Reference date as YYYY-MM-DD; defaults to today")),
	), s.nextOccurrence)

	s.mcp.AddTool(mcp.NewTool("task_relations",
		mcp.WithDescription("Blockers, blocked tasks, subtasks and projects of a task."),
		pathArg,
	), s.taskRelations)

	s.mcp.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Complete the current instance of a task. Recurring tasks advance to their next occurrence. "+
			"Read the contract via get_task_contract or the "+formatURI+" resource first."),
		pathArg,
		mcp.WithString("date", mcp.Description("Reference date as YYYY-MM-DD; defaults to today")),
	), s.completeTask)

	s.mcp.AddTool(mcp.NewTool("skip_task",
		mcp.WithDescription("Skip the current instance of a recurring task."),
		pathArg,
		mcp.WithString("date", mcp.Description("Reference date as YYYY-MM-DD; defaults to today")),
	), s.skipTask)

	s.mcp.AddTool(mcp.NewTool("toggle_instance",
		mcp.WithDescription("Toggle one dated instance of a recurring task in its completed or skipped list."),
		pathArg,
		mcp.WithString("date", mcp.Required(), mcp.Description("Instance date as YYYY-MM-DD")),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("complete", "skip"), mcp.Description("Which list to toggle")),
	), s.toggleInstance)

	s.mcp.AddTool(mcp.NewTool("expand_recurrence",
		mcp.WithDescription("Expand an RRULE inside an inclusive date window."),
		mcp.WithString("rule", mcp.Required(), mcp.Description("RRULE text, optionally with a DTSTART line")),
		mcp.WithString("anchor", mcp.Description("Anchor date as YYYY-MM-DD when the rule has no DTSTART")),
		mcp.WithString("start", mcp.Required(), mcp.Description("Window start as YYYY-MM-DD")),
		mcp.WithString("end", mcp.Required(), mcp.Description("Window end as YYYY-MM-DD")),
		mcp.WithNumber("max", mcp.Description("Maximum number of dates; defaults to the server limit")),
	), s.expandRecurrence)

	s.mcp.AddTool(mcp.NewTool("search_tasks",
		mcp.WithDescription("Full-text search through note content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchTasks)

	s.mcp.AddTool(mcp.NewTool("get_task_contract",
		mcp.WithDescription("Returns the raido task format. "+
			"Call this before editing task notes to keep the frontmatter consistent."),
	), s.getTaskContract)

	// Resource: task format contract.
	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Task Format",
			mcp.WithResourceDescription("How tasks, recurrence and relations are stored in note frontmatter."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTaskFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) today() string {
	return dates.ToCalendarDate(s.now()).String()
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.eng.Tasks())
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) taskStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	date := req.GetString("date", s.today())
	st, err := s.eng.EffectiveStatus(path, date)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"path": path, "date": date, "status": string(st)})
}

func (s *Server) nextOccurrence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref := req.GetString("ref", s.today())
	next, ok, err := s.eng.NextUncompletedOccurrence(path, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !ok {
		return mcp.NewToolResultText("series has ended"), nil
	}
	return mcp.NewToolResultText(next.String()), nil
}

func (s *Server) taskRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rel, err := s.eng.Relations(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rel)
}

func (s *Server) completeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.action(ctx, req, s.eng.Complete)
}

func (s *Server) skipTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.action(ctx, req, s.eng.Skip)
}

func (s *Server) action(ctx context.Context, req mcp.CallToolRequest,
	fn func(ctx context.Context, path, ref string) (engine.ActionResult, error)) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := fn(ctx, path, req.GetString("date", s.today()))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) toggleInstance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	date, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.eng.ToggleInstance(ctx, path, date, kind, s.today())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) expandRecurrence(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rule, err := req.RequireString("rule")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	window, err := engine.ParseWindow(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	exp, err := s.eng.ExpandOccurrences(rule, req.GetString("anchor", ""), window, req.GetInt("max", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := struct {
		Status string   `json:"status"`
		Dates  []string `json:"dates"`
		Error  string   `json:"error,omitempty"`
	}{Status: exp.Status.String(), Dates: make([]string, 0, len(exp.Dates))}
	for _, d := range exp.Dates {
		out.Dates = append(out.Dates, d.String())
	}
	if exp.Err != nil {
		out.Error = exp.Err.Error()
	}
	return jsonResult(out)
}

func (s *Server) searchTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.idx.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getTaskContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TaskFormatContract), nil
}

func (s *Server) readTaskFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     TaskFormatContract,
		},
	}, nil
}
