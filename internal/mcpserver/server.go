// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Driftwatch tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/journal"
)

// Checker runs an immediate drift check for one account.
type Checker interface {
	CheckAccount(ctx context.Context, accountID string) error
}

// Server wraps the MCP server with Driftwatch tools.
type Server struct {
	mcp     *server.MCPServer
	journal *journal.Service
	checker Checker
}

// New creates a new MCP server with all Driftwatch tools registered.
func New(jr *journal.Service, checker Checker) *Server {
	s := &Server{journal: jr, checker: checker}

	s.mcp = server.NewMCPServer(
		"Driftwatch",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_changes",
		mcp.WithDescription("List the change journal of an ad account, newest first. "+
			"Each entry describes one campaign's field-level drift detected on one day."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Ad account identifier")),
	), s.listChanges)

	s.mcp.AddTool(mcp.NewTool("get_change",
		mcp.WithDescription("Read a single change record, including its diff tree and notes."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Ad account identifier")),
		mcp.WithString("change_id", mcp.Required(), mcp.Description("Change record identifier")),
	), s.getChange)

	s.mcp.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Attach an annotation to a change record."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Ad account identifier")),
		mcp.WithString("change_id", mcp.Required(), mcp.Description("Change record identifier")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Note text")),
	), s.addNote)

	s.mcp.AddTool(mcp.NewTool("run_check",
		mcp.WithDescription("Fetch the account's campaigns now, diff against the stored "+
			"baseline, and journal any drift. Returns when the check completes."),
		mcp.WithString("account_id", mcp.Required(), mcp.Description("Ad account identifier")),
	), s.runCheck)

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

func (s *Server) listChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := req.RequireString("account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := s.journal.List(ctx, accountID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(recs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getChange(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := req.RequireString("account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changeID, err := req.RequireString("change_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.journal.Get(ctx, accountID, changeID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", changeID)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := req.RequireString("account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changeID, err := req.RequireString("change_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	note, err := s.journal.AddNote(ctx, accountID, changeID, text)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", changeID)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("added note %s", note.ID)), nil
}

func (s *Server) runCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID, err := req.RequireString("account_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.checker.CheckAccount(ctx, accountID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("check complete for account %s", accountID)), nil
}
