// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes read-only Eidolon tools for LLM/operator integration via stdio
// transport, plus notice posting when an operation client is available.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/veldrane/eidolon/internal/opclient"
	"github.com/veldrane/eidolon/internal/store"
)

// Server wraps the MCP server with Eidolon tools.
type Server struct {
	mcp    *server.MCPServer
	store  store.Store
	client *opclient.Client
}

// New creates an MCP server with all tools registered. client may be nil on
// processes without a relay hub; the post_notice tool is then omitted.
func New(st store.Store, client *opclient.Client) *Server {
	s := &Server{store: st, client: client}

	s.mcp = server.NewMCPServer(
		"Eidolon",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_catalog",
		mcp.WithDescription("List the catalog folder tree with the mirror records in each folder."),
	), s.listCatalog)

	s.mcp.AddTool(mcp.NewTool("read_record",
		mcp.WithDescription("Read one record by its stable identifier."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record identifier")),
	), s.readRecord)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List every record held by an owner."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Owner identifier")),
	), s.listRecords)

	if client != nil {
		s.mcp.AddTool(mcp.NewTool("post_notice",
			mcp.WithDescription("Post a message to the privileged notices stream. "+
				"Fails when no executor is elected."),
			mcp.WithString("message", mcp.Required(), mcp.Description("Notice text")),
		), s.postNotice)
	}

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

func (s *Server) listCatalog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folders, err := s.store.ListFolders()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sb strings.Builder
	for _, f := range folders {
		if f.ParentID == "" {
			fmt.Fprintf(&sb, "%s/\n", f.Name)
			continue
		}
		fmt.Fprintf(&sb, "  %s/\n", f.Name)
		mirrors, err := s.store.ListRecordsByFolder(f.ID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		for _, m := range mirrors {
			fmt.Fprintf(&sb, "    %s (%s)\n", m.Name, m.ID)
		}
	}
	if sb.Len() == 0 {
		return mcp.NewToolResultText("catalog is empty"), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) readRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	record, err := s.store.GetRecord(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(record, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	records, err := s.store.ListRecordsByOwner(owner)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(records) == 0 {
		return mcp.NewToolResultText("no records"), nil
	}
	var lines []string
	for _, r := range records {
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", r.ID, r.Kind, r.Name))
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) postNotice(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.client.Notify(ctx, message); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("posted"), nil
}
