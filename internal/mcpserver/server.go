// Package mcpserver provides an MCP (Model Context Protocol) server
// that grounds a chat agent in the Dagaz vault via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/noteservice"
	"github.com/starford/dagaz/internal/vault"
)

// Server wraps the MCP server with Dagaz tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all Dagaz tools registered.
func New(svc *noteservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Dagaz",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("query_context",
		mcp.WithDescription("Assemble grounded context for a question: the most relevant "+
			"notes from the vault plus their sources. Returns a JSON bundle; when the notes "+
			"list is empty, state that nothing was found instead of answering from memory."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The user's question or topic")),
		mcp.WithString("batch", mcp.Description("Optional capture batch id whose notes should rank first")),
	), s.queryContext)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Full-text search through notes content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path (e.g. Ideas/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List the indexed notes with titles and tags."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("apply_vault_operation",
		mcp.WithDescription("Create, update, or delete one note. Content MUST follow the "+
			"canonical note format (YAML frontmatter with title, Markdown body with "+
			"[[wikilinks]]) and the path MUST sit in a taxonomy folder. Read the contract "+
			"first via the get_note_contract tool or the dagaz://note-format resource."),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of: create, update, delete")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative note path ending in .md")),
		mcp.WithString("content", mcp.Description("Markdown content (required for create/update)")),
	), s.applyVaultOperation)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the canonical Dagaz note format contract. "+
			"Call this before creating or updating notes to ensure correct structure."),
	), s.getNoteContract)

	// Resource: note format contract.
	s.mcp.AddResource(
		mcp.NewResource("dagaz://note-format", "Note Format Contract",
			mcp.WithResourceDescription("Canonical Markdown note format that all notes must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
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

func (s *Server) queryContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	batch := ""
	if b, err := req.RequireString("batch"); err == nil {
		batch = b
	}
	bundle := s.svc.QueryContext(ctx, query, batch, index.BundleOptions{
		ExpandLinks: true,
		MaxLinked:   4,
	})
	out, _ := json.MarshalIndent(bundle, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := s.svc.GetNote(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(note.Content), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.svc.ListNotes(ctx)
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Path)
		if e.Title != "" {
			sb.WriteString("\t")
			sb.WriteString(e.Title)
		}
		if len(e.Tags) > 0 {
			sb.WriteString("\t#")
			sb.WriteString(strings.Join(e.Tags, " #"))
		}
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return mcp.NewToolResultText("no notes indexed"), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) applyVaultOperation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content := ""
	if c, err := req.RequireString("content"); err == nil {
		content = c
	}

	op := vault.FileOperation{
		Action:  vault.Action(action),
		Path:    path,
		Content: content,
	}
	if err := s.svc.ApplyOperation(ctx, op); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%sd: %s", action, path)), nil
}

func (s *Server) getNoteContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "dagaz://note-format",
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}
