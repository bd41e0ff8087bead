package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/dagaz/internal/index"
	"github.com/starford/dagaz/internal/noteservice"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/queue"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/testutil"
	"github.com/starford/dagaz/internal/vault"
)

type procStub struct{}

func (procStub) Process(context.Context, []byte, string, pipeline.Context) (*pipeline.Result, error) {
	return nil, errors.New("not used")
}

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()

	_, store := testutil.TestVault(t)
	qs := testutil.TestQueueDB(t)

	engine := index.NewEngine(store, nil, nil)
	writer := vault.NewWriter(store, nil)
	coord := queue.NewCoordinator(qs, store, procStub{}, writer, engine, nil)
	svc := noteservice.NewService(store, engine, qs, coord)
	return New(svc), store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "query_context":
		result, err = srv.queryContext(ctx, req)
	case "search_notes":
		result, err = srv.searchNotes(ctx, req)
	case "read_note":
		result, err = srv.readNote(ctx, req)
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "apply_vault_operation":
		result, err = srv.applyVaultOperation(ctx, req)
	case "get_note_contract":
		result, err = srv.getNoteContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestApplyAndReadNote(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "apply_vault_operation", map[string]interface{}{
		"action":  "create",
		"path":    "Ideas/test.md",
		"content": "# Test\nHello",
	})
	if text := resultText(r); text != "created: Ideas/test.md" {
		t.Errorf("create result = %q", text)
	}

	r = callTool(t, srv, "read_note", map[string]interface{}{
		"path": "Ideas/test.md",
	})
	if text := resultText(r); text != "# Test\nHello" {
		t.Errorf("read result = %q", text)
	}
}

func TestApplyRejectsPipelineFiles(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "apply_vault_operation", map[string]interface{}{
		"action":  "create",
		"path":    "Scans/evil.md",
		"content": "nope",
	})
	if !r.IsError {
		t.Error("expected error writing into Scans/")
	}
}

func TestListNotes(t *testing.T) {
	srv, _ := testServer(t)
	_ = callTool(t, srv, "apply_vault_operation", map[string]interface{}{
		"action":  "create",
		"path":    "Ideas/a.md",
		"content": "---\ntitle: Alpha\ntags:\n  - greek\n---\n\nbody\n",
	})

	r := callTool(t, srv, "list_notes", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "Ideas/a.md") || !strings.Contains(text, "Alpha") {
		t.Errorf("list = %q", text)
	}
}

func TestReadNoteMissing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "read_note", map[string]interface{}{"path": "Ideas/nope.md"})
	if !r.IsError {
		t.Error("expected error for missing note")
	}
}

func TestQueryContext(t *testing.T) {
	srv, _ := testServer(t)
	_ = callTool(t, srv, "apply_vault_operation", map[string]interface{}{
		"action":  "create",
		"path":    "Ideas/kiln.md",
		"content": "---\ntitle: Kiln firing\n---\n\ncone six schedule\n",
	})

	r := callTool(t, srv, "query_context", map[string]interface{}{"query": "kiln"})
	var bundle index.ContextBundle
	if err := json.Unmarshal([]byte(resultText(r)), &bundle); err != nil {
		t.Fatalf("bundle not JSON: %v", err)
	}
	if len(bundle.Notes) != 1 || bundle.Notes[0].Path != "Ideas/kiln.md" {
		t.Errorf("bundle = %+v", bundle.Notes)
	}

	// No grounding available: empty bundle, still valid JSON.
	r = callTool(t, srv, "query_context", map[string]interface{}{"query": "zymurgy"})
	if err := json.Unmarshal([]byte(resultText(r)), &bundle); err != nil {
		t.Fatalf("bundle not JSON: %v", err)
	}
	if len(bundle.Notes) != 0 {
		t.Errorf("no-match bundle = %+v", bundle.Notes)
	}
}

func TestGetNoteContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_note_contract", map[string]interface{}{})
	text := resultText(r)
	if !strings.Contains(text, "Daily/") || !strings.Contains(text, "frontmatter") {
		t.Errorf("contract missing sections: %q", text[:80])
	}
}
