package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/errsheet/internal/report"
	"github.com/kalambet/errsheet/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *harness) {
	t.Helper()
	h := newHarness(t)
	return MCPDeps{
		Workflow: h.deps.Direct,
		Store:    h.store,
		Session:  h.session,
	}, h
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestMCPTool_SubmitReport(t *testing.T) {
	deps, h := newTestMCPDeps(t)
	handler := mcpSubmitReport(deps)

	result, err := handler(context.Background(), makeCallToolRequest("submit_error_report", map[string]any{
		"title":        "Login button broken",
		"error_type":   "UI Bug",
		"evidence_url": "http://example.com/x",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "Report appended to ErrorReports!A2:E2") {
		t.Errorf("text = %q", toolText(t, result))
	}
	if got := h.appender.lastEvidence(t); got != "URL: http://example.com/x" {
		t.Errorf("evidence = %v", got)
	}
}

func TestMCPTool_SubmitReport_MissingTitle(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpSubmitReport(deps)

	result, err := handler(context.Background(), makeCallToolRequest("submit_error_report", map[string]any{
		"error_type": "UI Bug",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected a tool error")
	}
}

func TestMCPTool_SubmitReport_RemoteFailure(t *testing.T) {
	deps, h := newTestMCPDeps(t)
	h.appender.err = errors.New("quota exceeded")

	result, _ := mcpSubmitReport(deps)(context.Background(), makeCallToolRequest("submit_error_report", map[string]any{
		"title":      "t",
		"error_type": "Other",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "quota exceeded") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPTool_SessionStatus(t *testing.T) {
	deps, h := newTestMCPDeps(t)
	h.session.signedIn = false

	result, _ := mcpSessionStatus(deps)(context.Background(), makeCallToolRequest("session_status", nil))
	if toolText(t, result) != "not signed in" {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPResource_Recent(t *testing.T) {
	deps, h := newTestMCPDeps(t)
	h.store.SaveSubmission(storage.Submission{ID: "sub-1"})
	h.store.CompleteSubmission("sub-1", "ErrorReports!A2:E2")

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest("errsheet://submissions/recent"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text

	var got []map[string]string
	if err := json.Unmarshal([]byte(text), &got); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "sub-1" || got[0]["status"] != storage.StatusAppended {
		t.Errorf("resource = %v", got)
	}
}

func TestMCPResource_ErrorTypes(t *testing.T) {
	contents, err := mcpResourceErrorTypes()(context.Background(), makeReadResourceRequest("errsheet://error-types"))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	json.Unmarshal([]byte(contents[0].(mcp.TextResourceContents).Text), &got)
	if len(got) != len(report.ErrorTypes) {
		t.Errorf("got %v", got)
	}
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps, "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}
