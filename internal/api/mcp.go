package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/errsheet/internal/report"
	"github.com/kalambet/errsheet/internal/storage"
	"github.com/kalambet/errsheet/internal/workflow"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Workflow *workflow.Workflow
	Store    *storage.Store
	Session  Session
}

// NewMCPServer creates an MCP server exposing report submission as a tool.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"errsheet",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("errsheet files error reports as rows in a Google Sheet."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("submit_error_report",
			mcp.WithDescription("Append an error report to the configured Google Sheet. Sign-in happens in the browser if no session exists."),
			mcp.WithString("title", mcp.Description("Short summary of the error"), mcp.Required()),
			mcp.WithString("error_type", mcp.Description("Error category, usually one of: "+strings.Join(report.ErrorTypes, ", ")), mcp.Required()),
			mcp.WithString("description", mcp.Description("What happened and how to reproduce it")),
			mcp.WithString("evidence_url", mcp.Description("Link to a screenshot, log or recording")),
		),
		mcpSubmitReport(deps),
	)

	s.AddTool(
		mcp.NewTool("session_status",
			mcp.WithDescription("Report whether a Google session exists."),
		),
		mcpSessionStatus(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"errsheet://submissions/recent",
			"Recent Submissions",
			mcp.WithResourceDescription("Last 10 submission attempts (metadata only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"errsheet://error-types",
			"Error Types",
			mcp.WithResourceDescription("Error categories offered by the report form"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceErrorTypes(),
	)

	return s
}

func mcpSubmitReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		title, err := req.RequireString("title")
		if err != nil {
			return mcpError("title is required"), nil
		}
		errorType, err := req.RequireString("error_type")
		if err != nil {
			return mcpError("error_type is required"), nil
		}

		out, err := submit(ctx, deps.Workflow, SubmitRequest{
			Title:       title,
			ErrorType:   errorType,
			Description: req.GetString("description", ""),
			EvidenceURL: req.GetString("evidence_url", ""),
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if out.Err != nil {
			if errors.Is(out.Err, workflow.ErrMissingField) {
				return mcpError(out.Message()), nil
			}
			return mcpError(fmt.Sprintf("%s (submission %s: %v)", out.Message(), out.ID, out.Err)), nil
		}

		return mcpText(fmt.Sprintf("Report appended to %s (submission %s)", out.UpdatedRange, out.ID)), nil
	}
}

func mcpSessionStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Session.SignedIn() {
			return mcpText("signed in"), nil
		}
		return mcpText("not signed in"), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		subs, err := deps.Store.ListSubmissions(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list submissions: %w", err)
		}

		type submissionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Status    string `json:"status"`
			Range     string `json:"updated_range,omitempty"`
		}

		summaries := make([]submissionSummary, len(subs))
		for i, sub := range subs {
			summaries[i] = submissionSummary{
				ID:        sub.ID,
				CreatedAt: sub.CreatedAt.Format(time.RFC3339),
				Status:    sub.Status,
				Range:     sub.UpdatedRange,
			}
		}

		return jsonResource(req.Params.URI, summaries)
	}
}

func mcpResourceErrorTypes() server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return jsonResource(req.Params.URI, report.ErrorTypes)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
