// Package mcp exposes a read-only Model Context Protocol surface for
// operator tooling: workflow status digests, execution traces, and the
// agent catalog. Nothing registered here can dispatch a workflow.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/gcolon75/valine-orchestrator/internal/registry"
	"github.com/gcolon75/valine-orchestrator/internal/status"
	"github.com/gcolon75/valine-orchestrator/internal/tracestore"
)

// Server wraps the MCP server with the orchestrator's read-only services.
type Server struct {
	mcpServer *mcpserver.MCPServer
	traces    *tracestore.Store
	agents    *registry.Registry
	status    *status.Aggregator
	logger    *slog.Logger
}

// New creates and configures the ops MCP server with all tools registered.
func New(traces *tracestore.Store, agents *registry.Registry, agg *status.Aggregator, logger *slog.Logger) *Server {
	s := &Server{
		traces: traces,
		agents: agents,
		status: agg,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"valine-orchestrator",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("status_digest",
			mcplib.WithDescription("Windowed success/failure digest across the configured workflows"),
			mcplib.WithString("window", mcplib.Description("Digest window: daily or weekly")),
		),
		s.handleStatusDigest,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("latest_trace",
			mcplib.WithDescription("The most recent execution trace recorded for a chat user"),
			mcplib.WithString("user_id", mcplib.Description("Chat user ID"), mcplib.Required()),
		),
		s.handleLatestTrace,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("list_agents",
			mcplib.WithDescription("The bot's capability catalog"),
		),
		s.handleListAgents,
	)
}

func (s *Server) handleStatusDigest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	window := status.Window(request.GetString("window", string(status.WindowDaily)))
	digest, err := s.status.Digest(ctx, window)
	if err != nil {
		return errorResult(fmt.Sprintf("digest failed: %v", err)), nil
	}
	return jsonResult(digest)
}

func (s *Server) handleLatestTrace(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID := request.GetString("user_id", "")
	if userID == "" {
		return errorResult("user_id is required"), nil
	}
	tr, ok := s.traces.LatestTraceForUser(userID)
	if !ok {
		return errorResult(fmt.Sprintf("no traces recorded for user %s", userID)), nil
	}
	return jsonResult(tr)
}

func (s *Server) handleListAgents(context.Context, mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(map[string]any{"agents": s.agents.Agents()})
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
