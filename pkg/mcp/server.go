// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the running agents as Model Context Protocol tools so
// an operator (or an assistant) can inspect and steer them over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jllopis/mmopilot/pkg/agent"
	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/planner"
)

// Fleet is the view of the agents the control tools act on.
type Fleet interface {
	Agents() []*agent.Agent
	Agent(name string) (*agent.Agent, bool)
	Health() *core.HealthRegistry
}

// Server wraps the mcp-go server with the mmopilot control tools.
type Server struct {
	mcpServer *server.MCPServer
	fleet     Fleet
	audit     planner.AuditStore
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAuditStore enables the list_audit tool.
func WithAuditStore(store planner.AuditStore) Option {
	return func(s *Server) { s.audit = store }
}

// WithLogger sets the logger used for tool calls.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a server exposing fleet.
func NewServer(name, version string, fleet Fleet, opts ...Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithInstructions("Inspect and control the mmopilot character agents."),
		),
		fleet:  fleet,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// RegisterTool registers a tool with the server.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	name := tool.Name
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.logger.DebugContext(ctx, "mcp.tool.call", slog.String("tool", name))
		return handler(ctx, request)
	})
}

// ServeStdio serves the tools on stdin/stdout until ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, in, out)
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

func (s *Server) registerTools() {
	nameArg := mcp.WithString("name", mcp.Required(), mcp.Description("Character name"))

	s.RegisterTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List every agent with its phase, active rule and health"),
	), s.listAgents)
	s.RegisterTool(mcp.NewTool("agent_state",
		mcp.WithDescription("Show the loop status and the character snapshot of one agent"),
		nameArg,
	), s.agentState)
	s.RegisterTool(mcp.NewTool("evaluate_condition",
		mcp.WithDescription("Evaluate a rule condition against the current snapshot of a character"),
		nameArg,
		mcp.WithString("condition", mcp.Required(), mcp.Description("Condition, e.g. $player.hp < 50")),
	), s.evaluateCondition)
	s.RegisterTool(mcp.NewTool("stop_agent",
		mcp.WithDescription("Stop an agent: clear its queue and stop dispatching actions"),
		nameArg,
	), s.stopAgent)
	s.RegisterTool(mcp.NewTool("start_agent",
		mcp.WithDescription("Start a stopped agent from idle"),
		nameArg,
	), s.startAgent)
	s.RegisterTool(mcp.NewTool("health",
		mcp.WithDescription("Run every health check"),
	), s.health)
	if s.audit != nil {
		s.RegisterTool(mcp.NewTool("list_audit",
			mcp.WithDescription("List recent action outcomes"),
			mcp.WithString("name", mcp.Description("Only this character")),
			mcp.WithString("status", mcp.Description("completed or failed")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events, default 50")),
		), s.listAudit)
	}
}

type agentSummary struct {
	Name       string            `json:"name"`
	Phase      agent.Phase       `json:"phase"`
	Running    bool              `json:"running"`
	Queued     int               `json:"queued"`
	ActiveRule string            `json:"active_rule,omitempty"`
	Health     core.HealthStatus `json:"health"`
}

func (s *Server) listAgents(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agents := s.fleet.Agents()
	out := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		st := a.Status()
		summary := agentSummary{
			Name:       st.Name,
			Phase:      st.Phase,
			Running:    st.Running,
			Queued:     len(st.Queued),
			ActiveRule: st.ActiveRule,
		}
		if result, err := s.fleet.Health().Check(ctx, "agent:"+st.Name); err == nil {
			summary.Health = result.Status
		}
		out = append(out, summary)
	}
	return jsonResult(out)
}

func (s *Server) agentState(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, res := s.lookup(request)
	if res != nil {
		return res, nil
	}
	return jsonResult(a.Status())
}

func (s *Server) evaluateCondition(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, res := s.lookup(request)
	if res != nil {
		return res, nil
	}
	condition, err := request.RequireString("condition")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok, err := a.Evaluator().Evaluate(condition)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"condition": condition, "result": ok})
}

func (s *Server) stopAgent(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, res := s.lookup(request)
	if res != nil {
		return res, nil
	}
	a.Stop()
	return mcp.NewToolResultText(fmt.Sprintf("%s stopped", a.Name())), nil
}

func (s *Server) startAgent(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, res := s.lookup(request)
	if res != nil {
		return res, nil
	}
	if err := a.Err(); err != nil {
		return mcp.NewToolResultError(agent.NewStoppedError(a.Name(), err).Error()), nil
	}
	a.Start()
	return mcp.NewToolResultText(fmt.Sprintf("%s started", a.Name())), nil
}

func (s *Server) health(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, overall := s.fleet.Health().CheckAll(ctx)
	return jsonResult(map[string]any{"status": overall, "checks": results})
}

func (s *Server) listAudit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := planner.AuditFilter{
		Agent:  request.GetString("name", ""),
		Status: request.GetString("status", ""),
		Limit:  request.GetInt("limit", 50),
	}
	events, err := s.audit.List(ctx, filter)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "list audit events", err)
	}
	return jsonResult(events)
}

// lookup resolves the name argument. A non-nil result is the tool error to
// return instead.
func (s *Server) lookup(request mcp.CallToolRequest) (*agent.Agent, *mcp.CallToolResult) {
	name, err := request.RequireString("name")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	a, ok := s.fleet.Agent(name)
	if !ok {
		return nil, mcp.NewToolResultError(agent.NewNotFoundError(name).Error())
	}
	return a, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode tool result", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
