// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp exposes the agent tool set over the Model Context Protocol so
// external models can act on the platform as one simulated user.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/synthagora/agora/pkg/core"
	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/executor"
	"github.com/synthagora/agora/pkg/tools"
	"github.com/synthagora/agora/pkg/tracker"
)

// TurnTool starts a new turn for the served agent before it runs.
const TurnTool = "get_feed"

// ServerConfig configures a Server.
type ServerConfig struct {
	Name    string
	Version string
	// Agent is the user every call acts as.
	Agent    string
	Executor *executor.Executor
	Tracker  *tracker.Tracker
	Logger   *slog.Logger
}

// Server serves the executor's registry over MCP.
type Server struct {
	mcpServer *server.MCPServer
	exec      *executor.Executor
	tracker   *tracker.Tracker
	agent     string
	logger    *slog.Logger

	// turns serialises turn changes with the calls that depend on them.
	turns sync.Mutex
}

// NewServer registers every tool of cfg.Executor's registry.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Executor == nil || cfg.Tracker == nil {
		return nil, agerr.New(agerr.CodeInvalidInput, "mcp server needs an executor and a tracker", nil)
	}
	if cfg.Agent == "" {
		return nil, agerr.New(agerr.CodeInvalidInput, "mcp server needs an agent to act as", nil)
	}
	if cfg.Name == "" {
		cfg.Name = "agora"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(cfg.Name, cfg.Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		exec:    cfg.Executor,
		tracker: cfg.Tracker,
		agent:   cfg.Agent,
		logger:  cfg.Logger,
	}
	s.tracker.BeginTurn(s.agent, 1)

	for _, d := range cfg.Executor.Registry().ListSchemas() {
		schema, err := json.Marshal(tools.JSONSchema(d))
		if err != nil {
			return nil, agerr.New(agerr.CodeInternal, "encode tool schema", err).WithContext("tool", d.Name)
		}
		s.mcpServer.AddTool(mcp.NewToolWithRawSchema(d.Name, d.Description, schema), s.handler(d.Name))
	}
	return s, nil
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// Agent returns the user the server acts as.
func (s *Server) Agent() string { return s.agent }

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s.turns.Lock()
		defer s.turns.Unlock()

		if name == TurnTool {
			s.tracker.BeginTurn(s.agent, s.tracker.Turn(s.agent)+1)
		}
		ctx = core.WithAgent(ctx, s.agent)
		res := s.exec.Execute(ctx, s.agent, executor.Call{
			ID:        uuid.NewString(),
			Name:      name,
			Arguments: req.GetArguments(),
		})
		s.logger.DebugContext(ctx, "mcp.tool.call",
			slog.String("agent", s.agent),
			slog.String("tool", name),
			slog.String("outcome", string(res.Outcome())),
		)
		if res.Outcome() != executor.OutcomeSuccess {
			return mcp.NewToolResultError(res.Text()), nil
		}
		return mcp.NewToolResultText(res.Text()), nil
	}
}

// ServeStdio serves the tools on stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeStreamableHTTP serves the tools over streamable HTTP on addr.
func (s *Server) ServeStreamableHTTP(addr string) error {
	return server.NewStreamableHTTPServer(s.mcpServer).Start(addr)
}
