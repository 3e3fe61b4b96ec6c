// Package mcp exposes the knowledge service as MCP tools over the stdio
// transport, for agent runtimes that speak the Model Context Protocol.
package mcp

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Knowledge is the slice of the knowledge service the tools call.
type Knowledge interface {
	Ingest(ctx context.Context, res knowledge.Resource) (string, error)
	Search(ctx context.Context, query string, f filter.Expr, topK int) ([]retrieval.Result, error)
	GetLayer(ctx context.Context, uri, layer string) (knowledge.Layer, error)
}

// Config configures the MCP server.
type Config struct {
	// Name and Version identify the implementation to clients.
	Name    string
	Version string

	// Workspace and Agent are the default tenant scope for tool calls.
	// Individual calls may override the agent, never the workspace.
	Workspace string
	Agent     string

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "strata"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Server wires the strata tools onto an MCP server.
type Server struct {
	cfg    Config
	mcp    *mcp.Server
	svc    Knowledge
	logger *zap.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(cfg Config, svc Knowledge) (*Server, error) {
	cfg.applyDefaults()
	if svc == nil {
		return nil, fmt.Errorf("knowledge service is required")
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}

	s := &Server{
		cfg: cfg,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:    svc,
		logger: cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.String("workspace", s.cfg.Workspace))
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// scoped builds a tenant-scoped context for one tool call.
func (s *Server) scoped(ctx context.Context, agent string) (context.Context, error) {
	if agent == "" {
		agent = s.cfg.Agent
	}
	return tenant.ContextWithScope(ctx, tenant.Scope{
		Workspace: s.cfg.Workspace,
		Agent:     agent,
	})
}
