// Package mcpserver exposes remend to editors over the Model Context
// Protocol. The server speaks stdio and offers read-only tools: it runs the
// validation probe, lists the configured fixers, and loads the last report
// artifact. It never mutates the working tree.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/remendlabs/remend/internal/probe"
	"github.com/remendlabs/remend/internal/registry"
)

// Server bridges MCP tool calls to the probe service and fixer registry.
type Server struct {
	mcp        *mcp.Server
	probes     probe.Service
	fixers     *registry.Registry
	reportPath string
	logger     *zap.Logger
	metrics    *Metrics
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "remend").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "remend",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over the given services. The report path
// is where report_get looks when the caller does not name a file.
func NewServer(cfg *Config, probes probe.Service, fixers *registry.Registry, reportPath string) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if probes == nil {
		return nil, fmt.Errorf("probe service is required")
	}
	if fixers == nil {
		return nil, fmt.Errorf("fixer registry is required")
	}
	if reportPath == "" {
		return nil, fmt.Errorf("report path is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:        mcpServer,
		probes:     probes,
		fixers:     fixers,
		reportPath: reportPath,
		logger:     cfg.Logger,
		metrics:    NewMetrics(cfg.Logger),
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server on the stdio transport. It returns when the
// context is canceled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport",
		zap.String("report_path", s.reportPath),
		zap.Int("fixers", s.fixers.Len()))
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
