package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Pipeline runs queries against a named method. *orchestrator.Engine implements it.
type Pipeline interface {
	Run(ctx context.Context, methodID string, req orchestrator.Request) (*orchestrator.Result, error)
	Orchestrator(methodID string) (*orchestrator.Orchestrator, error)
	DefaultMethod() string
}

// Server is an MCP server backed by the orchestrator engine.
type Server struct {
	mcp        *mcp.Server
	pipeline   Pipeline
	metrics    *Metrics
	logger     *logging.Logger
	runTimeout time.Duration
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "veritas")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *logging.Logger

	// RunTimeout bounds each veritas_ask run; zero means no limit.
	RunTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "veritas",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(cfg *Config, p Pipeline) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = "veritas"
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    name,
				Version: version,
			},
			nil,
		),
		pipeline:   p,
		metrics:    NewMetrics(logger),
		logger:     logger.Named("mcp"),
		runTimeout: cfg.RunTimeout,
	}
	s.registerTools()
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
