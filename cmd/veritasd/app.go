package main

import (
	"context"
	"fmt"
	"time"

	"github.com/makr-code/VCC-Veritas-sub002/internal/agents"
	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	httpserver "github.com/makr-code/VCC-Veritas-sub002/internal/http"
	"github.com/makr-code/VCC-Veritas-sub002/internal/llm"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/mcp"
	"github.com/makr-code/VCC-Veritas-sub002/internal/method"
	"github.com/makr-code/VCC-Veritas-sub002/internal/orchestrator"
	"github.com/makr-code/VCC-Veritas-sub002/internal/rag"
	"github.com/makr-code/VCC-Veritas-sub002/internal/secrets"
	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
	"github.com/makr-code/VCC-Veritas-sub002/internal/supervisor"
	"github.com/makr-code/VCC-Veritas-sub002/internal/telemetry"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// app holds the long-lived collaborators of the daemon.
type app struct {
	engine    *orchestrator.Engine
	methods   *method.Store
	telemetry *telemetry.Telemetry
	nc        *nats.Conn
	logger    *logging.Logger
}

// newApp connects every backend named in cfg. Retrieval and NATS failures are
// fatal; telemetry exporter failures only degrade.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{logger: logger}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.Degraded(); err != nil {
		logger.Warn(ctx, "telemetry degraded, continuing without exporters", zap.Error(err))
	}
	a.telemetry = tel

	gen, err := llm.NewClient(cfg.LLM, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	retriever, store, err := rag.New(ctx, cfg.RAG, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize retrieval: %w", err)
	}
	if store != nil && cfg.RAG.SeedDir != "" {
		if err := seed(ctx, store, cfg.RAG.SeedDir, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.methods = method.NewStore(cfg.Methods.Dir, cfg.Methods.PromptsDir, logger)

	deps := orchestrator.Deps{Generator: gen, Retriever: retriever}
	if cfg.Supervisor.Enabled {
		deps.Supervisor = supervisor.NewLLM(gen, supervisor.LLMConfig{
			Model:      cfg.Supervisor.Model,
			Timeout:    cfg.LLM.Timeout.Duration(),
			AgentTypes: cfg.Supervisor.AgentTypes,
		}, logger)
		deps.Runner = agents.NewLLMRunner(gen, agents.LLMRunnerConfig{
			Model:   cfg.Supervisor.AgentModel,
			Timeout: cfg.LLM.Timeout.Duration(),
		})
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithTracer(tel.Tracer("veritas/orchestrator")),
		orchestrator.WithDefaultConfidence(cfg.Pipeline.DefaultConfidence),
		orchestrator.WithRetryBaseDelay(cfg.Pipeline.RetryBaseDelay.Duration()),
		orchestrator.WithMaxAgentConcurrency(cfg.Pipeline.MaxAgentConcurrency),
		orchestrator.WithAgentTimeout(cfg.Supervisor.AgentTimeout.Duration()),
		orchestrator.WithBufferSize(cfg.Stream.BufferSize),
	}

	if cfg.Pipeline.ScrubQueries {
		scrubber, err := secrets.New(nil, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to build query scrubber: %w", err)
		}
		opts = append(opts, orchestrator.WithEnricher(scrubber))
	}

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("veritasd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.nc = nc
		opts = append(opts, orchestrator.WithSink(stream.NewNATSSink(nc, cfg.NATS.SubjectPrefix)))
	}

	a.engine = orchestrator.NewEngine(a.methods, cfg.Methods.Default, deps, opts...)

	if _, err := a.engine.Orchestrator(""); err != nil {
		logger.Warn(ctx, "default method failed to load; requests for it will fail until it is fixed",
			zap.String("method_id", cfg.Methods.Default), zap.Error(err))
	}
	return a, nil
}

// seed loads the seed directory into an empty store.
func seed(ctx context.Context, store *rag.Store, dir string, logger *logging.Logger) error {
	if n := store.Count(); n > 0 {
		logger.Info(ctx, "rag store already populated, skipping seed", zap.Int("passages", n))
		return nil
	}
	passages, err := rag.LoadSeedDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read seed directory: %w", err)
	}
	if err := store.AddPassages(ctx, passages); err != nil {
		return fmt.Errorf("failed to seed rag store: %w", err)
	}
	logger.Info(ctx, "rag store seeded", zap.String("dir", dir), zap.Int("passages", len(passages)))
	return nil
}

func (a *app) httpServer(cfg *config.Config) (*httpserver.Server, error) {
	var opts []httpserver.Option
	if a.nc != nil {
		opts = append(opts, httpserver.WithEvents(a.nc, cfg.NATS.SubjectPrefix))
	}
	return httpserver.NewServer(a.engine, a.logger, &httpserver.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Version:    version,
		RunTimeout: cfg.Pipeline.RunTimeout.Duration(),
	}, opts...)
}

func (a *app) mcpServer(cfg *config.Config, logger *logging.Logger) (*mcp.Server, error) {
	return mcp.NewServer(&mcp.Config{
		Name:       "veritas",
		Version:    version,
		Logger:     logger,
		RunTimeout: cfg.Pipeline.RunTimeout.Duration(),
	}, a.engine)
}

// Close releases the NATS connection and flushes telemetry.
func (a *app) Close() {
	ctx := context.Background()
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn(ctx, "nats drain failed", zap.Error(err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}
}
