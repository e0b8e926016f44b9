// Veritasd is the veritas research pipeline daemon.
//
// It loads methods and prompts from disk, connects the configured LLM and
// retrieval backends, and serves the pipeline over HTTP or, with --mcp, as an
// MCP server on stdio.
//
// Usage:
//
//	# Start the HTTP API with the default config file
//	veritasd
//
//	# Serve MCP on stdio
//	veritasd --mcp
//
//	# Override settings through the environment
//	VERITAS_SERVER_PORT=9090 VERITAS_LLM_PROVIDER=openai veritasd --config configs/veritas.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/makr-code/VCC-Veritas-sub002/internal/config"
	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"go.uber.org/zap"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/veritas.yaml", "path to the config file")
	mcpMode := flag.Bool("mcp", false, "serve MCP on stdio instead of HTTP")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  veritasd [--config file] [--mcp]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  veritasd version                   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *mcpMode); err != nil {
		fmt.Fprintf(os.Stderr, "veritasd: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("veritasd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string, mcpMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging, mcpMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info(ctx, "veritasd starting",
		zap.String("version", version),
		zap.String("default_method", cfg.Methods.Default),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("rag_provider", cfg.RAG.Provider),
		zap.Bool("supervisor", cfg.Supervisor.Enabled),
		zap.Bool("nats", app.nc != nil),
		zap.Bool("mcp", mcpMode),
	)

	if cfg.Methods.Watch {
		go func() {
			if err := app.methods.Watch(ctx); err != nil {
				logger.Warn(ctx, "method watcher stopped", zap.Error(err))
			}
		}()
	}

	if mcpMode {
		return serveMCP(ctx, cfg, app, logger)
	}
	return serveHTTP(ctx, cfg, app, logger)
}

func newLogger(c config.LoggingConfig, stderr bool) (*logging.Logger, error) {
	logCfg, err := logging.FromAppConfig(c)
	if err != nil {
		return nil, err
	}
	logCfg.Stderr = stderr
	return logging.NewLogger(logCfg, nil)
}

func serveHTTP(ctx context.Context, cfg *config.Config, app *app, logger *logging.Logger) error {
	srv, err := app.httpServer(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "veritasd stopped")
	return nil
}

func serveMCP(ctx context.Context, cfg *config.Config, app *app, logger *logging.Logger) error {
	srv, err := app.mcpServer(cfg, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "veritasd MCP stdio mode started (default method %s)\n", cfg.Methods.Default)
	return srv.Run(ctx)
}
