// Stratad is the strata knowledge daemon.
//
// It serves the HTTP API and, when configured, watches a drop directory for
// files to ingest. With --mcp-stdio it instead speaks the Model Context
// Protocol on stdin/stdout for direct agent attachment.
//
// Usage:
//
//	# Start the HTTP server with ~/.config/strata/config.yaml
//	stratad
//
//	# Explicit config file
//	stratad --config ./strata.yaml
//
//	# MCP over stdio, scoped to one workspace
//	stratad --mcp-stdio --workspace acme --agent planner
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/app"
	"github.com/fyrsmithlabs/strata/internal/config"
	"github.com/fyrsmithlabs/strata/pkg/mcp"
	"github.com/fyrsmithlabs/strata/pkg/server"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file path (default ~/.config/strata/config.yaml)")
	mcpStdio := flag.Bool("mcp-stdio", false, "serve MCP on stdin/stdout instead of HTTP")
	workspace := flag.String("workspace", "", "tenant workspace for --mcp-stdio")
	agent := flag.String("agent", "", "default agent for --mcp-stdio")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  stratad            Start the strata daemon\n")
			fmt.Fprintf(os.Stderr, "  stratad version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *mcpStdio, *workspace, *agent); err != nil {
		log.Fatalf("stratad: %v", err)
	}
}

func printVersion() {
	fmt.Printf("stratad\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run builds the stack and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string, mcpStdio bool, workspace, agent string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if mcpStdio {
		// Stdout carries the MCP protocol; logs must not interleave.
		cfg.Logging.Stderr = true
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.Close(context.Background())
	}()

	logger := a.Logger

	if mcpStdio {
		if workspace == "" {
			return errors.New("--mcp-stdio requires --workspace")
		}
		srv, err := mcp.NewServer(mcp.Config{
			Version:   version,
			Workspace: workspace,
			Agent:     agent,
			Logger:    logger.Underlying(),
		}, a.Service)
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		logger.Info(ctx, "serving MCP on stdio",
			zap.String("workspace", workspace),
			zap.String("version", version))
		return srv.Run(ctx)
	}

	logger.Info(ctx, "starting stratad",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("backend", cfg.Store.Backend),
		zap.String("provider", cfg.Gateway.Provider))

	if a.Watcher != nil {
		go func() {
			if err := a.Watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "watcher stopped", zap.Error(err))
			}
		}()
		logger.Info(ctx, "watching drop directory", zap.String("dir", cfg.Watcher.Dir))
	}

	srv := server.NewServer(server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
	}, a.Service, logger)

	err = srv.Start(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		logger.Info(ctx, "server shutdown complete")
		return nil
	}
	return err
}
