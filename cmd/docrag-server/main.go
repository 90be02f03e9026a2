// Package main provides the docrag MCP server entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/docrag/internal/app"
	"github.com/bull/docrag/internal/config"
	mcpserver "github.com/bull/docrag/internal/mcp"
)

func main() {
	configPath := flag.String("config", "", "configuration file (.toml or .yaml)")
	flag.Parse()

	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		slog.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// stdout carries the stdio transport, so logs always go to stderr.
	logger := app.NewLogger(cfg, os.Stderr)
	slog.SetDefault(logger)

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Load the embedding model in the background so the first query does not wait.
	go func() {
		if err := a.Embeddings.Warmup(ctx); err != nil {
			logger.Warn("Embedding model not ready", "error", err)
		}
	}()

	stdio := cfg.Server.Mode != "http"
	server := mcpserver.NewServer(&mcpserver.Config{
		Documents:   a.Registry,
		Ingester:    a.Pipeline,
		Retriever:   a.Orchestrator,
		Model:       a.Embeddings,
		AllowUpload: stdio,
	})
	health := mcpserver.NewHealthHandler(a.Index, a.Embeddings)
	mux := mcpserver.NewMux(server, health, &mcpserver.HTTPHandlerOptions{Stateless: cfg.Server.Stateless})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if !stdio {
		// HTTP mode: serve MCP over HTTP for remote clients
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	}

	// Stdio mode: also serve health in the background for local testing
	go func() {
		logger.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting docrag MCP server (stdio mode)", "data_dir", cfg.DataDir)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
