// Package main provides the docrag CLI for ingesting documents and querying them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/app"
	"github.com/bull/docrag/internal/config"
)

var (
	configPath string
	dataDir    string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Question answering over your own documents",
	Long: `docrag ingests PDF, text and Markdown documents into a local vector index
and answers questions from them.

Configuration is read from docrag.toml or docrag.yaml in the working directory,
or the file named by --config or DOCRAG_CONFIG. Environment variables override it:
  DOCRAG_DATA_DIR     Data directory
  DOCRAG_STORAGE      Storage backend: json, sqlite or qdrant
  DOCRAG_EMBEDDING    Embedding provider: hash, openai or ollama
  OPENAI_API_KEY      OpenAI API key (enables ask)
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  GITHUB_TOKEN        GitHub token for import-github (optional)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (.toml or .yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides configuration)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	// Load .env file if present (local development), ignore if missing
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// openApp loads the configuration and wires the components. Logs go to stderr
// so command output stays on stdout.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.Open(cmd.Context(), cfg, app.NewLogger(cfg, os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("open data directory %s: %w", cfg.DataDir, err)
	}
	return a, nil
}
