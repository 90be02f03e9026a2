// Package app assembles the docrag components from a configuration. Both
// binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bull/docrag/internal/blob"
	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/config"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/indexer"
	"github.com/bull/docrag/internal/metadata"
	"github.com/bull/docrag/internal/parser"
	"github.com/bull/docrag/internal/rag"
	"github.com/bull/docrag/internal/storage"
)

// App holds the wired components.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Index        storage.VectorIndex
	Registry     *indexer.Registry
	Pipeline     *indexer.Pipeline
	Orchestrator *rag.Orchestrator
	Embeddings   *embedding.Provider
	Parsers      *parser.Registry
	Files        *blob.FileStore

	closers []io.Closer
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open creates the data directory, opens storage and recovers documents left
// processing by an earlier run. Close releases everything Open acquired.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Parsers: parser.NewRegistry()}
	if cfg.PDFCommand != "" {
		a.Parsers.Register(".pdf", &parser.PDFParser{Command: cfg.PDFCommand})
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	docs, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	if a.Registry, err = indexer.OpenRegistry(ctx, docs, a.Index, logger); err != nil {
		return nil, err
	}
	if n, err := a.Registry.RecoverInterrupted(ctx); err != nil {
		return nil, fmt.Errorf("recover interrupted ingestions: %w", err)
	} else if n > 0 {
		logger.Warn("Recovered interrupted ingestions", "documents", n)
	}

	if a.Files, err = blob.NewFileStore(cfg.UploadsDir()); err != nil {
		return nil, err
	}

	model, err := newEmbeddingModel(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	a.Embeddings = embedding.NewProvider(model, embedding.Config{
		MaxInputLength: cfg.Embedding.MaxInputLength,
		InitAttempts:   cfg.Embedding.InitAttempts,
		InitTimeout:    time.Duration(cfg.Embedding.InitTimeoutSecs) * time.Second,
		Concurrency:    cfg.Embedding.Concurrency,
	}, logger)

	var enricher indexer.Enricher
	if cfg.Metadata.Enabled {
		gen, err := metadata.NewGenerator(metadata.Config{
			APIKey:  cfg.Generation.APIKey,
			BaseURL: cfg.Generation.BaseURL,
			Model:   cfg.Metadata.Model,
		}, logger)
		if err != nil {
			return nil, err
		}
		enricher = gen
	}

	chunks := chunker.New(
		chunker.WithChunkSize(cfg.Chunker.Size),
		chunker.WithOverlap(cfg.Chunker.Overlap),
		chunker.WithMinLength(cfg.Chunker.MinLength),
	)
	a.Pipeline = indexer.NewPipeline(a.Registry, a.Files, a.Parsers, chunks, a.Embeddings, a.Index, enricher, logger)

	var generator rag.Generator
	if cfg.Generation.Provider != "" {
		gen, err := rag.NewOpenAIGenerator(rag.OpenAIConfig{
			APIKey:      cfg.Generation.APIKey,
			BaseURL:     cfg.Generation.BaseURL,
			Model:       cfg.Generation.Model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		generator = gen
	}
	a.Orchestrator = rag.NewOrchestrator(a.Embeddings, a.Index, generator, logger)

	logger.Debug("Components ready",
		"storage", cfg.Storage.Backend, "embedding", model.Name(), "data_dir", cfg.DataDir)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) (storage.DocumentStore, error) {
	cfg := a.Config

	switch cfg.Storage.Backend {
	case config.BackendJSON:
		idx, err := storage.OpenIndex(ctx, storage.NewJSONFileBackend(cfg.IndexPath()), a.Logger)
		if err != nil {
			return nil, err
		}
		a.Index = idx
		a.closers = append(a.closers, idx)

		docs, err := storage.OpenJSONDocumentStore(cfg.DocumentsPath())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, docs)
		return docs, nil

	case config.BackendSQLite, config.BackendQdrant:
		db, err := storage.OpenSQLiteStore(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db)

		if cfg.Storage.Backend == config.BackendSQLite {
			idx, err := storage.OpenIndex(ctx, db.IndexBackend(), a.Logger)
			if err != nil {
				return nil, err
			}
			a.Index = idx
		} else {
			q := cfg.Storage.Qdrant
			idx, err := storage.NewQdrantIndex(ctx, storage.QdrantConfig{
				Host:       q.Host,
				Port:       q.Port,
				APIKey:     q.APIKey,
				UseTLS:     q.UseTLS,
				Collection: q.Collection,
			}, a.Logger)
			if err != nil {
				return nil, err
			}
			a.Index = idx
			a.closers = append(a.closers, idx)
		}
		return db.DocumentStore(), nil
	}
	return nil, fmt.Errorf("%w: unknown storage backend %q", config.ErrInvalid, cfg.Storage.Backend)
}

func newEmbeddingModel(cfg config.EmbeddingConfig) (embedding.Model, error) {
	switch cfg.Provider {
	case config.EmbeddingOpenAI:
		return embedding.NewOpenAIModel(embedding.OpenAIConfig{
			APIKey:            cfg.APIKey,
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			RequestsPerSecond: cfg.RequestsPerSecond,
		})
	case config.EmbeddingOllama:
		return embedding.NewOllamaModel(embedding.OllamaConfig{
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Pull:              cfg.OllamaPull,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case config.EmbeddingHash:
		return embedding.NewHashModel(cfg.Dimension), nil
	}
	return nil, fmt.Errorf("%w: unknown embedding provider %q", config.ErrInvalid, cfg.Provider)
}

// Close releases storage in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
