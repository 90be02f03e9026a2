package github

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/indexer"
)

// Uploader ingests one document.
type Uploader interface {
	UploadReader(ctx context.Context, name string, r io.Reader, progress indexer.ProgressFunc) (*document.Document, error)
}

// DocumentLister lists the documents already ingested.
type DocumentLister interface {
	List() []document.Document
}

// FailedDoc records a document that failed to import.
type FailedDoc struct {
	Path   string
	Reason string
}

// ImportResult summarizes an import run.
type ImportResult struct {
	TotalDocs      int
	SuccessfulDocs int
	SkippedDocs    int
	TotalChunks    int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// Importer uploads every matching file of a repository directory.
type Importer struct {
	fetcher  *Fetcher
	uploader Uploader
	lister   DocumentLister
	logger   *slog.Logger
}

// NewImporter creates an importer. lister may be nil, in which case nothing is skipped.
func NewImporter(fetcher *Fetcher, uploader Uploader, lister DocumentLister, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{fetcher: fetcher, uploader: uploader, lister: lister, logger: logger}
}

// DocumentName is the registry name of an imported file: the repository path
// prefixed with owner and repository.
func (imp *Importer) DocumentName(relativePath string) string {
	return path.Join(imp.fetcher.source.String(), relativePath)
}

// Import uploads each listed file. Files whose name matches a ready document are
// skipped unless force is set. A failing file is recorded and the run continues;
// only listing failures and cancellation abort it.
func (imp *Importer) Import(ctx context.Context, force bool) (*ImportResult, error) {
	start := time.Now()
	result := &ImportResult{}

	paths, err := imp.fetcher.ListDocs(ctx)
	if err != nil {
		return nil, err
	}
	result.TotalDocs = len(paths)
	imp.logger.Info("Found documents to import", "source", imp.fetcher.source.String(), "count", len(paths))

	existing := imp.readyNames()

	for i, relPath := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		name := imp.DocumentName(relPath)
		if existing[name] && !force {
			result.SkippedDocs++
			imp.logger.Debug("Skipping already imported document", "name", name)
			continue
		}

		imp.logger.Info("Importing document", "progress", i+1, "total", len(paths), "path", relPath)

		fetched, err := imp.fetcher.FetchDoc(ctx, relPath)
		if err != nil {
			imp.logger.Warn("Failed to fetch document", "path", relPath, "error", err)
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: relPath, Reason: err.Error()})
			continue
		}

		doc, err := imp.uploader.UploadReader(ctx, name, bytes.NewReader(fetched.Content), nil)
		switch {
		case err != nil:
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: relPath, Reason: err.Error()})
		case doc.Status != document.StatusReady:
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: relPath, Reason: doc.Error})
		default:
			result.SuccessfulDocs++
			result.TotalChunks += doc.TotalChunks
		}
	}

	result.Duration = time.Since(start)
	imp.logger.Info("Import complete",
		"successful", result.SuccessfulDocs, "skipped", result.SkippedDocs,
		"failed", len(result.FailedDocs), "chunks", result.TotalChunks, "duration", result.Duration)
	return result, nil
}

func (imp *Importer) readyNames() map[string]bool {
	names := make(map[string]bool)
	if imp.lister == nil {
		return names
	}
	for _, doc := range imp.lister.List() {
		if doc.Status == document.StatusReady {
			names[doc.Name] = true
		}
	}
	return names
}
