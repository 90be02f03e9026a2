package indexer

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/storage"
)

var (
	// ErrNotFound is returned for an unknown document ID.
	ErrNotFound = storage.ErrNotFound

	// ErrNoContent means a document has no indexed chunks to reconstruct text from.
	ErrNoContent = errors.New("document has no indexed content")
)

// interruptedMessage is recorded on documents left processing by a previous run.
const interruptedMessage = "ingestion interrupted before completion"

// DocumentContent is a document's text rebuilt from its indexed chunks.
type DocumentContent struct {
	Content    string `json:"content"`
	TotalPages int    `json:"totalPages"`
}

// Registry is the authoritative list of document records. Every change is
// written through to the DocumentStore before it becomes visible.
type Registry struct {
	store  storage.DocumentStore
	index  storage.VectorIndex
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	docs map[string]document.Document
}

// OpenRegistry loads all records from store.
func OpenRegistry(ctx context.Context, store storage.DocumentStore, index storage.VectorIndex, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}

	logger.Info("Document registry loaded", "documents", len(docs))
	return &Registry{
		store:  store,
		index:  index,
		logger: logger,
		now:    time.Now,
		docs:   docs,
	}, nil
}

// Create registers a new document in the processing state.
func (r *Registry) Create(ctx context.Context, name string) (document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.newID()
	if err != nil {
		return document.Document{}, err
	}

	now := r.now()
	doc := document.Document{
		ID:        id,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    document.StatusProcessing,
	}
	if err := r.store.Put(ctx, doc); err != nil {
		return document.Document{}, fmt.Errorf("save document: %w", err)
	}
	r.docs[id] = doc
	return doc, nil
}

// newID returns a time-ordered UUIDv7 not already in use. Callers hold mu.
func (r *Registry) newID() (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate document id: %w", err)
		}
		if _, taken := r.docs[id.String()]; !taken {
			return id.String(), nil
		}
	}
	return "", fmt.Errorf("generate document id: repeated collisions")
}

// Update persists doc, stamping UpdatedAt.
func (r *Registry) Update(ctx context.Context, doc document.Document) (document.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[doc.ID]; !ok {
		return doc, fmt.Errorf("%w: document %s", ErrNotFound, doc.ID)
	}

	doc.UpdatedAt = r.now()
	if err := r.store.Put(ctx, doc); err != nil {
		return doc, fmt.Errorf("save document: %w", err)
	}
	r.docs[doc.ID] = doc
	return doc, nil
}

// Remove deletes the record for id.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	delete(r.docs, id)
	return nil
}

// Get returns the record for id.
func (r *Registry) Get(id string) (document.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return document.Document{}, fmt.Errorf("%w: document %s", ErrNotFound, id)
	}
	return doc, nil
}

// List returns all records, most recently updated first.
func (r *Registry) List() []document.Document {
	r.mu.RLock()
	docs := make([]document.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	r.mu.RUnlock()

	slices.SortFunc(docs, func(a, b document.Document) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return docs
}

// Stats counts documents by status and chunks in the index.
func (r *Registry) Stats(ctx context.Context) (document.Stats, error) {
	var stats document.Stats

	r.mu.RLock()
	for _, doc := range r.docs {
		stats.TotalDocuments++
		switch doc.Status {
		case document.StatusReady:
			stats.ReadyDocuments++
		case document.StatusProcessing:
			stats.ProcessingDocuments++
		case document.StatusError:
			stats.ErrorDocuments++
		}
	}
	r.mu.RUnlock()

	indexStats, err := r.index.Stats(ctx)
	if err != nil {
		return stats, fmt.Errorf("index stats: %w", err)
	}
	stats.TotalChunks = indexStats.TotalChunks
	return stats, nil
}

// Content rebuilds a document's text from its chunks, grouped by page.
// Overlapping regions of consecutive chunks appear twice.
func (r *Registry) Content(ctx context.Context, id string) (DocumentContent, error) {
	doc, err := r.Get(id)
	if err != nil {
		return DocumentContent{}, err
	}

	chunks, err := r.index.GetDocumentChunks(ctx, id)
	if err != nil {
		return DocumentContent{}, fmt.Errorf("get chunks: %w", err)
	}
	if len(chunks) == 0 {
		return DocumentContent{}, fmt.Errorf("%w: %s", ErrNoContent, id)
	}

	var (
		pageOrder []int
		byPage    = make(map[int][]string)
	)
	for _, chunk := range chunks {
		page := max(chunk.Metadata.Page, 1)
		if _, seen := byPage[page]; !seen {
			pageOrder = append(pageOrder, page)
		}
		byPage[page] = append(byPage[page], chunk.Content)
	}
	slices.Sort(pageOrder)

	sections := make([]string, 0, len(pageOrder))
	for _, page := range pageOrder {
		sections = append(sections, fmt.Sprintf("========== Page %d ==========\n\n%s",
			page, strings.Join(byPage[page], "\n\n")))
	}

	return DocumentContent{
		Content:    strings.Join(sections, "\n\n\n"),
		TotalPages: doc.TotalPages,
	}, nil
}

// RecoverInterrupted marks records left in the processing state (by a crash or
// kill mid-ingestion) as failed and drops any chunks they may have indexed.
// It must run before new ingestions start.
func (r *Registry) RecoverInterrupted(ctx context.Context) (int, error) {
	var stale []document.Document
	r.mu.RLock()
	for _, doc := range r.docs {
		if doc.Status == document.StatusProcessing {
			stale = append(stale, doc)
		}
	}
	r.mu.RUnlock()

	for _, doc := range stale {
		if err := r.index.DeleteDocumentChunks(ctx, doc.ID); err != nil {
			return 0, fmt.Errorf("remove chunks of %s: %w", doc.ID, err)
		}

		doc.Status = document.StatusError
		doc.Error = interruptedMessage
		if _, err := r.Update(ctx, doc); err != nil {
			return 0, err
		}
		r.logger.Warn("Marked interrupted ingestion as failed", "document_id", doc.ID, "name", doc.Name)
	}
	return len(stale), nil
}
