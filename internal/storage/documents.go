package storage

import (
	"context"

	"github.com/bull/docrag/internal/document"
)

// DocumentStore persists document records. Put and Delete are durable when they return.
type DocumentStore interface {
	Load(ctx context.Context) (map[string]document.Document, error)
	Put(ctx context.Context, doc document.Document) error
	Delete(ctx context.Context, id string) error
	Close() error
}

var (
	_ DocumentStore = (*JSONDocumentStore)(nil)
	_ DocumentStore = (*sqliteDocumentStore)(nil)
)
