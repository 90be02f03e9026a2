package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/storage/migrations"
)

// SQLiteStore is a single database file holding both chunks and document records.
// Each index mutation is one transaction, and the per-document chunk lists are
// derived from the chunks table so the two can never disagree on disk.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (creating if needed) the database at path and runs migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL lets searches read while an ingestion commits
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// IndexBackend returns a Backend storing chunks in this database.
func (s *SQLiteStore) IndexBackend() Backend {
	return &sqliteBackend{store: s}
}

// DocumentStore returns a DocumentStore backed by this database.
func (s *SQLiteStore) DocumentStore() DocumentStore {
	return &sqliteDocumentStore{store: s}
}

// migrate applies the numbered NNN_name.up.sql files above the database's
// user_version, each in its own transaction together with the version bump.
func (s *SQLiteStore) migrate(fsys fs.FS) error {
	var applied int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&applied); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	// ReadDir returns entries sorted by name, which orders the numbered files.
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		prefix, _, ok := strings.Cut(name, "_")
		if !ok || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return fmt.Errorf("migration %s: bad version prefix", name)
		}
		if version <= applied {
			continue
		}

		script, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := s.applyMigration(version, string(script)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		applied = version
	}
	return nil
}

func (s *SQLiteStore) applyMigration(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(script); err != nil {
		return err
	}
	// PRAGMA takes no bound parameters
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

// ==================== Index Backend ====================

type sqliteBackend struct {
	store *SQLiteStore
}

func (b *sqliteBackend) Load(ctx context.Context) (*Snapshot, error) {
	rows, err := b.store.db.QueryContext(ctx, `
		SELECT id, document_id, document_name, content, page, chunk_index, start_index, end_index, embedding
		FROM chunks ORDER BY document_id, chunk_index
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying chunks: %v", ErrIndexIO, err)
	}
	defer rows.Close()

	snap := NewSnapshot()
	for rows.Next() {
		var (
			chunk document.Chunk
			blob  []byte
		)
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.DocumentName, &chunk.Content,
			&chunk.Metadata.Page, &chunk.Metadata.ChunkIndex, &chunk.Metadata.StartIndex,
			&chunk.Metadata.EndIndex, &blob); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %v", ErrIndexIO, err)
		}
		chunk.Embedding = deserializeEmbedding(blob)

		snap.Chunks[chunk.ID] = chunk
		snap.DocumentChunks[chunk.DocumentID] = append(snap.DocumentChunks[chunk.DocumentID], chunk.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating chunks: %v", ErrIndexIO, err)
	}
	return snap, nil
}

// Commit writes only the delta; next is not needed since chunk lists are derived.
func (b *sqliteBackend) Commit(ctx context.Context, _ *Snapshot, m Mutation) error {
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if m.Cleared {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks"); err != nil {
			return fmt.Errorf("clearing chunks: %w", err)
		}
	}

	for _, id := range m.DeletedID {
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting chunk %s: %w", id, err)
		}
	}

	if len(m.Upserted) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, document_name, content, page, chunk_index, start_index, end_index, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				document_id = excluded.document_id,
				document_name = excluded.document_name,
				content = excluded.content,
				page = excluded.page,
				chunk_index = excluded.chunk_index,
				start_index = excluded.start_index,
				end_index = excluded.end_index,
				embedding = excluded.embedding
		`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()

		for _, c := range m.Upserted {
			if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.DocumentName, c.Content,
				c.Metadata.Page, c.Metadata.ChunkIndex, c.Metadata.StartIndex, c.Metadata.EndIndex,
				serializeEmbedding(c.Embedding)); err != nil {
				return fmt.Errorf("upserting chunk %s: %w", c.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close is a no-op; the owning SQLiteStore closes the database.
func (b *sqliteBackend) Close() error {
	return nil
}

// ==================== Document Store ====================

type sqliteDocumentStore struct {
	store *SQLiteStore
}

func (s *sqliteDocumentStore) Load(ctx context.Context) (map[string]document.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, name, path, total_pages, total_chunks, file_size, status, error,
			outline, summary, entities, created_at, updated_at
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: querying documents: %v", ErrIndexIO, err)
	}
	defer rows.Close()

	docs := make(map[string]document.Document)
	for rows.Next() {
		var (
			doc                  document.Document
			status               string
			outline, entities    string
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Path, &doc.TotalPages, &doc.TotalChunks,
			&doc.FileSize, &status, &doc.Error, &outline, &doc.Summary, &entities,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning document: %v", ErrIndexIO, err)
		}

		doc.Status = document.Status(status)
		doc.CreatedAt = createdAt
		doc.UpdatedAt = updatedAt
		if err := json.Unmarshal([]byte(outline), &doc.Outline); err != nil {
			return nil, fmt.Errorf("%w: unmarshaling outline of %s: %v", ErrIndexIO, doc.ID, err)
		}
		if err := json.Unmarshal([]byte(entities), &doc.Entities); err != nil {
			return nil, fmt.Errorf("%w: unmarshaling entities of %s: %v", ErrIndexIO, doc.ID, err)
		}
		docs[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating documents: %v", ErrIndexIO, err)
	}
	return docs, nil
}

func (s *sqliteDocumentStore) Put(ctx context.Context, doc document.Document) error {
	outline, err := json.Marshal(nonNil(doc.Outline))
	if err != nil {
		return fmt.Errorf("marshalling outline: %w", err)
	}
	entities, err := json.Marshal(nonNil(doc.Entities))
	if err != nil {
		return fmt.Errorf("marshalling entities: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, path, total_pages, total_chunks, file_size, status, error,
			outline, summary, entities, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			total_pages = excluded.total_pages,
			total_chunks = excluded.total_chunks,
			file_size = excluded.file_size,
			status = excluded.status,
			error = excluded.error,
			outline = excluded.outline,
			summary = excluded.summary,
			entities = excluded.entities,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Name, doc.Path, doc.TotalPages, doc.TotalChunks, doc.FileSize, string(doc.Status),
		doc.Error, string(outline), doc.Summary, string(entities), doc.CreatedAt.UTC(), doc.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: saving document: %v", ErrIndexIO, err)
	}
	return nil
}

func (s *sqliteDocumentStore) Delete(ctx context.Context, id string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: deleting document: %v", ErrIndexIO, err)
	}
	return nil
}

// Close is a no-op; the owning SQLiteStore closes the database.
func (s *sqliteDocumentStore) Close() error {
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// serializeEmbedding converts a float32 slice to little-endian bytes.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeEmbedding converts little-endian bytes back to a float32 slice.
func deserializeEmbedding(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
