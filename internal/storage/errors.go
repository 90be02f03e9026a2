package storage

import "errors"

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrIndexIO           = errors.New("index storage failure")
	ErrMissingEmbedding  = errors.New("chunk has no embedding")
	ErrNotFound          = errors.New("not found")
)
