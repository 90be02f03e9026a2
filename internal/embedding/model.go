// Package embedding maps text to fixed-dimension, L2-normalized vectors.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrModelUnavailable means the embedding model could not be initialized after all retries.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrDimensionDrift means a model returned a vector of a different size than it reported at load.
	ErrDimensionDrift = errors.New("embedding dimension drift")
)

// Model is a lazily loaded embedding backend.
//
// Load may be called again after a failed or abandoned attempt, so implementations
// must not keep partial state from a previous call.
type Model interface {
	// Name identifies the model in logs and status output.
	Name() string

	// Load prepares the model and returns its vector dimension.
	Load(ctx context.Context) (int, error)

	// Embed returns the raw (not necessarily normalized) vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchModel is implemented by models that can embed several texts in one request.
type BatchModel interface {
	Model

	// EmbedMany returns one vector per text, in order.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}
