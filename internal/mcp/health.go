package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bull/docrag/internal/embedding"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Embedding string `json:"embedding,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by the vector index.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint. The
// service is unhealthy when the index is unreachable or the embedding model
// failed to load; a model that is still idle or loading is reported as is.
func NewHealthHandler(index HealthChecker, model ModelInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Index:     "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK

		if err := index.Health(ctx); err != nil {
			response.Status = "unhealthy"
			response.Index = "disconnected"
			code = http.StatusServiceUnavailable
		}
		if model != nil {
			state := model.Info().State
			response.Embedding = state
			if state == embedding.StateFailed.String() {
				response.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}
