package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/embedding"
)

const (
	// DefaultCollection is the Qdrant collection holding all chunks.
	DefaultCollection = "docrag_chunks"

	// vectorName is the named vector chunks are stored under.
	vectorName = "content"

	upsertBatchSize = 100
	scrollPageSize  = 256

	// searchLimitAll caps a Search with TopK <= 0.
	searchLimitAll = 10000
)

// QdrantConfig locates a Qdrant server (gRPC port).
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// QdrantIndex is a VectorIndex stored in a Qdrant collection. The collection is
// created on the first AddChunks, sized to that batch's embeddings.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	mu  sync.Mutex
	dim int // 0 until the collection exists
}

var _ VectorIndex = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant and fails fast if it stays unreachable after
// retrying with exponential backoff.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, logger *slog.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	x := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		logger:     logger,
	}

	if err := x.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	if err := x.loadDimension(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("Connected to Qdrant", "host", cfg.Host, "port", cfg.Port, "collection", cfg.Collection)
	return x, nil
}

func newRetryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

func (x *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return x.Health(ctx)
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

// Health performs a single health check against Qdrant.
func (x *QdrantIndex) Health(ctx context.Context) error {
	result, err := x.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// loadDimension reads the vector size of an existing collection.
func (x *QdrantIndex) loadDimension(ctx context.Context) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		return nil
	}

	info, err := x.client.GetCollectionInfo(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection: %w", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[vectorName]
	if params == nil {
		return fmt.Errorf("collection %s has no %q vector", x.collection, vectorName)
	}

	x.mu.Lock()
	x.dim = int(params.GetSize())
	x.mu.Unlock()
	return nil
}

// ensureCollection creates the collection for dim-sized vectors if it does not exist.
func (x *QdrantIndex) ensureCollection(ctx context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim != 0 {
		if x.dim != dim {
			return fmt.Errorf("%w: chunks have %d dimensions, collection has %d", ErrDimensionMismatch, dim, x.dim)
		}
		return nil
	}

	err := x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without payload indexes, filtering by document degrades to a full scan
	fields := map[string]qdrant.FieldType{
		"document_id": qdrant.FieldType_FieldTypeKeyword,
		"embedded":    qdrant.FieldType_FieldTypeBool,
	}
	for field, fieldType := range fields {
		_, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: x.collection,
			FieldName:      field,
			FieldType:      fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	x.dim = dim
	x.logger.Info("Created Qdrant collection", "collection", x.collection, "dimension", dim)
	return nil
}

func (x *QdrantIndex) dimension() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.dim
}

// PointID maps a chunk ID to the deterministic UUID used as its point ID, so
// re-adding a chunk overwrites the same point.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (x *QdrantIndex) AddChunks(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dim := len(chunks[0].Embedding)
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEmbedding, chunk.ID)
		}
		if len(chunk.Embedding) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d",
				ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), dim)
		}
	}
	if err := x.ensureCollection(ctx, dim); err != nil {
		return err
	}

	for i := 0; i < len(chunks); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(chunks))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, chunk := range chunks[i:end] {
			points = append(points, &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(PointID(chunk.ID)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(chunk.Embedding...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"chunk_id":      chunk.ID,
					"document_id":   chunk.DocumentID,
					"document_name": chunk.DocumentName,
					"content":       chunk.Content,
					"page":          chunk.Metadata.Page,
					"chunk_index":   chunk.Metadata.ChunkIndex,
					"start_index":   chunk.Metadata.StartIndex,
					"end_index":     chunk.Metadata.EndIndex,
					"embedded":      !embedding.IsZero(chunk.Embedding),
				}),
			})
		}

		if err := x.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("%w: upsert batch %d-%d: %v", ErrIndexIO, i, end, err)
		}
	}
	return nil
}

func (x *QdrantIndex) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: x.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(newRetryBackoff(), ctx))
}

// GetDocumentChunks scrolls the document's points. Embeddings are not returned.
func (x *QdrantIndex) GetDocumentChunks(ctx context.Context, documentID string) ([]document.Chunk, error) {
	if x.dimension() == 0 {
		return nil, nil
	}

	var chunks []document.Chunk
	err := x.scroll(ctx, documentFilter(documentID), qdrant.NewWithPayload(true), func(point *qdrant.RetrievedPoint) {
		chunks = append(chunks, chunkFromPayload(point.Payload))
	})
	if err != nil {
		return nil, err
	}

	sortByChunkIndex(chunks)
	return chunks, nil
}

func (x *QdrantIndex) scroll(ctx context.Context, filter *qdrant.Filter, with *qdrant.WithPayloadSelector, fn func(*qdrant.RetrievedPoint)) error {
	return scrollPages(ctx, func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
		return x.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: x.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    with,
		})
	}, fn)
}

type scrollPageFunc func(ctx context.Context, offset *qdrant.PointId) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)

// scrollPages follows the server's next page offset until there is none. The
// offset names the first point of the next page, so pages never overlap.
func scrollPages(ctx context.Context, page scrollPageFunc, fn func(*qdrant.RetrievedPoint)) error {
	var offset *qdrant.PointId
	for {
		results, next, err := page(ctx, offset)
		if err != nil {
			return fmt.Errorf("%w: scroll: %v", ErrIndexIO, err)
		}

		for _, point := range results {
			fn(point)
		}
		if next == nil {
			return nil
		}
		offset = next
	}
}

func (x *QdrantIndex) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	if x.dimension() == 0 {
		return nil
	}

	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: delete document %s: %v", ErrIndexIO, documentID, err)
	}
	return nil
}

func (x *QdrantIndex) Search(ctx context.Context, query []float32, opts SearchOptions) ([]document.SearchResult, error) {
	dim := x.dimension()
	if dim == 0 {
		return nil, nil
	}
	if len(query) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d", ErrDimensionMismatch, len(query), dim)
	}

	var must []*qdrant.Condition
	if len(opts.DocumentIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords("document_id", opts.DocumentIDs...))
	}
	if opts.ExcludeUnembedded {
		must = append(must, qdrant.NewMatchBool("embedded", true))
	}

	limit := uint64(searchLimitAll)
	if opts.TopK > 0 {
		limit = uint64(opts.TopK)
	}

	req := &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(query...),
		Using:          qdrant.PtrOf(vectorName),
		Limit:          qdrant.PtrOf(limit),
		ScoreThreshold: qdrant.PtrOf(float32(opts.MinSimilarity)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	if len(must) > 0 {
		req.Filter = &qdrant.Filter{Must: must}
	}

	points, err := x.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrIndexIO, err)
	}

	results := make([]document.SearchResult, 0, len(points))
	for _, point := range points {
		results = append(results, document.SearchResult{
			Chunk:      chunkFromPayload(point.Payload),
			Similarity: float64(point.Score),
		})
	}
	rank(results)
	return results, nil
}

func (x *QdrantIndex) Stats(ctx context.Context) (IndexStats, error) {
	stats := IndexStats{DocumentChunks: make(map[string]int)}
	if x.dimension() == 0 {
		return stats, nil
	}

	total, err := x.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: x.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return stats, fmt.Errorf("%w: count: %v", ErrIndexIO, err)
	}
	stats.TotalChunks = int(total)

	err = x.scroll(ctx, nil, qdrant.NewWithPayloadInclude("document_id"), func(point *qdrant.RetrievedPoint) {
		stats.DocumentChunks[point.Payload["document_id"].GetStringValue()]++
	})
	if err != nil {
		return stats, err
	}
	stats.TotalDocuments = len(stats.DocumentChunks)
	return stats, nil
}

// Clear drops the collection. The next AddChunks recreates it.
func (x *QdrantIndex) Clear(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dim == 0 {
		return nil
	}
	if err := x.client.DeleteCollection(ctx, x.collection); err != nil {
		return fmt.Errorf("%w: failed to delete collection: %v", ErrIndexIO, err)
	}
	x.dim = 0
	return nil
}

// Close closes the Qdrant client connection.
func (x *QdrantIndex) Close() error {
	if x.client != nil {
		return x.client.Close()
	}
	return nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
	}
}

func chunkFromPayload(payload map[string]*qdrant.Value) document.Chunk {
	return document.Chunk{
		ID:           payload["chunk_id"].GetStringValue(),
		DocumentID:   payload["document_id"].GetStringValue(),
		DocumentName: payload["document_name"].GetStringValue(),
		Content:      payload["content"].GetStringValue(),
		Metadata: document.ChunkMetadata{
			Page:       int(payload["page"].GetIntegerValue()),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			StartIndex: int(payload["start_index"].GetIntegerValue()),
			EndIndex:   int(payload["end_index"].GetIntegerValue()),
		},
	}
}
