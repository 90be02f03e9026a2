package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/indexer"
)

// Version is reported to MCP clients.
const Version = "v0.1.0"

// Documents reads the document registry.
type Documents interface {
	List() []document.Document
	Get(id string) (document.Document, error)
	Content(ctx context.Context, id string) (indexer.DocumentContent, error)
	Stats(ctx context.Context) (document.Stats, error)
}

// Ingester adds and removes documents.
type Ingester interface {
	Upload(ctx context.Context, path string, progress indexer.ProgressFunc) (*document.Document, error)
	Delete(ctx context.Context, id string) error
}

// Retriever searches chunks and answers questions.
type Retriever interface {
	Search(ctx context.Context, query string, documentIDs []string, topK int) ([]document.SearchResult, error)
	Answer(ctx context.Context, question string, documentIDs []string, topK int) (*document.Answer, error)
}

// ModelInfo reports the embedding model state.
type ModelInfo interface {
	Info() embedding.Info
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Documents Documents
	Ingester  Ingester
	Retriever Retriever
	Model     ModelInfo // optional

	// AllowUpload registers upload_document, which reads files from the
	// server's filesystem. Leave it off for remote clients.
	AllowUpload bool
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "docrag",
		Version: Version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the uploaded documents. Returns the most similar text chunks with their document, page and similarity.",
	}, makeSearchHandler(cfg.Retriever))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the uploaded documents. Returns the answer and the excerpts it is based on.",
	}, makeAskHandler(cfg.Retriever))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List all documents with their ingestion status, most recently updated first.",
	}, makeListHandler(cfg.Documents))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Get one document record by ID, including its summary and outline when available.",
	}, makeGetHandler(cfg.Documents))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "document_content",
		Description: "Get the indexed text of a document, grouped by page.",
	}, makeContentHandler(cfg.Documents))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_document",
		Description: "Delete a document, its stored file and all of its indexed chunks.",
	}, makeDeleteHandler(cfg.Ingester))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Get document and chunk counts and the embedding model state.",
	}, makeStatsHandler(cfg.Documents, cfg.Model))

	if cfg.AllowUpload {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "upload_document",
			Description: "Ingest a file from the server's filesystem (text, Markdown or PDF).",
		}, makeUploadHandler(cfg.Ingester))
	}

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
