// Package metadata enriches ingested documents with an LLM-written summary
// and a list of key entities.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultMaxTokens is the maximum content length before truncation (in tokens).
const DefaultMaxTokens = 16000

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-mini"

// DocumentMetadata contains LLM-generated metadata for a document.
type DocumentMetadata struct {
	Summary  string   `json:"summary"`
	Entities []string `json:"entities"`
}

// Config configures a Generator.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// Generator produces document metadata with a chat completion model.
type Generator struct {
	client    openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a metadata generator. The API key is required.
func NewGenerator(cfg Config, logger *slog.Logger) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("metadata generator: API key not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Generator{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    logger,
	}, nil
}

// GenerateMetadata analyzes document content and produces a summary and entity list.
func (g *Generator) GenerateMetadata(ctx context.Context, name, content string) (*DocumentMetadata, error) {
	prompt := fmt.Sprintf(`Analyze this document and provide:
1. A concise summary (1-2 sentences) capturing the main topic and key points
2. A list of the key named entities, terms or concepts it covers (at most 15)

Document name: %s

Document content:
%s

Respond in JSON format:
{"summary": "Brief description of what this document covers", "entities": ["Entity1", "Entity2"]}`,
		name, g.truncateContent(content))

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(g.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return parseResponse(resp.Choices[0].Message.Content)
}

func parseResponse(content string) (*DocumentMetadata, error) {
	var metadata DocumentMetadata
	if err := json.Unmarshal([]byte(content), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	metadata.Summary = strings.TrimSpace(metadata.Summary)
	entities := metadata.Entities[:0]
	for _, entity := range metadata.Entities {
		if entity = strings.TrimSpace(entity); entity != "" {
			entities = append(entities, entity)
		}
	}
	metadata.Entities = entities
	return &metadata, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating content for metadata generation",
		"chars", len(runes), "max_chars", maxChars, "max_tokens", g.maxTokens)
	return string(runes[:maxChars])
}
