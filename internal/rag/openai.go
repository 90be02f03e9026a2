package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultChatModel is used when OpenAIConfig.Model is empty.
	DefaultChatModel = "gpt-4o-mini"

	DefaultTemperature = 0.3
	DefaultMaxTokens   = 2000

	systemPrompt = "You are a professional document assistant. Answer questions using the document content " +
		"provided by the user and quote the relevant passages in your answer. If the documents do not contain " +
		"the answer, say so instead of making one up."
)

// OpenAIConfig configures an OpenAIGenerator. BaseURL selects any
// OpenAI-compatible endpoint, such as DeepSeek or Ollama's /v1.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
}

// OpenAIGenerator answers through the chat completions API.
type OpenAIGenerator struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAIGenerator creates a generator. An API key is required unless a
// custom BaseURL is set, since local servers usually ignore it.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai generator: API key not set")
		}
		cfg.APIKey = "unused"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultChatModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGenerator{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Model returns the chat model name.
func (g *OpenAIGenerator) Model() string {
	return g.model
}

// Complete asks the model to answer question from contextText. Transport
// failures are returned as errors; an empty reply is a Completion with OK false.
func (g *OpenAIGenerator) Complete(ctx context.Context, question, contextText string) (Completion, error) {
	user := fmt.Sprintf("Document content:\n%s\n\nQuestion: %s\n\nAnswer the question based on the document content above.",
		contextText, question)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(user),
		},
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(g.temperature),
		MaxTokens:   openai.Int(int64(g.maxTokens)),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Completion{ErrorMessage: "model returned no choices"}, nil
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Completion{ErrorMessage: fmt.Sprintf("model %s returned empty content", g.model)}, nil
	}
	return Completion{Text: text, OK: true}, nil
}
