package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOllamaModel   = "nomic-embed-text"
	DefaultOllamaTimeout = 30 * time.Second
)

// OllamaConfig configures an OllamaModel.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	// Pull downloads the model during Load when the server does not have it.
	Pull bool
	// RequestsPerSecond throttles embedding requests. Zero disables throttling.
	RequestsPerSecond float64
}

// OllamaModel embeds text with a model served by a local Ollama instance.
type OllamaModel struct {
	client  *http.Client
	baseURL string
	model   string
	pull    bool
	limiter *rate.Limiter
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaPullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// NewOllamaModel creates an OllamaModel with defaults for empty fields.
func NewOllamaModel(cfg OllamaConfig) *OllamaModel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultOllamaTimeout
	}

	m := &OllamaModel{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		pull:    cfg.Pull,
	}
	if cfg.RequestsPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return m
}

func (m *OllamaModel) Name() string {
	return m.model
}

// Load checks the model is present (pulling it if configured) and measures its dimension.
func (m *OllamaModel) Load(ctx context.Context) (int, error) {
	present, err := m.hasModel(ctx)
	if err != nil {
		return 0, err
	}
	if !present {
		if !m.pull {
			return 0, fmt.Errorf("ollama: model %q not found", m.model)
		}
		if err := m.pullModel(ctx); err != nil {
			return 0, err
		}
	}

	vec, err := m.Embed(ctx, "dimension check")
	if err != nil {
		return 0, err
	}
	return len(vec), nil
}

func (m *OllamaModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var resp ollamaEmbedResponse
	if err := m.post(ctx, "/api/embeddings", ollamaEmbedRequest{Model: m.model, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama: empty embedding")
	}
	return toFloat32(resp.Embedding), nil
}

func (m *OllamaModel) hasModel(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return false, fmt.Errorf("ollama: create tags request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("ollama: list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, statusError(resp)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("ollama: decode tags: %w", err)
	}

	for _, model := range tags.Models {
		// Tags are reported as name:tag, bare names mean :latest
		if model.Name == m.model || strings.TrimSuffix(model.Name, ":latest") == m.model {
			return true, nil
		}
	}
	return false, nil
}

func (m *OllamaModel) pullModel(ctx context.Context) error {
	return m.post(ctx, "/api/pull", ollamaPullRequest{Name: m.model, Stream: false}, nil)
}

func (m *OllamaModel) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("ollama: status %d (failed to read body: %w)", resp.StatusCode, err)
	}
	return fmt.Errorf("ollama: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
