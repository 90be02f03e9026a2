package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (norm(a) * norm(b))
}

func TestHashModel_SimilarTextsScoreHigher(t *testing.T) {
	m := NewHashModel(0)
	dim, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultHashDimension, dim)

	ctx := context.Background()
	query, _ := m.Embed(ctx, "How do I configure the vector index?")
	related, _ := m.Embed(ctx, "The vector index is configured with a JSON file.")
	unrelated, _ := m.Embed(ctx, "Bananas are rich in potassium.")

	assert.Greater(t, cosine(query, related), cosine(query, unrelated))
}

func TestHashModel_Deterministic(t *testing.T) {
	m := NewHashModel(64)
	a, err := m.Embed(context.Background(), "same text")
	require.NoError(t, err)
	b, err := m.Embed(context.Background(), "Same   TEXT")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashModel_EmptyTextIsZero(t *testing.T) {
	m := NewHashModel(16)
	vec, err := m.Embed(context.Background(), "  ...  ")
	require.NoError(t, err)
	assert.Len(t, vec, 16)
	assert.True(t, IsZero(vec))
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"words", "Hello, World 42", []string{"hello", "world", "42"}},
		{"bigrams", "文档内容", []string{"文档", "档内", "内容"}},
		{"single ideograph", "文", []string{"文"}},
		{"mixed", "PDF文档", []string{"pdf", "文档"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.in))
		})
	}
}

func TestPreprocess(t *testing.T) {
	assert.Equal(t, "a b c", Preprocess("  a\n\nb\t c ", 0))
	assert.Equal(t, "ab", Preprocess("abcdef", 2))
	assert.Equal(t, "文档", Preprocess("文档内容", 2))
}

func TestNormalize(t *testing.T) {
	vec := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.True(t, IsZero(zero))
}

func TestNewOpenAIModel_RequiresKey(t *testing.T) {
	_, err := NewOpenAIModel(OpenAIConfig{})
	assert.Error(t, err)

	m, err := NewOpenAIModel(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, m.Name())
}

func newOllamaServer(t *testing.T, models []string, pulled *bool) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			var resp ollamaTagsResponse
			for _, name := range models {
				resp.Models = append(resp.Models, struct {
					Name string `json:"name"`
				}{Name: name})
			}
			_ = json.NewEncoder(w).Encode(resp)
		case "/api/pull":
			*pulled = true
			w.WriteHeader(http.StatusOK)
		case "/api/embeddings":
			var req ollamaEmbedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float64{0.1, 0.2, 0.3}})
		default:
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOllamaModel_Load(t *testing.T) {
	var pulled bool
	server := newOllamaServer(t, []string{"nomic-embed-text:latest"}, &pulled)

	m := NewOllamaModel(OllamaConfig{BaseURL: server.URL + "/", Timeout: time.Second})
	dim, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
	assert.False(t, pulled)
}

func TestOllamaModel_MissingModel(t *testing.T) {
	var pulled bool
	server := newOllamaServer(t, nil, &pulled)

	m := NewOllamaModel(OllamaConfig{BaseURL: server.URL})
	_, err := m.Load(context.Background())
	assert.ErrorContains(t, err, "not found")

	m = NewOllamaModel(OllamaConfig{BaseURL: server.URL, Pull: true})
	dim, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dim)
	assert.True(t, pulled)
}

func TestOllamaModel_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	m := NewOllamaModel(OllamaConfig{BaseURL: server.URL})
	_, err := m.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "status 500: boom")
}
