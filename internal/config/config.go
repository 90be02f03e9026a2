// Package config loads docrag settings from defaults, an optional TOML or
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Storage backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Embedding providers.
const (
	EmbeddingHash   = "hash"
	EmbeddingOpenAI = "openai"
	EmbeddingOllama = "ollama"
)

// Config is the root configuration.
type Config struct {
	DataDir   string `toml:"data_dir" yaml:"data_dir"`
	LogLevel  string `toml:"log_level" yaml:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format"` // text or json
	// PDFCommand names a pdftotext-compatible binary used instead of the
	// built-in PDF reader.
	PDFCommand string `toml:"pdf_command" yaml:"pdf_command"`

	Storage    StorageConfig    `toml:"storage" yaml:"storage"`
	Chunker    ChunkerConfig    `toml:"chunker" yaml:"chunker"`
	Embedding  EmbeddingConfig  `toml:"embedding" yaml:"embedding"`
	Generation GenerationConfig `toml:"generation" yaml:"generation"`
	Metadata   MetadataConfig   `toml:"metadata" yaml:"metadata"`
	GitHub     GitHubConfig     `toml:"github" yaml:"github"`
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Watch      WatchConfig      `toml:"watch" yaml:"watch"`
}

// StorageConfig selects where chunks and document records are kept.
type StorageConfig struct {
	Backend string       `toml:"backend" yaml:"backend"`
	Qdrant  QdrantConfig `toml:"qdrant" yaml:"qdrant"`
}

// QdrantConfig holds Qdrant connection details. Document records stay in
// SQLite when the qdrant backend is used.
type QdrantConfig struct {
	Host       string `toml:"host" yaml:"host"`
	Port       int    `toml:"port" yaml:"port"`
	APIKey     string `toml:"api_key" yaml:"api_key"`
	UseTLS     bool   `toml:"use_tls" yaml:"use_tls"`
	Collection string `toml:"collection" yaml:"collection"`
}

type ChunkerConfig struct {
	Size      int `toml:"size" yaml:"size"`
	Overlap   int `toml:"overlap" yaml:"overlap"`
	MinLength int `toml:"min_length" yaml:"min_length"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Provider          string  `toml:"provider" yaml:"provider"`
	Model             string  `toml:"model" yaml:"model"`
	BaseURL           string  `toml:"base_url" yaml:"base_url"`
	APIKey            string  `toml:"api_key" yaml:"api_key"`
	Dimension         int     `toml:"dimension" yaml:"dimension"` // hash provider only
	MaxInputLength    int     `toml:"max_input_length" yaml:"max_input_length"`
	Concurrency       int     `toml:"concurrency" yaml:"concurrency"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
	InitAttempts      int     `toml:"init_attempts" yaml:"init_attempts"`
	InitTimeoutSecs   int     `toml:"init_timeout_secs" yaml:"init_timeout_secs"`
	OllamaPull        bool    `toml:"ollama_pull" yaml:"ollama_pull"`
}

// GenerationConfig configures the answer model. An empty Provider disables ask.
type GenerationConfig struct {
	Provider    string  `toml:"provider" yaml:"provider"`
	Model       string  `toml:"model" yaml:"model"`
	BaseURL     string  `toml:"base_url" yaml:"base_url"`
	APIKey      string  `toml:"api_key" yaml:"api_key"`
	Temperature float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens   int     `toml:"max_tokens" yaml:"max_tokens"`
	TopK        int     `toml:"top_k" yaml:"top_k"`
}

// MetadataConfig enables LLM summaries of ingested documents. It reuses the
// generation endpoint and key.
type MetadataConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Model   string `toml:"model" yaml:"model"`
}

type GitHubConfig struct {
	Token   string `toml:"token" yaml:"token"`
	BaseURL string `toml:"base_url" yaml:"base_url"`
}

// ServerConfig configures docrag-server.
type ServerConfig struct {
	Mode      string `toml:"mode" yaml:"mode"` // stdio or http
	Port      int    `toml:"port" yaml:"port"`
	Stateless bool   `toml:"stateless" yaml:"stateless"`
}

type WatchConfig struct {
	Dir          string `toml:"dir" yaml:"dir"`
	SettleMillis int    `toml:"settle_millis" yaml:"settle_millis"`
}

// Default returns the built-in configuration: local JSON storage and the
// offline hash embedder, so docrag works without any external service.
func Default() *Config {
	return &Config{
		DataDir:   defaultDataDir(),
		LogLevel:  "info",
		LogFormat: "text",
		Storage: StorageConfig{
			Backend: BackendJSON,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "docrag_chunks",
			},
		},
		Chunker: ChunkerConfig{Size: 800, Overlap: 100, MinLength: 50},
		Embedding: EmbeddingConfig{
			Provider:     EmbeddingHash,
			Dimension:    384,
			InitAttempts: 3,
		},
		Generation: GenerationConfig{TopK: 5},
		Server:     ServerConfig{Mode: "stdio", Port: 8080},
		Watch:      WatchConfig{SettleMillis: 500},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "docrag")
	}
	return ".docrag"
}

// DefaultFiles are looked up in the working directory when no file is named.
var DefaultFiles = []string{"docrag.toml", "docrag.yaml", "docrag.yml"}

// Load builds the configuration. When path is empty the DOCRAG_CONFIG
// environment variable names the file, else the first of DefaultFiles that
// exists is used, else none.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("DOCRAG_CONFIG")
	}
	if path == "" {
		for _, candidate := range DefaultFiles {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("DOCRAG_DATA_DIR", c.DataDir)
	c.LogLevel = getEnv("DOCRAG_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("DOCRAG_LOG_FORMAT", c.LogFormat)
	c.PDFCommand = getEnv("DOCRAG_PDF_COMMAND", c.PDFCommand)

	c.Storage.Backend = getEnv("DOCRAG_STORAGE", c.Storage.Backend)
	c.Storage.Qdrant.Host = getEnv("QDRANT_HOST", c.Storage.Qdrant.Host)
	c.Storage.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Storage.Qdrant.Port)
	c.Storage.Qdrant.APIKey = getEnv("QDRANT_API_KEY", c.Storage.Qdrant.APIKey)
	c.Storage.Qdrant.Collection = getEnv("QDRANT_COLLECTION", c.Storage.Qdrant.Collection)

	c.Embedding.Provider = getEnv("DOCRAG_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.Model = getEnv("DOCRAG_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.BaseURL = getEnv("DOCRAG_EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	if c.Embedding.Provider == EmbeddingOllama {
		c.Embedding.BaseURL = getEnv("OLLAMA_HOST", c.Embedding.BaseURL)
	}

	c.Generation.Provider = getEnv("DOCRAG_CHAT_PROVIDER", c.Generation.Provider)
	c.Generation.Model = getEnv("DOCRAG_CHAT_MODEL", c.Generation.Model)
	c.Generation.BaseURL = getEnv("DOCRAG_CHAT_BASE_URL", c.Generation.BaseURL)

	// One OpenAI key serves every OpenAI-backed component unless set individually
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
		if c.Generation.APIKey == "" {
			c.Generation.APIKey = key
		}
		if c.Generation.Provider == "" {
			c.Generation.Provider = "openai"
		}
	}

	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)

	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	if getEnv("SERVER_MODE", "") == "true" {
		c.Server.Mode = "http"
	}
	c.Watch.Dir = getEnv("DOCRAG_WATCH_DIR", c.Watch.Dir)
}

// Validate checks option values and their combinations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.DataDir != "", "data_dir is empty")
	switch c.Storage.Backend {
	case BackendJSON, BackendSQLite, BackendQdrant:
	default:
		check(false, "unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Embedding.Provider {
	case EmbeddingHash, EmbeddingOpenAI, EmbeddingOllama:
	default:
		check(false, "unknown embedding provider %q", c.Embedding.Provider)
	}
	check(c.Embedding.Provider != EmbeddingOpenAI || c.Embedding.APIKey != "" || c.Embedding.BaseURL != "",
		"openai embeddings need an API key")
	check(c.Generation.Provider == "" || c.Generation.Provider == "openai",
		"unknown generation provider %q", c.Generation.Provider)
	check(c.Chunker.Size > 0, "chunker size must be positive")
	check(c.Chunker.Overlap >= 0 && c.Chunker.Overlap < c.Chunker.Size,
		"chunker overlap %d must be in [0, size)", c.Chunker.Overlap)
	check(c.Server.Mode == "stdio" || c.Server.Mode == "http", "unknown server mode %q", c.Server.Mode)
	check(!c.Metadata.Enabled || c.Generation.APIKey != "" || c.Generation.BaseURL != "",
		"metadata enrichment needs a generation API key")

	return errors.Join(errs...)
}

// IndexPath is the JSON index file.
func (c *Config) IndexPath() string { return filepath.Join(c.DataDir, "index.json") }

// DocumentsPath is the JSON document registry file.
func (c *Config) DocumentsPath() string { return filepath.Join(c.DataDir, "documents.json") }

// SQLitePath is the database used by the sqlite and qdrant backends.
func (c *Config) SQLitePath() string { return filepath.Join(c.DataDir, "docrag.db") }

// UploadsDir holds the stored copies of uploaded files.
func (c *Config) UploadsDir() string { return filepath.Join(c.DataDir, "uploads") }

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}
