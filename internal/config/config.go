// Package config loads and validates paperd's runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"
)

// S3SSEConfig configures server-side encryption for the blob store.
type S3SSEConfig struct {
	Mode     string `yaml:"mode"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kmsKeyID"`
}

// S3Config configures the blob store (AWS S3 or an S3-compatible
// endpoint such as MinIO).
type S3Config struct {
	Endpoint              string      `yaml:"endpoint"`
	Region                string      `yaml:"region"`
	Bucket                string      `yaml:"bucket"`
	Prefix                string      `yaml:"prefix"`
	AccessKey             string      `yaml:"accessKey"`
	SecretKey             string      `yaml:"secretKey"`
	UsePathStyle          bool        `yaml:"usePathStyle"`
	TLSInsecureSkipVerify bool        `yaml:"tlsInsecureSkipVerify"`
	SSE                   S3SSEConfig `yaml:"sse"`
}

// MongoConfig configures the chunk store.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	DocsColl   string `yaml:"docsCollection"`
	ChunksColl string `yaml:"chunksCollection"`
	TimeoutSec int    `yaml:"timeoutSeconds"`
}

// QdrantConfig configures the vector index.
type QdrantConfig struct {
	Addr       string `yaml:"addr"` // host:port
	APIKey     string `yaml:"apiKey"`
	TLS        bool   `yaml:"tls"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"` // cosine, dot, euclidean
}

// PostgresConfig configures the chat session/message store.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	MaxConns    int32  `yaml:"maxConns"`
	MinConns    int32  `yaml:"minConns"`
	MaxIdleMins int    `yaml:"maxIdleMinutes"`
}

// EmbeddingConfig configures the embedder's remote backend.
type EmbeddingConfig struct {
	BaseURL        string            `yaml:"baseURL"`
	Path           string            `yaml:"path"`
	Model          string            `yaml:"model"`
	Dimensions     int               `yaml:"dimensions"`
	APIKey         string            `yaml:"apiKey"`
	APIHeader      string            `yaml:"apiHeader"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeoutSeconds"`
	BatchSize      int               `yaml:"batchSize"`
	CacheDir       string            `yaml:"cacheDir"`
	MinCallDelayMs int               `yaml:"minCallDelayMs"`
	// LoadTimeoutSeconds bounds how long a concurrent caller waits for the
	// singleton embedder's lazy first-use initialization to finish.
	LoadTimeoutSeconds int `yaml:"loadTimeoutSeconds"`
	// TableEmbedMaxChars caps how much extracted table text is appended to
	// a chunk's text before embedding it.
	TableEmbedMaxChars int `yaml:"tableEmbedMaxChars"`
}

// OpenAIConfig configures internal/llm/openai's client.
type OpenAIConfig struct {
	APIKey      string         `yaml:"apiKey"`
	Model       string         `yaml:"model"`
	BaseURL     string         `yaml:"baseURL"`
	API         string         `yaml:"api"` // "completions" (default) or "responses"
	ExtraParams map[string]any `yaml:"extraParams"`
	LogPayloads bool           `yaml:"logPayloads"`
}

// AnthropicPromptCacheConfig controls which message segments are marked
// with Anthropic's prompt-caching control blocks.
type AnthropicPromptCacheConfig struct {
	Enabled       bool `yaml:"enabled"`
	CacheSystem   bool `yaml:"cacheSystem"`
	CacheTools    bool `yaml:"cacheTools"`
	CacheMessages bool `yaml:"cacheMessages"`
}

// AnthropicConfig configures internal/llm/anthropic's client.
type AnthropicConfig struct {
	APIKey      string                     `yaml:"apiKey"`
	Model       string                     `yaml:"model"`
	BaseURL     string                     `yaml:"baseURL"`
	ExtraParams map[string]any             `yaml:"extraParams"`
	PromptCache AnthropicPromptCacheConfig `yaml:"promptCache"`
}

// GoogleConfig configures internal/llm/google's client.
type GoogleConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL"`
	Timeout int    `yaml:"timeoutSeconds"`
}

// LLMConfig selects and configures the answer generator backend.
type LLMConfig struct {
	Provider  string          `yaml:"provider"` // "openai", "anthropic", "google", "extractive"
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Google    GoogleConfig    `yaml:"google"`
}

// IngestionConfig tunes the ingestion queue.
type IngestionConfig struct {
	MaxWorkers    int `yaml:"maxWorkers"`
	QueueCapacity int `yaml:"queueCapacity"`
	MaxUploadMB   int `yaml:"maxUploadMB"`
}

// TelemetryConfig configures metric emission.
type TelemetryConfig struct {
	ServiceName string `yaml:"serviceName"`
	Environment string `yaml:"environment"`
}

// Config is the top-level configuration for the paperd service.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogPath  string `yaml:"logPath"`
	LogLevel string `yaml:"logLevel"`

	ObjectStore S3Config        `yaml:"objectStore"`
	ChunkStore  MongoConfig     `yaml:"chunkStore"`
	VectorIndex QdrantConfig    `yaml:"vectorIndex"`
	ChatStore   PostgresConfig  `yaml:"chatStore"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	LLM         LLMConfig       `yaml:"llm"`
	Ingestion   IngestionConfig `yaml:"ingestion"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// Load reads YAML configuration from path, applies defaults, overlays a
// handful of secret-bearing fields from the environment (so credentials
// never need to live in the YAML file on disk), and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("S3_ACCESS_KEY")); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("S3_SECRET_KEY")); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MONGO_URI")); v != "" {
		cfg.ChunkStore.URI = v
	}
	if v := strings.TrimSpace(os.Getenv("QDRANT_API_KEY")); v != "" {
		cfg.VectorIndex.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATSTORE_DSN")); v != "" {
		cfg.ChatStore.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.LLM.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); v != "" {
		cfg.LLM.Google.APIKey = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ChunkStore.DocsColl == "" {
		cfg.ChunkStore.DocsColl = "documents"
	}
	if cfg.ChunkStore.ChunksColl == "" {
		cfg.ChunkStore.ChunksColl = "chunks"
	}
	if cfg.ChunkStore.TimeoutSec == 0 {
		cfg.ChunkStore.TimeoutSec = 10
	}
	if cfg.VectorIndex.Collection == "" {
		cfg.VectorIndex.Collection = "paper_chunks"
	}
	if cfg.VectorIndex.Dimensions == 0 {
		cfg.VectorIndex.Dimensions = 768
	}
	if cfg.VectorIndex.Metric == "" {
		cfg.VectorIndex.Metric = "cosine"
	}
	if cfg.ChatStore.MaxConns == 0 {
		cfg.ChatStore.MaxConns = 8
	}
	if cfg.Embedding.Path == "" {
		cfg.Embedding.Path = "/v1/embeddings"
	}
	if cfg.Embedding.APIHeader == "" {
		cfg.Embedding.APIHeader = "Authorization"
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 8
	}
	if cfg.Embedding.LoadTimeoutSeconds == 0 {
		cfg.Embedding.LoadTimeoutSeconds = 300
	}
	if cfg.Embedding.TableEmbedMaxChars == 0 {
		cfg.Embedding.TableEmbedMaxChars = 4000
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "extractive"
	}
	if cfg.Ingestion.MaxWorkers == 0 {
		cfg.Ingestion.MaxWorkers = 4
	}
	if cfg.Ingestion.QueueCapacity == 0 {
		cfg.Ingestion.QueueCapacity = 256
	}
	if cfg.Ingestion.MaxUploadMB == 0 {
		cfg.Ingestion.MaxUploadMB = 100
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "paperd"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = "dev"
	}
}

// Validate checks fatal misconfiguration that should abort startup.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai", "anthropic", "google", "extractive":
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be one of openai, anthropic, google, extractive (got %q)", c.LLM.Provider))
	}
	if c.LLM.Provider == "openai" && c.LLM.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("llm.openai.apiKey is required when llm.provider is openai"))
	}
	if c.LLM.Provider == "anthropic" && c.LLM.Anthropic.APIKey == "" {
		errs = append(errs, errors.New("llm.anthropic.apiKey is required when llm.provider is anthropic"))
	}
	if c.Ingestion.MaxWorkers < 1 {
		errs = append(errs, errors.New("ingestion.maxWorkers must be >= 1"))
	}
	return errors.Join(errs...)
}
