package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [applyDefaults] to unset fields.
const (
	DefaultListenAddr          = ":8080"
	DefaultMinConfidence       = 0.5
	DefaultQueryTimeoutSeconds = 30
	DefaultMaxInputLength      = 8192
	DefaultChunkSize           = 1000
	DefaultChunkOverlap        = 200
	DefaultMaxBatchSize        = 32
	DefaultMaxRetryAttempts    = 3
	DefaultRetryDelayMS        = 500
	DefaultDocumentCollection  = "knowledge_chunks"
	DefaultIndexHost           = "localhost"
	DefaultIndexHTTPPort       = 6333
	DefaultIndexGRPCPort       = 6334
	DefaultIndexMaxRetries     = 3
	DefaultIndexMaxRetryMS     = 5000
	DefaultIndexBatchSize      = 100
)

// ValidEmbeddingProviders lists known embedding provider names. Used by
// [Validate] to warn about unrecognised names.
var ValidEmbeddingProviders = []string{"openai", "ollama"}

// ValidLLMProviders lists known completion provider names for the LLM
// relation extractor.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek",
	"mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	if cfg.RelationMapping.MinConfidenceThreshold == 0 {
		cfg.RelationMapping.MinConfidenceThreshold = DefaultMinConfidence
	}
	if cfg.RelationMapping.ValidateEntityTypes == nil {
		cfg.RelationMapping.ValidateEntityTypes = ptr(true)
	}
	if cfg.RelationMapping.AutoConvertToTriples == nil {
		cfg.RelationMapping.AutoConvertToTriples = ptr(true)
	}

	if cfg.TripleStore.Backend == "" {
		cfg.TripleStore.Backend = StoreMemory
	}
	if cfg.TripleStore.QueryTimeoutSeconds == 0 {
		cfg.TripleStore.QueryTimeoutSeconds = DefaultQueryTimeoutSeconds
	}

	if cfg.Embeddings.MaxInputLength == 0 {
		cfg.Embeddings.MaxInputLength = DefaultMaxInputLength
	}
	if cfg.Embeddings.DefaultChunkSize == 0 {
		cfg.Embeddings.DefaultChunkSize = DefaultChunkSize
	}
	if cfg.Embeddings.DefaultChunkOverlap == 0 {
		cfg.Embeddings.DefaultChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Embeddings.MaxBatchSize == 0 {
		cfg.Embeddings.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Embeddings.MaxRetryAttempts == 0 {
		cfg.Embeddings.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.Embeddings.RetryDelayMS == 0 {
		cfg.Embeddings.RetryDelayMS = DefaultRetryDelayMS
	}
	if cfg.Embeddings.NormalizeVectors == nil {
		cfg.Embeddings.NormalizeVectors = ptr(true)
	}
	if cfg.Embeddings.DocumentCollection == "" {
		cfg.Embeddings.DocumentCollection = DefaultDocumentCollection
	}

	if cfg.VectorIndex.Backend == "" {
		cfg.VectorIndex.Backend = IndexQdrant
	}
	if cfg.VectorIndex.Host == "" {
		cfg.VectorIndex.Host = DefaultIndexHost
	}
	if cfg.VectorIndex.HTTPPort == 0 {
		cfg.VectorIndex.HTTPPort = DefaultIndexHTTPPort
	}
	if cfg.VectorIndex.GRPCPort == 0 {
		cfg.VectorIndex.GRPCPort = DefaultIndexGRPCPort
	}
	if cfg.VectorIndex.MaxRetries == 0 {
		cfg.VectorIndex.MaxRetries = DefaultIndexMaxRetries
	}
	if cfg.VectorIndex.MaxRetryDelayMS == 0 {
		cfg.VectorIndex.MaxRetryDelayMS = DefaultIndexMaxRetryMS
	}
	if cfg.VectorIndex.BatchSize == 0 {
		cfg.VectorIndex.BatchSize = DefaultIndexBatchSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if t := cfg.RelationMapping.MinConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("relation_mapping.min_confidence_threshold %.2f is out of range [0, 1]", t))
	}
	if name := cfg.RelationMapping.LLMProvider; name != "" && !slices.Contains(ValidLLMProviders, name) {
		slog.Warn("unknown LLM provider name — may be a typo or third-party provider",
			"name", name,
			"known", ValidLLMProviders)
	}

	if !cfg.TripleStore.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("triple_store.backend %q is invalid; valid values: memory, postgres", cfg.TripleStore.Backend))
	}
	if cfg.TripleStore.Backend == StorePostgres && cfg.Postgres.DSN == "" {
		errs = append(errs, errors.New("triple_store.backend is postgres but postgres.dsn is not set"))
	}
	if cfg.TripleStore.QueryTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("triple_store.query_timeout_seconds %d must be non-negative", cfg.TripleStore.QueryTimeoutSeconds))
	}

	if name := cfg.Embeddings.Provider; name != "" && !slices.Contains(ValidEmbeddingProviders, name) {
		slog.Warn("unknown embedding provider name — may be a typo or third-party provider",
			"name", name,
			"known", ValidEmbeddingProviders)
	}
	if cfg.Embeddings.MaxInputLength < 0 {
		errs = append(errs, fmt.Errorf("embeddings.max_input_length %d must be positive", cfg.Embeddings.MaxInputLength))
	}
	if cfg.Embeddings.DefaultChunkSize < 0 {
		errs = append(errs, fmt.Errorf("embeddings.default_chunk_size %d must be positive", cfg.Embeddings.DefaultChunkSize))
	}
	if cfg.Embeddings.DefaultChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("embeddings.default_chunk_overlap %d must be non-negative", cfg.Embeddings.DefaultChunkOverlap))
	}
	if cfg.Embeddings.DefaultChunkOverlap > cfg.Embeddings.DefaultChunkSize/2 {
		slog.Warn("chunk overlap exceeds half the chunk size and will be clamped",
			"overlap", cfg.Embeddings.DefaultChunkOverlap,
			"chunk_size", cfg.Embeddings.DefaultChunkSize)
	}
	if cfg.Embeddings.MaxBatchSize < 0 {
		errs = append(errs, fmt.Errorf("embeddings.max_batch_size %d must be positive", cfg.Embeddings.MaxBatchSize))
	}

	if !cfg.VectorIndex.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("vector_index.backend %q is invalid; valid values: qdrant, pgvector", cfg.VectorIndex.Backend))
	}
	if cfg.VectorIndex.Backend == IndexPgvector && cfg.Postgres.DSN == "" {
		errs = append(errs, errors.New("vector_index.backend is pgvector but postgres.dsn is not set"))
	}
	for _, port := range []struct {
		name  string
		value int
	}{
		{"vector_index.http_port", cfg.VectorIndex.HTTPPort},
		{"vector_index.grpc_port", cfg.VectorIndex.GRPCPort},
	} {
		if port.value < 0 || port.value > 65535 {
			errs = append(errs, fmt.Errorf("%s %d is out of range [0, 65535]", port.name, port.value))
		}
	}

	return errors.Join(errs...)
}

func ptr[T any](v T) *T { return &v }
