// Package embedder turns document text into indexed vectors.
//
// [Generator] wraps one or more embedding providers with input truncation,
// batching, L2 normalization, retry behind a per-model circuit breaker, and a
// per-model dimension cache.
// [DocumentEmbedder] composes the chunker, a Generator and a vector index
// into whole-document operations: process, similarity search, delete.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/internal/resilience"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/provider/embeddings"
)

// Defaults applied by [NewGenerator] when the corresponding option is unset.
const (
	DefaultMaxInputLength = 8192
	DefaultMaxBatchSize   = 32
	DefaultRetryAttempts  = 3
	DefaultRetryDelay     = 500 * time.Millisecond
)

// Generator produces embedding vectors through registered providers.
// It is safe for concurrent use.
type Generator struct {
	defaultModel string
	providers    map[string]embeddings.Provider

	maxInputLength int
	maxBatchSize   int
	normalize      bool
	retry          resilience.RetryConfig
	metrics        *observe.Metrics

	mu         sync.Mutex
	dimensions map[string]int // model -> observed vector length
	breakers   map[string]*resilience.CircuitBreaker
}

// generatorConfig holds optional configuration collected from functional options.
type generatorConfig struct {
	maxInputLength int
	maxBatchSize   int
	normalize      bool
	retryAttempts  int
	retryDelay     time.Duration
	extraProviders map[string]embeddings.Provider
	metrics        *observe.Metrics
}

// GeneratorOption is a functional option for Generator.
type GeneratorOption func(*generatorConfig)

// WithMaxInputLength sets the character count texts are truncated to before
// embedding. Default: 8192.
func WithMaxInputLength(n int) GeneratorOption {
	return func(c *generatorConfig) {
		c.maxInputLength = n
	}
}

// WithMaxBatchSize caps the number of texts per provider call. Larger inputs
// are split and results concatenated in order. Default: 32.
func WithMaxBatchSize(n int) GeneratorOption {
	return func(c *generatorConfig) {
		c.maxBatchSize = n
	}
}

// WithNormalization toggles L2 normalization of returned vectors.
// Default: enabled.
func WithNormalization(enabled bool) GeneratorOption {
	return func(c *generatorConfig) {
		c.normalize = enabled
	}
}

// WithRetry tunes the retry policy applied to provider calls.
func WithRetry(attempts int, delay time.Duration) GeneratorOption {
	return func(c *generatorConfig) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// WithMetrics overrides the metrics instance provider calls are recorded on.
// Intended for tests.
func WithMetrics(m *observe.Metrics) GeneratorOption {
	return func(c *generatorConfig) {
		c.metrics = m
	}
}

// WithModelProvider registers an additional provider selectable by model ID.
func WithModelProvider(model string, p embeddings.Provider) GeneratorOption {
	return func(c *generatorConfig) {
		c.extraProviders[model] = p
	}
}

// NewGenerator builds a Generator around the default provider. The default
// provider's ModelID becomes the model used when callers pass an empty model.
func NewGenerator(defaultProvider embeddings.Provider, opts ...GeneratorOption) (*Generator, error) {
	if defaultProvider == nil {
		return nil, fmt.Errorf("embedder: default provider must not be nil: %w", knowledge.ErrInvalidArgument)
	}

	cfg := &generatorConfig{
		maxInputLength: DefaultMaxInputLength,
		maxBatchSize:   DefaultMaxBatchSize,
		normalize:      true,
		retryAttempts:  DefaultRetryAttempts,
		retryDelay:     DefaultRetryDelay,
		extraProviders: map[string]embeddings.Provider{},
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	if cfg.maxInputLength <= 0 || cfg.maxBatchSize <= 0 {
		return nil, fmt.Errorf("embedder: max input length %d, max batch size %d: %w",
			cfg.maxInputLength, cfg.maxBatchSize, knowledge.ErrInvalidArgument)
	}

	providers := map[string]embeddings.Provider{
		defaultProvider.ModelID(): defaultProvider,
	}
	for model, p := range cfg.extraProviders {
		providers[model] = p
	}

	return &Generator{
		defaultModel:   defaultProvider.ModelID(),
		providers:      providers,
		maxInputLength: cfg.maxInputLength,
		maxBatchSize:   cfg.maxBatchSize,
		normalize:      cfg.normalize,
		retry: resilience.RetryConfig{
			Name:         "embeddings",
			MaxRetries:   cfg.retryAttempts,
			InitialDelay: cfg.retryDelay,
		},
		metrics: cfg.metrics,
		dimensions: map[string]int{},
		breakers:   map[string]*resilience.CircuitBreaker{},
	}, nil
}

// DefaultModel returns the model used when callers pass an empty model.
func (g *Generator) DefaultModel() string {
	return g.defaultModel
}

// Embed returns the embedding vector of text under model (the default model
// when model is empty). Overlong text is truncated with a warning.
func (g *Generator) Embed(ctx context.Context, text, model string) ([]float32, error) {
	p, model, err := g.provider(model)
	if err != nil {
		return nil, err
	}
	text = g.truncate(text)

	var vec []float32
	start := time.Now()
	err = g.breaker(model).Execute(func() error {
		return resilience.Retry(ctx, g.retry, func() error {
			var err error
			vec, err = p.Embed(ctx, text)
			return err
		})
	})
	g.metrics.RecordEmbeddingRequest(ctx, model, outcome(err), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("embedder: embed with %s: %w", model, err)
	}

	g.observeDimension(model, len(vec))
	if g.normalize {
		normalizeVector(vec)
	}
	return vec, nil
}

// EmbedBatch embeds texts, splitting them into provider calls of at most the
// configured batch size. The result preserves input order: result[i]
// corresponds to texts[i].
func (g *Generator) EmbedBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	p, model, err := g.provider(model)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	prepared := make([]string, len(texts))
	for i, text := range texts {
		prepared[i] = g.truncate(text)
	}

	result := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += g.maxBatchSize {
		end := min(start+g.maxBatchSize, len(prepared))
		batch := prepared[start:end]

		var vecs [][]float32
		start := time.Now()
		err := g.breaker(model).Execute(func() error {
			return resilience.Retry(ctx, g.retry, func() error {
				var err error
				vecs, err = p.EmbedBatch(ctx, batch)
				return err
			})
		})
		g.metrics.RecordEmbeddingRequest(ctx, model, outcome(err), time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("embedder: embed batch with %s: %w", model, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("embedder: provider returned %d vectors for %d texts: %w",
				len(vecs), len(batch), knowledge.ErrInternal)
		}
		result = append(result, vecs...)
	}

	if len(result) > 0 {
		g.observeDimension(model, len(result[0]))
	}
	if g.normalize {
		for _, vec := range result {
			normalizeVector(vec)
		}
	}
	return result, nil
}

// Dimension returns the vector length produced under model. It prefers the
// cached value from an earlier embed, then the provider's static value, and
// finally issues a single probe embedding.
func (g *Generator) Dimension(ctx context.Context, model string) (int, error) {
	p, model, err := g.provider(model)
	if err != nil {
		return 0, err
	}

	g.mu.Lock()
	dim, ok := g.dimensions[model]
	g.mu.Unlock()
	if ok {
		return dim, nil
	}

	if dim := p.Dimensions(); dim > 0 {
		g.observeDimension(model, dim)
		return dim, nil
	}

	vec, err := g.Embed(ctx, "dimension probe", model)
	if err != nil {
		return 0, fmt.Errorf("embedder: dimension probe for %s: %w", model, err)
	}
	return len(vec), nil
}

// provider resolves the provider for model, defaulting when model is empty.
func (g *Generator) provider(model string) (embeddings.Provider, string, error) {
	if model == "" {
		model = g.defaultModel
	}
	p, ok := g.providers[model]
	if !ok {
		return nil, "", fmt.Errorf("embedder: no provider registered for model %q: %w", model, knowledge.ErrInvalidArgument)
	}
	return p, model, nil
}

// breaker returns the circuit breaker guarding calls for model, creating it
// on first use. A model whose backend stays down trips its own breaker
// without affecting other models.
func (g *Generator) breaker(model string) *resilience.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[model]
	if !ok {
		cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "embeddings/" + model,
		})
		g.breakers[model] = cb
	}
	return cb
}

// truncate shortens text to the configured maximum, logging when it does.
func (g *Generator) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= g.maxInputLength {
		return text
	}
	slog.Warn("truncating embedding input",
		"length", len(runes),
		"max_length", g.maxInputLength)
	return string(runes[:g.maxInputLength])
}

// observeDimension records the vector length seen for a model.
func (g *Generator) observeDimension(model string, dim int) {
	if dim <= 0 {
		return
	}
	g.mu.Lock()
	g.dimensions[model] = dim
	g.mu.Unlock()
}

// outcome maps an error to the metric status attribute value.
func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// normalizeVector scales v to unit L2 norm in place. Zero vectors are left
// untouched.
func normalizeVector(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
