// Command knowledge-core runs the SmartInsight knowledge platform server: it
// wires the relation mapping pipeline, the versioned triple store, and the
// document embedding stack, and serves health and Prometheus metrics
// endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartinsight/knowledge-core/internal/config"
	"github.com/smartinsight/knowledge-core/internal/extract"
	"github.com/smartinsight/knowledge-core/internal/health"
	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/pkg/embedder"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/knowledge/memstore"
	kpostgres "github.com/smartinsight/knowledge-core/pkg/knowledge/postgres"
	"github.com/smartinsight/knowledge-core/pkg/knowledge/sparql"
	"github.com/smartinsight/knowledge-core/pkg/provider/embeddings"
	ollamaembed "github.com/smartinsight/knowledge-core/pkg/provider/embeddings/ollama"
	oaembed "github.com/smartinsight/knowledge-core/pkg/provider/embeddings/openai"
	"github.com/smartinsight/knowledge-core/pkg/provider/llm/anyllm"
	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
	pgvectorindex "github.com/smartinsight/knowledge-core/pkg/vectorindex/pgvector"
	qdrantindex "github.com/smartinsight/knowledge-core/pkg/vectorindex/qdrant"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "knowledge-core: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "knowledge-core: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("knowledge-core starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "knowledge-core",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Platform assembly ─────────────────────────────────────────────────────
	p, err := buildPlatform(ctx, cfg)
	if err != nil {
		slog.Error("failed to assemble platform", "err", err)
		return 1
	}
	defer p.close()

	printStartupSummary(cfg, p)

	// ── HTTP listener: health + metrics ───────────────────────────────────────
	mux := http.NewServeMux()
	p.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listener error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Platform wiring ───────────────────────────────────────────────────────────

// platform groups the long-lived components built from configuration. The
// pipeline, query executor, and document embedder are the working surface the
// rest of the system (and future transports) drive.
type platform struct {
	store     knowledge.TripleStore
	queries   *sparql.Executor
	pipeline  *extract.Pipeline
	documents *embedder.DocumentEmbedder
	index     vectorindex.Index
	health    *health.Handler

	extractors []string
	closers    []func() error
}

// close releases backend connections in reverse construction order.
func (p *platform) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			slog.Warn("close error", "err", err)
		}
	}
}

// buildPlatform constructs every component named in cfg and returns them
// wired together.
func buildPlatform(ctx context.Context, cfg *config.Config) (*platform, error) {
	p := &platform{}

	// Embedding provider and generator.
	prov, err := buildEmbeddingsProvider(cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	gen, err := embedder.NewGenerator(prov,
		embedder.WithMaxInputLength(cfg.Embeddings.MaxInputLength),
		embedder.WithMaxBatchSize(cfg.Embeddings.MaxBatchSize),
		embedder.WithNormalization(*cfg.Embeddings.NormalizeVectors),
		embedder.WithRetry(cfg.Embeddings.MaxRetryAttempts, cfg.Embeddings.RetryDelay()),
	)
	if err != nil {
		return nil, fmt.Errorf("build embedding generator: %w", err)
	}
	slog.Info("embedding generator ready",
		"provider", cfg.Embeddings.Provider,
		"model", gen.DefaultModel(),
	)

	// Vector index.
	p.index, err = buildVectorIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, p.index.Close)

	p.documents, err = embedder.NewDocumentEmbedder(gen, p.index, cfg.Embeddings.DocumentCollection)
	if err != nil {
		return nil, fmt.Errorf("build document embedder: %w", err)
	}

	// Triple store and query executor.
	switch cfg.TripleStore.Backend {
	case config.StorePostgres:
		store, err := kpostgres.NewStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("build postgres triple store: %w", err)
		}
		p.store = store
		p.closers = append(p.closers, func() error { store.Close(); return nil })
	default:
		p.store = memstore.New()
	}
	p.queries = sparql.NewExecutor(p.store, cfg.TripleStore.QueryTimeout())
	slog.Info("triple store ready", "backend", cfg.TripleStore.Backend)

	// Relation extractors and pipeline.
	reg := extract.NewRegistry()
	for _, x := range []extract.Extractor{
		extract.NewPatternExtractor(),
		extract.NewCooccurrenceExtractor(),
	} {
		if err := reg.Register(x); err != nil {
			return nil, fmt.Errorf("register extractor %q: %w", x.Name(), err)
		}
	}
	if name := cfg.RelationMapping.LLMProvider; name != "" {
		var opts []anyllmlib.Option
		if cfg.RelationMapping.LLMAPIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.RelationMapping.LLMAPIKey))
		}
		llmProv, err := anyllm.New(name, cfg.RelationMapping.LLMModel, opts...)
		if err != nil {
			return nil, fmt.Errorf("build llm provider %q: %w", name, err)
		}
		llmX, err := extract.NewLLMExtractor(llmProv)
		if err != nil {
			return nil, fmt.Errorf("build llm extractor: %w", err)
		}
		if err := reg.Register(llmX); err != nil {
			return nil, fmt.Errorf("register extractor %q: %w", llmX.Name(), err)
		}
	}
	for _, x := range reg.List() {
		p.extractors = append(p.extractors, x.Name())
	}

	p.pipeline, err = extract.NewPipeline(reg, extract.PipelineConfig{
		MinConfidence:        cfg.RelationMapping.MinConfidenceThreshold,
		AllowSelfRelations:   cfg.RelationMapping.AllowSelfRelations,
		ValidateEntityTypes:  *cfg.RelationMapping.ValidateEntityTypes,
		AutoConvertToTriples: *cfg.RelationMapping.AutoConvertToTriples,
		DefaultGraphURI:      cfg.RelationMapping.DefaultGraphURI,
	}, extract.WithStore(p.store))
	if err != nil {
		return nil, fmt.Errorf("build relation pipeline: %w", err)
	}
	slog.Info("relation pipeline ready", "extractors", p.extractors)

	// Readiness checks against the live backends.
	p.health = health.New(
		health.Checker{
			Name: "triple_store",
			Check: func(ctx context.Context) error {
				_, err := p.store.Statistics(ctx, "system")
				return err
			},
		},
		health.Checker{
			Name: "vector_index",
			Check: func(ctx context.Context) error {
				_, err := p.index.ListCollections(ctx)
				return err
			},
		},
	)

	return p, nil
}

// buildEmbeddingsProvider constructs the configured embedding backend.
func buildEmbeddingsProvider(cfg config.EmbeddingsConfig) (embeddings.Provider, error) {
	dims := optInt(cfg.ModelOptions[cfg.DefaultModel], "dimensions")

	switch cfg.Provider {
	case "openai":
		var opts []oaembed.Option
		if cfg.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(cfg.BaseURL))
		}
		if dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		p, err := oaembed.New(cfg.APIKey, cfg.DefaultModel, opts...)
		if err != nil {
			return nil, fmt.Errorf("build openai embeddings provider: %w", err)
		}
		return p, nil
	case "ollama":
		var opts []ollamaembed.Option
		if dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		p, err := ollamaembed.New(cfg.BaseURL, cfg.DefaultModel, opts...)
		if err != nil {
			return nil, fmt.Errorf("build ollama embeddings provider: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported embeddings provider %q", cfg.Provider)
	}
}

// buildVectorIndex constructs the configured vector index backend.
func buildVectorIndex(ctx context.Context, cfg *config.Config) (vectorindex.Index, error) {
	switch cfg.VectorIndex.Backend {
	case config.IndexPgvector:
		idx, err := pgvectorindex.New(ctx, cfg.Postgres.DSN, cfg.VectorIndex.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("build pgvector index: %w", err)
		}
		return idx, nil
	default:
		idx, err := qdrantindex.New(qdrantindex.Config{
			Host:          cfg.VectorIndex.Host,
			Port:          cfg.VectorIndex.GRPCPort,
			APIKey:        cfg.VectorIndex.APIKey,
			UseTLS:        cfg.VectorIndex.UseHTTPS,
			BatchSize:     cfg.VectorIndex.BatchSize,
			MaxRetries:    cfg.VectorIndex.MaxRetries,
			MaxRetryDelay: cfg.VectorIndex.MaxRetryDelay(),
		})
		if err != nil {
			return nil, fmt.Errorf("build qdrant index: %w", err)
		}
		return idx, nil
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, p *platform) {
	fmt.Println("╔════════════════════════════════════════════╗")
	fmt.Println("║      knowledge-core — startup summary      ║")
	fmt.Println("╠════════════════════════════════════════════╣")
	printRow("Triple store", string(cfg.TripleStore.Backend))
	printRow("Vector index", string(cfg.VectorIndex.Backend))
	printRow("Embeddings", cfg.Embeddings.Provider+" / "+cfg.Embeddings.DefaultModel)
	if cfg.RelationMapping.LLMProvider != "" {
		printRow("LLM extractor", cfg.RelationMapping.LLMProvider+" / "+cfg.RelationMapping.LLMModel)
	} else {
		printRow("LLM extractor", "(disabled)")
	}
	printRow("Extractors", fmt.Sprintf("%d registered", len(p.extractors)))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚════════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 24 {
		value = value[:21] + "…"
	}
	fmt.Printf("║  %-14s : %-24s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer value from a model options map. YAML decodes
// small integers as int, but be liberal about the numeric type.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
