package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
)

// DefaultMinConfidence is the confidence floor applied when the pipeline
// config leaves it unset.
const DefaultMinConfidence = 0.5

// PipelineConfig tunes validation and conversion behavior.
type PipelineConfig struct {
	// MinConfidence drops candidates below this confidence. Default: 0.5.
	MinConfidence float64

	// AllowSelfRelations permits relations whose source and target are the
	// same entity. Default: false.
	AllowSelfRelations bool

	// ValidateEntityTypes consults the producing extractor's Validate for
	// every candidate. Default: true.
	ValidateEntityTypes bool

	// AutoConvertToTriples maps surviving relations to triples, and stores
	// them when the pipeline holds a triple store. Default: true.
	AutoConvertToTriples bool

	// DefaultGraphURI names the graph converted triples are placed into.
	// Empty selects the tenant's default graph.
	DefaultGraphURI string
}

// DefaultPipelineConfig returns the documented defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MinConfidence:        DefaultMinConfidence,
		ValidateEntityTypes:  true,
		AutoConvertToTriples: true,
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Relations are the validated, deduplicated relations.
	Relations []knowledge.Relation

	// Triples are the converted triples, empty unless auto-conversion is on.
	Triples []knowledge.Triple

	// Stored is the number of triples persisted, 0 when the pipeline has no
	// store attached.
	Stored int
}

// Pipeline runs registered extractors over document text, validates and
// deduplicates their candidates, and optionally converts the survivors to
// triples. It is safe for concurrent use.
type Pipeline struct {
	registry *Registry
	mapper   *Mapper
	store    knowledge.TripleStore
	cfg      PipelineConfig
	metrics  *observe.Metrics
}

// PipelineOption is a functional option for [NewPipeline].
type PipelineOption func(*Pipeline)

// WithStore attaches a triple store; converted triples are persisted into it.
func WithStore(store knowledge.TripleStore) PipelineOption {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithMetrics overrides the metrics instance pipeline runs are recorded on.
// Intended for tests.
func WithMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline builds a pipeline over the given registry.
func NewPipeline(registry *Registry, cfg PipelineConfig, opts ...PipelineOption) (*Pipeline, error) {
	if registry == nil {
		return nil, fmt.Errorf("extract: pipeline requires a registry: %w", knowledge.ErrInvalidArgument)
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("extract: min confidence %v out of range: %w", cfg.MinConfidence, knowledge.ErrInvalidArgument)
	}
	p := &Pipeline{
		registry: registry,
		mapper:   NewMapper(cfg.DefaultGraphURI),
		cfg:      cfg,
		metrics:  observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Process extracts relations from text among the given entities.
//
// Extractors run concurrently, one task each; a failing extractor is logged
// and skipped without aborting the run. Candidates are validated against the
// config, deduplicated by (source, target, type) keeping the highest
// confidence (ties resolve to the first seen), and, when auto-conversion is
// on, mapped to triples in the configured graph.
//
// extractorFilter selects extractors by case-insensitive substring match on
// their names; a filter matching nothing falls back to all extractors with a
// warning.
func (p *Pipeline) Process(ctx context.Context, text string, entities []knowledge.Entity, sourceDocumentID, tenant string, extractorFilter []string) (Result, error) {
	if text == "" {
		return Result{}, fmt.Errorf("extract: process: empty text: %w", knowledge.ErrInvalidArgument)
	}
	if entities == nil {
		return Result{}, fmt.Errorf("extract: process: nil entities: %w", knowledge.ErrInvalidArgument)
	}
	if tenant == "" {
		return Result{}, fmt.Errorf("extract: process: empty tenant: %w", knowledge.ErrInvalidArgument)
	}

	p.metrics.ActivePipelineRuns.Add(ctx, 1)
	defer p.metrics.ActivePipelineRuns.Add(ctx, -1)

	extractors, fellBack := p.registry.Select(extractorFilter)
	if fellBack {
		slog.Warn("extractor filter matched nothing, using all extractors",
			"filter", extractorFilter,
			"tenant_id", tenant)
	}
	if len(extractors) == 0 {
		return Result{}, nil
	}

	// One task per extractor; slots keep aggregation in registration order.
	candidates := make([][]knowledge.Relation, len(extractors))
	var g errgroup.Group
	for i, e := range extractors {
		g.Go(func() error {
			rels, err := e.Extract(ctx, text, entities, sourceDocumentID, tenant)
			if err != nil {
				slog.Warn("extractor failed",
					"extractor", e.Name(),
					"tenant_id", tenant,
					"error", err)
				p.metrics.RecordExtractorError(ctx, e.Name())
				return nil
			}
			candidates[i] = rels
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]knowledge.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	now := time.Now().UTC()
	type keyed struct {
		key string
		rel knowledge.Relation
	}
	var accepted []keyed
	index := map[string]int{}

	for i, e := range extractors {
		for _, r := range candidates[i] {
			r = p.complete(r, e, sourceDocumentID, tenant, now)
			if !p.valid(r, e, byID) {
				continue
			}
			key := r.SourceEntityID + "\x00" + r.TargetEntityID + "\x00" + string(r.Type)
			if at, ok := index[key]; ok {
				if r.Confidence > accepted[at].rel.Confidence {
					accepted[at] = keyed{key: key, rel: r}
				}
				continue
			}
			index[key] = len(accepted)
			accepted = append(accepted, keyed{key: key, rel: r})
		}
	}

	result := Result{Relations: make([]knowledge.Relation, 0, len(accepted))}
	survivors := map[string]int64{}
	for _, k := range accepted {
		result.Relations = append(result.Relations, k.rel)
		survivors[k.rel.ExtractionMethod]++
	}
	for method, n := range survivors {
		p.metrics.RecordRelationsExtracted(ctx, method, n)
	}

	if p.cfg.AutoConvertToTriples {
		for _, r := range result.Relations {
			ts, err := p.mapper.Map(r, "")
			if err != nil {
				slog.Warn("relation to triple conversion failed",
					"relation_id", r.ID,
					"tenant_id", tenant,
					"error", err)
				continue
			}
			result.Triples = append(result.Triples, ts...)
		}
		if p.store != nil && len(result.Triples) > 0 {
			stored, err := p.store.AddTriples(ctx, tenant, result.Triples)
			if err != nil {
				return result, fmt.Errorf("extract: store converted triples: %w", err)
			}
			result.Stored = stored
		}
	}

	slog.Info("relation mapping complete",
		"tenant_id", tenant,
		"extractors", len(extractors),
		"relations", len(result.Relations),
		"triples", len(result.Triples))
	return result, nil
}

// complete fills in the fields extractors are allowed to leave empty and
// pins the tenant to the caller's.
func (p *Pipeline) complete(r knowledge.Relation, e Extractor, sourceDocumentID, tenant string, now time.Time) knowledge.Relation {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.TenantID = tenant
	if r.SourceDocumentID == "" {
		r.SourceDocumentID = sourceDocumentID
	}
	if r.ExtractionMethod == "" {
		r.ExtractionMethod = e.Name()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return r
}

// valid applies the configured validation rules to one candidate.
func (p *Pipeline) valid(r knowledge.Relation, e Extractor, byID map[string]knowledge.Entity) bool {
	if r.Confidence < p.cfg.MinConfidence || r.Confidence > 1 {
		return false
	}
	source, okS := byID[r.SourceEntityID]
	target, okT := byID[r.TargetEntityID]
	if !okS || !okT {
		slog.Debug("dropping relation with unknown endpoint",
			"relation_id", r.ID,
			"source", r.SourceEntityID,
			"target", r.TargetEntityID)
		return false
	}
	if !p.cfg.AllowSelfRelations && r.SourceEntityID == r.TargetEntityID {
		return false
	}
	if p.cfg.ValidateEntityTypes && !e.Validate(source, target, r.Type) {
		slog.Debug("dropping relation rejected by extractor validation",
			"relation_id", r.ID,
			"extractor", e.Name(),
			"type", r.Type)
		return false
	}
	return true
}
