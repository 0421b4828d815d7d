package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/knowledge/memstore"
)

// stubExtractor is a canned-output extractor for pipeline tests.
type stubExtractor struct {
	name      string
	relations []knowledge.Relation
	err       error
	rejectAll bool
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) RelationTypes() []knowledge.RelationType {
	return []knowledge.RelationType{knowledge.RelationAssociatedWith}
}

func (s *stubExtractor) Validate(_, _ knowledge.Entity, _ knowledge.RelationType) bool {
	return !s.rejectAll
}

func (s *stubExtractor) Extract(_ context.Context, _ string, _ []knowledge.Entity, _, _ string) ([]knowledge.Relation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.relations, nil
}

func testEntities() []knowledge.Entity {
	return []knowledge.Entity{
		{ID: "E1", TenantID: "acme", Type: "person", Name: "Alice"},
		{ID: "E2", TenantID: "acme", Type: "organization", Name: "Initech"},
		{ID: "E3", TenantID: "acme", Type: "location", Name: "Berlin"},
	}
}

func candidate(source, target string, rt knowledge.RelationType, confidence float64) knowledge.Relation {
	return knowledge.Relation{
		SourceEntityID: source,
		TargetEntityID: target,
		Type:           rt,
		Confidence:     confidence,
		Directional:    true,
	}
}

func newPipeline(t *testing.T, cfg PipelineConfig, extractors ...Extractor) *Pipeline {
	t.Helper()
	reg := NewRegistry()
	for _, e := range extractors {
		if err := reg.Register(e); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	p, err := NewPipeline(reg, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func TestProcessArguments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{name: "stub"})

	cases := []struct {
		name     string
		text     string
		entities []knowledge.Entity
		tenant   string
	}{
		{"empty text", "", testEntities(), "acme"},
		{"nil entities", "text", nil, "acme"},
		{"empty tenant", "text", testEntities(), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := p.Process(ctx, tc.text, tc.entities, "doc-1", tc.tenant, nil)
			if !errors.Is(err, knowledge.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestProcessValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("low confidence dropped", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name: "stub",
			relations: []knowledge.Relation{
				candidate("E1", "E2", knowledge.RelationWorksFor, 0.4),
				candidate("E1", "E3", knowledge.RelationAssociatedWith, 0.6),
			},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 1 || res.Relations[0].TargetEntityID != "E3" {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})

	t.Run("unknown endpoint dropped", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name:      "stub",
			relations: []knowledge.Relation{candidate("E1", "E9", knowledge.RelationWorksFor, 0.9)},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 0 {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})

	t.Run("self relation dropped by default", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name:      "stub",
			relations: []knowledge.Relation{candidate("E1", "E1", knowledge.RelationSimilarTo, 0.9)},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 0 {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})

	t.Run("self relation kept when allowed", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultPipelineConfig()
		cfg.AllowSelfRelations = true
		p := newPipeline(t, cfg, &stubExtractor{
			name:      "stub",
			relations: []knowledge.Relation{candidate("E1", "E1", knowledge.RelationSimilarTo, 0.9)},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 1 {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})

	t.Run("extractor validation enforced", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name:      "stub",
			rejectAll: true,
			relations: []knowledge.Relation{candidate("E1", "E2", knowledge.RelationWorksFor, 0.9)},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 0 {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})

	t.Run("extractor validation skippable", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultPipelineConfig()
		cfg.ValidateEntityTypes = false
		p := newPipeline(t, cfg, &stubExtractor{
			name:      "stub",
			rejectAll: true,
			relations: []knowledge.Relation{candidate("E1", "E2", knowledge.RelationWorksFor, 0.9)},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 1 {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})
}

func TestProcessDedup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("highest confidence wins", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name: "stub",
			relations: []knowledge.Relation{
				candidate("E1", "E2", knowledge.RelationWorksFor, 0.7),
				candidate("E1", "E2", knowledge.RelationWorksFor, 0.9),
			},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 1 {
			t.Fatalf("got %d relations, want 1", len(res.Relations))
		}
		if res.Relations[0].Confidence != 0.9 {
			t.Fatalf("confidence = %v, want 0.9", res.Relations[0].Confidence)
		}
	})

	t.Run("ties resolve to first seen", func(t *testing.T) {
		t.Parallel()
		first := candidate("E1", "E2", knowledge.RelationWorksFor, 0.8)
		first.SourceContext = "first"
		second := candidate("E1", "E2", knowledge.RelationWorksFor, 0.8)
		second.SourceContext = "second"
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name:      "stub",
			relations: []knowledge.Relation{first, second},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 1 || res.Relations[0].SourceContext != "first" {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})

	t.Run("same endpoints different type both survive", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name: "stub",
			relations: []knowledge.Relation{
				candidate("E1", "E2", knowledge.RelationWorksFor, 0.8),
				candidate("E1", "E2", knowledge.RelationAssociatedWith, 0.8),
			},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 2 {
			t.Fatalf("got %d relations, want 2", len(res.Relations))
		}
	})

	t.Run("reruns produce the same keys", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), &stubExtractor{
			name: "stub",
			relations: []knowledge.Relation{
				candidate("E1", "E2", knowledge.RelationWorksFor, 0.7),
				candidate("E1", "E2", knowledge.RelationWorksFor, 0.9),
				candidate("E2", "E3", knowledge.RelationLocatedIn, 0.8),
			},
		})
		key := func(r knowledge.Relation) string {
			return fmt.Sprintf("%s|%s|%s|%v", r.SourceEntityID, r.TargetEntityID, r.Type, r.Confidence)
		}
		var runs [2][]string
		for i := range runs {
			res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			for _, r := range res.Relations {
				runs[i] = append(runs[i], key(r))
			}
		}
		if len(runs[0]) != len(runs[1]) {
			t.Fatalf("run sizes differ: %v vs %v", runs[0], runs[1])
		}
		for i := range runs[0] {
			if runs[0][i] != runs[1][i] {
				t.Fatalf("runs differ at %d: %q vs %q", i, runs[0][i], runs[1][i])
			}
		}
	})
}

func TestProcessFailureIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	p := newPipeline(t, DefaultPipelineConfig(),
		&stubExtractor{name: "broken", err: errors.New("model unavailable")},
		&stubExtractor{
			name:      "working",
			relations: []knowledge.Relation{candidate("E1", "E2", knowledge.RelationWorksFor, 0.9)},
		},
	)
	res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Relations) != 1 {
		t.Fatalf("relations = %+v", res.Relations)
	}
	if res.Relations[0].ExtractionMethod != "working" {
		t.Fatalf("method = %q", res.Relations[0].ExtractionMethod)
	}
}

func TestProcessFilter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a := &stubExtractor{name: "pattern", relations: []knowledge.Relation{candidate("E1", "E2", knowledge.RelationWorksFor, 0.9)}}
	b := &stubExtractor{name: "cooccurrence", relations: []knowledge.Relation{candidate("E2", "E3", knowledge.RelationAssociatedWith, 0.9)}}

	t.Run("filter selects by substring", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), a, b)
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", []string{"PATT"})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 1 || res.Relations[0].ExtractionMethod != "pattern" {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})

	t.Run("unmatched filter falls back to all", func(t *testing.T) {
		t.Parallel()
		p := newPipeline(t, DefaultPipelineConfig(), a, b)
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", []string{"nosuch"})
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Relations) != 2 {
			t.Fatalf("relations = %+v", res.Relations)
		}
	})
}

func TestProcessAutoConvert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("conversion off yields no triples", func(t *testing.T) {
		t.Parallel()
		cfg := DefaultPipelineConfig()
		cfg.AutoConvertToTriples = false
		p := newPipeline(t, cfg, &stubExtractor{
			name:      "stub",
			relations: []knowledge.Relation{candidate("E1", "E2", knowledge.RelationWorksFor, 0.9)},
		})
		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if len(res.Triples) != 0 || res.Stored != 0 {
			t.Fatalf("result = %+v", res)
		}
	})

	t.Run("conversion stores into attached store", func(t *testing.T) {
		t.Parallel()
		nonDirectional := candidate("E1", "E2", knowledge.RelationAssociatedWith, 0.9)
		nonDirectional.Directional = false

		reg := NewRegistry()
		if err := reg.Register(&stubExtractor{
			name: "stub",
			relations: []knowledge.Relation{
				candidate("E1", "E2", knowledge.RelationWorksFor, 0.9),
				nonDirectional,
			},
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
		store := memstore.New()
		p, err := NewPipeline(reg, DefaultPipelineConfig(), WithStore(store))
		if err != nil {
			t.Fatalf("NewPipeline: %v", err)
		}

		res, err := p.Process(ctx, "text", testEntities(), "doc-1", "acme", nil)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		// One directional triple plus a non-directional pair.
		if len(res.Triples) != 3 || res.Stored != 3 {
			t.Fatalf("triples = %d, stored = %d", len(res.Triples), res.Stored)
		}

		stats, err := store.Statistics(ctx, "acme")
		if err != nil {
			t.Fatalf("Statistics: %v", err)
		}
		if stats.Triples != 3 {
			t.Fatalf("stored triples = %d, want 3", stats.Triples)
		}
	})
}
