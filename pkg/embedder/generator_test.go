package embedder_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/smartinsight/knowledge-core/internal/resilience"
	"github.com/smartinsight/knowledge-core/pkg/embedder"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/provider/embeddings/mock"
)

// textVector synthesizes a deterministic, non-normalized vector from text so
// order and normalization assertions are meaningful.
func textVector(text string) []float32 {
	return []float32{float32(len(text)), 2, 0, 0}
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestNewGenerator(t *testing.T) {
	t.Parallel()

	t.Run("nil provider fails", func(t *testing.T) {
		t.Parallel()
		if _, err := embedder.NewGenerator(nil); !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("invalid limits fail", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "test-embed-v1"}
		if _, err := embedder.NewGenerator(p, embedder.WithMaxBatchSize(-1)); !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("default model from provider", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "test-embed-v1"}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		if g.DefaultModel() != "test-embed-v1" {
			t.Fatalf("DefaultModel() = %q", g.DefaultModel())
		}
	})
}

func TestEmbed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("normalizes to unit length", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedFunc: textVector}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		vec, err := g.Embed(ctx, "hello", "")
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if n := norm(vec); math.Abs(n-1) > 1e-6 {
			t.Fatalf("norm = %v, want 1", n)
		}
	})

	t.Run("normalization can be disabled", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedResult: []float32{3, 4}}
		g, err := embedder.NewGenerator(p, embedder.WithNormalization(false))
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		vec, err := g.Embed(ctx, "hello", "")
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if vec[0] != 3 || vec[1] != 4 {
			t.Fatalf("vec = %v, want [3 4]", vec)
		}
	})

	t.Run("zero vector survives normalization", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedResult: []float32{0, 0, 0}}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		vec, err := g.Embed(ctx, "hello", "")
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		for _, x := range vec {
			if x != 0 {
				t.Fatalf("vec = %v, want all zeros", vec)
			}
		}
	})

	t.Run("overlong input is truncated", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedResult: []float32{1}}
		g, err := embedder.NewGenerator(p, embedder.WithMaxInputLength(10))
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		if _, err := g.Embed(ctx, strings.Repeat("x", 50), ""); err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if len(p.EmbedCalls) != 1 {
			t.Fatalf("got %d calls", len(p.EmbedCalls))
		}
		if got := p.EmbedCalls[0].Text; len(got) != 10 {
			t.Fatalf("provider saw %d chars, want 10", len(got))
		}
	})

	t.Run("unknown model fails", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m"}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		if _, err := g.Embed(ctx, "hello", "other-model"); !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("retries exhaust on persistent failure", func(t *testing.T) {
		t.Parallel()
		boom := fmt.Errorf("backend down")
		p := &mock.Provider{ModelIDValue: "m", EmbedErr: boom}
		g, err := embedder.NewGenerator(p, embedder.WithRetry(1, time.Millisecond))
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		if _, err := g.Embed(ctx, "hello", ""); !errors.Is(err, boom) {
			t.Fatalf("expected wrapped backend error, got %v", err)
		}
		if len(p.EmbedCalls) != 2 {
			t.Fatalf("got %d attempts, want 2", len(p.EmbedCalls))
		}
	})

	t.Run("breaker opens after repeated outages", func(t *testing.T) {
		t.Parallel()
		boom := fmt.Errorf("backend down")
		p := &mock.Provider{ModelIDValue: "m", EmbedErr: boom}
		g, err := embedder.NewGenerator(p, embedder.WithRetry(1, time.Millisecond))
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}

		for range 5 {
			if _, err := g.Embed(ctx, "hello", ""); !errors.Is(err, boom) {
				t.Fatalf("expected wrapped backend error, got %v", err)
			}
		}
		attempts := len(p.EmbedCalls)

		if _, err := g.Embed(ctx, "hello", ""); !errors.Is(err, resilience.ErrCircuitOpen) {
			t.Fatalf("expected ErrCircuitOpen, got %v", err)
		}
		if len(p.EmbedCalls) != attempts {
			t.Fatalf("provider called while circuit open: %d -> %d", attempts, len(p.EmbedCalls))
		}
	})
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("splits batches and preserves order", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedFunc: textVector}
		g, err := embedder.NewGenerator(p,
			embedder.WithMaxBatchSize(2),
			embedder.WithNormalization(false))
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}

		texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
		vecs, err := g.EmbedBatch(ctx, texts, "")
		if err != nil {
			t.Fatalf("EmbedBatch: %v", err)
		}
		if len(vecs) != len(texts) {
			t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
		}
		for i, text := range texts {
			if vecs[i][0] != float32(len(text)) {
				t.Errorf("vecs[%d][0] = %v, want %d", i, vecs[i][0], len(text))
			}
		}
		if len(p.EmbedBatchCalls) != 3 {
			t.Fatalf("got %d provider calls, want 3", len(p.EmbedBatchCalls))
		}
		if len(p.EmbedBatchCalls[2].Texts) != 1 {
			t.Fatalf("final batch has %d texts, want 1", len(p.EmbedBatchCalls[2].Texts))
		}
	})

	t.Run("empty input yields nil", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m"}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		vecs, err := g.EmbedBatch(ctx, nil, "")
		if err != nil || vecs != nil {
			t.Fatalf("got %v, %v", vecs, err)
		}
	})

	t.Run("count mismatch is internal error", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedBatchResult: [][]float32{{1}}}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		if _, err := g.EmbedBatch(ctx, []string{"a", "b"}, ""); !errors.Is(err, knowledge.ErrInternal) {
			t.Fatalf("expected ErrInternal, got %v", err)
		}
	})
}

func TestDimension(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("provider static value", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", DimensionsValue: 1536}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		dim, err := g.Dimension(ctx, "")
		if err != nil {
			t.Fatalf("Dimension: %v", err)
		}
		if dim != 1536 {
			t.Fatalf("dim = %d, want 1536", dim)
		}
	})

	t.Run("cache preferred after embed", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedResult: []float32{1, 2, 3}}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		if _, err := g.Embed(ctx, "hello", ""); err != nil {
			t.Fatalf("Embed: %v", err)
		}
		dim, err := g.Dimension(ctx, "")
		if err != nil {
			t.Fatalf("Dimension: %v", err)
		}
		if dim != 3 {
			t.Fatalf("dim = %d, want 3", dim)
		}
		if p.DimensionsCallCount != 0 {
			t.Fatalf("Dimensions called %d times after cache fill", p.DimensionsCallCount)
		}
	})

	t.Run("probe when provider does not know", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{ModelIDValue: "m", EmbedResult: []float32{1, 2, 3, 4}}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		dim, err := g.Dimension(ctx, "")
		if err != nil {
			t.Fatalf("Dimension: %v", err)
		}
		if dim != 4 {
			t.Fatalf("dim = %d, want 4", dim)
		}
		if len(p.EmbedCalls) != 1 {
			t.Fatalf("got %d probe calls, want 1", len(p.EmbedCalls))
		}
		// The probe result must be cached.
		if _, err := g.Dimension(ctx, ""); err != nil {
			t.Fatalf("Dimension: %v", err)
		}
		if len(p.EmbedCalls) != 1 {
			t.Fatalf("probe repeated: %d calls", len(p.EmbedCalls))
		}
	})
}

func TestModelRouting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	def := &mock.Provider{ModelIDValue: "default-model", EmbedResult: []float32{1, 0}}
	alt := &mock.Provider{ModelIDValue: "alt-model", EmbedResult: []float32{0, 1}}
	g, err := embedder.NewGenerator(def, embedder.WithModelProvider("alt-model", alt))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	if _, err := g.Embed(ctx, "hello", "alt-model"); err != nil {
		t.Fatalf("Embed alt: %v", err)
	}
	if len(alt.EmbedCalls) != 1 || len(def.EmbedCalls) != 0 {
		t.Fatalf("alt calls = %d, default calls = %d", len(alt.EmbedCalls), len(def.EmbedCalls))
	}

	if _, err := g.Embed(ctx, "hello", ""); err != nil {
		t.Fatalf("Embed default: %v", err)
	}
	if len(def.EmbedCalls) != 1 {
		t.Fatalf("default calls = %d, want 1", len(def.EmbedCalls))
	}
}
