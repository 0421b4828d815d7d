package embedder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smartinsight/knowledge-core/pkg/embedder"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/provider/embeddings/mock"
	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
	vimock "github.com/smartinsight/knowledge-core/pkg/vectorindex/mock"
)

// newDocumentEmbedder wires a generator over a deterministic mock provider
// and an in-memory index. Vectors depend on the text so similarity ranking
// is real.
func newDocumentEmbedder(t *testing.T) (*embedder.DocumentEmbedder, *vimock.Index) {
	t.Helper()
	p := &mock.Provider{
		ModelIDValue:    "test-embed-v1",
		DimensionsValue: 3,
		EmbedFunc: func(text string) []float32 {
			v := []float32{1, 0, 0}
			for _, r := range text {
				v[int(r)%3] += 1
			}
			return v
		},
	}
	g, err := embedder.NewGenerator(p)
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	index := vimock.New()
	d, err := embedder.NewDocumentEmbedder(g, index, "docs")
	if err != nil {
		t.Fatalf("NewDocumentEmbedder: %v", err)
	}
	return d, index
}

func TestProcessDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("indexes chunks with payload", func(t *testing.T) {
		t.Parallel()
		d, index := newDocumentEmbedder(t)

		n, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
			DocumentID: "doc-1",
			Text:       "Postgres stores the triples. Qdrant stores the vectors.",
			Title:      "Architecture",
			TenantID:   "acme",
			Metadata:   map[string]any{"author": "dev"},
		})
		if err != nil {
			t.Fatalf("ProcessDocument: %v", err)
		}
		if n != 1 {
			t.Fatalf("chunks = %d, want 1", n)
		}

		info, err := index.GetCollectionInfo(ctx, "docs")
		if err != nil {
			t.Fatalf("GetCollectionInfo: %v", err)
		}
		if info.VectorSize != 3 || info.PointCount != 1 {
			t.Fatalf("info = %+v", info)
		}

		results, err := d.SearchSimilar(ctx, "Postgres stores the triples.", 5, "acme", "", "")
		if err != nil {
			t.Fatalf("SearchSimilar: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		r := results[0]
		if r.DocumentID != "doc-1" || r.DocumentTitle != "Architecture" {
			t.Fatalf("result = %+v", r)
		}
		if r.Section != "Architecture" {
			t.Errorf("section = %q, want title fallback", r.Section)
		}
		if r.ChunkIndex != 0 {
			t.Errorf("chunk index = %d, want 0", r.ChunkIndex)
		}
		if r.Text == "" {
			t.Error("result text is empty")
		}
	})

	t.Run("reserved fields win over metadata", func(t *testing.T) {
		t.Parallel()
		d, index := newDocumentEmbedder(t)

		_, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
			DocumentID: "doc-1",
			Text:       "Short content.",
			Title:      "T",
			TenantID:   "acme",
			Metadata: map[string]any{
				"document_id": "spoofed",
				"tenant_id":   "other",
				"author":      "dev",
			},
		})
		if err != nil {
			t.Fatalf("ProcessDocument: %v", err)
		}

		results, err := index.Search(ctx, vectorindex.SearchRequest{
			Collection: "docs",
			Vector:     []float32{1, 0, 0},
			TenantID:   "acme",
			Limit:      1,
		})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results", len(results))
		}
		payload := results[0].Payload
		if payload["document_id"] != "doc-1" || payload["tenant_id"] != "acme" {
			t.Fatalf("reserved fields overwritten: %+v", payload)
		}
		if payload["author"] != "dev" {
			t.Fatalf("caller metadata lost: %+v", payload)
		}
	})

	t.Run("point IDs derive from document and position", func(t *testing.T) {
		t.Parallel()
		d, index := newDocumentEmbedder(t)

		_, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
			DocumentID: "doc-1",
			Text:       "Only chunk.",
			TenantID:   "acme",
		})
		if err != nil {
			t.Fatalf("ProcessDocument: %v", err)
		}
		results, err := index.Search(ctx, vectorindex.SearchRequest{
			Collection: "docs",
			Vector:     []float32{1, 0, 0},
			TenantID:   "acme",
			Limit:      1,
		})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if results[0].ID != "doc-1_0" {
			t.Fatalf("point ID = %q, want doc-1_0", results[0].ID)
		}
	})

	t.Run("reprocessing replaces instead of duplicating", func(t *testing.T) {
		t.Parallel()
		d, index := newDocumentEmbedder(t)

		for range 2 {
			if _, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
				DocumentID: "doc-1",
				Text:       "Same content both times.",
				TenantID:   "acme",
			}); err != nil {
				t.Fatalf("ProcessDocument: %v", err)
			}
		}
		n, err := index.Count(ctx, "docs", nil)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 1 {
			t.Fatalf("count = %d, want 1", n)
		}
	})

	t.Run("empty text indexes nothing", func(t *testing.T) {
		t.Parallel()
		d, index := newDocumentEmbedder(t)

		n, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
			DocumentID: "doc-1",
			Text:       "   \n ",
			TenantID:   "acme",
		})
		if err != nil {
			t.Fatalf("ProcessDocument: %v", err)
		}
		if n != 0 {
			t.Fatalf("chunks = %d, want 0", n)
		}
		total, err := index.Count(ctx, "docs", nil)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if total != 0 {
			t.Fatalf("count = %d, want 0", total)
		}
	})

	t.Run("missing IDs fail", func(t *testing.T) {
		t.Parallel()
		d, _ := newDocumentEmbedder(t)

		_, err := d.ProcessDocument(ctx, embedder.ProcessRequest{Text: "x", TenantID: "acme"})
		if !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		_, err = d.ProcessDocument(ctx, embedder.ProcessRequest{DocumentID: "doc-1", Text: "x"})
		if !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("embedding count mismatch is internal", func(t *testing.T) {
		t.Parallel()
		p := &mock.Provider{
			ModelIDValue:     "broken",
			DimensionsValue:  3,
			EmbedBatchResult: [][]float32{{1, 0, 0}, {0, 1, 0}},
		}
		g, err := embedder.NewGenerator(p)
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		d, err := embedder.NewDocumentEmbedder(g, vimock.New(), "docs")
		if err != nil {
			t.Fatalf("NewDocumentEmbedder: %v", err)
		}
		_, err = d.ProcessDocument(ctx, embedder.ProcessRequest{
			DocumentID: "doc-1",
			Text:       "One chunk only.",
			TenantID:   "acme",
		})
		if !errors.Is(err, knowledge.ErrInternal) {
			t.Fatalf("expected ErrInternal, got %v", err)
		}
	})
}

func TestSearchSimilar(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("validates request", func(t *testing.T) {
		t.Parallel()
		d, _ := newDocumentEmbedder(t)
		if _, err := d.SearchSimilar(ctx, "", 5, "acme", "", ""); !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := d.SearchSimilar(ctx, "q", 0, "acme", "", ""); !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
		if _, err := d.SearchSimilar(ctx, "q", 5, "", "", ""); !errors.Is(err, knowledge.ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("never crosses tenants", func(t *testing.T) {
		t.Parallel()
		d, _ := newDocumentEmbedder(t)

		for _, tenant := range []string{"acme", "globex"} {
			if _, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
				DocumentID: "doc-" + tenant,
				Text:       "Identical content for both tenants.",
				TenantID:   tenant,
			}); err != nil {
				t.Fatalf("ProcessDocument %s: %v", tenant, err)
			}
		}

		results, err := d.SearchSimilar(ctx, "Identical content", 10, "acme", "", "")
		if err != nil {
			t.Fatalf("SearchSimilar: %v", err)
		}
		if len(results) != 1 || results[0].DocumentID != "doc-acme" {
			t.Fatalf("results = %+v", results)
		}
	})
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d, index := newDocumentEmbedder(t)

	for _, doc := range []string{"doc-1", "doc-2"} {
		if _, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
			DocumentID: doc,
			Text:       "Content of " + doc + ".",
			TenantID:   "acme",
		}); err != nil {
			t.Fatalf("ProcessDocument %s: %v", doc, err)
		}
	}
	if _, err := d.ProcessDocument(ctx, embedder.ProcessRequest{
		DocumentID: "doc-1",
		Text:       "Foreign tenant copy.",
		TenantID:   "globex",
	}); err != nil {
		t.Fatalf("ProcessDocument globex: %v", err)
	}

	if err := d.DeleteDocument(ctx, "doc-1", "acme", ""); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	remaining, err := index.Count(ctx, "docs", vectorindex.Filter{vectorindex.PayloadTenantID: "acme"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("acme points = %d, want 1", remaining)
	}
	foreign, err := index.Count(ctx, "docs", vectorindex.Filter{vectorindex.PayloadTenantID: "globex"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if foreign != 1 {
		t.Fatalf("globex points = %d, want 1", foreign)
	}

	if err := d.DeleteDocument(ctx, "", "acme", ""); !errors.Is(err, knowledge.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
