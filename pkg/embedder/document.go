package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/pkg/chunk"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
)

// DefaultCollection is the vector collection used when a request names none.
const DefaultCollection = "knowledge_chunks"

// ProcessRequest carries one document through chunking, embedding and
// indexing.
type ProcessRequest struct {
	// DocumentID identifies the document; chunk point IDs derive from it.
	DocumentID string

	// Text is the full document text.
	Text string

	// Title is the document title, used as the fallback section name.
	Title string

	// Metadata is caller-supplied payload merged into every chunk point.
	// Reserved fields (document_id, tenant_id, chunk_index, ...) win over
	// caller values.
	Metadata map[string]any

	// TenantID is the owning tenant. Required.
	TenantID string

	// Collection overrides the default vector collection.
	Collection string

	// ChunkSize and Overlap override the chunker defaults when positive.
	ChunkSize int
	Overlap   int

	// Model overrides the generator's default embedding model.
	Model string
}

// DocumentSearchResult is one similarity hit mapped back to document terms.
type DocumentSearchResult struct {
	Text          string
	Score         float32
	DocumentID    string
	DocumentTitle string
	Section       string
	ChunkIndex    int
}

// DocumentEmbedder glues the chunker, a [Generator] and a vector index into
// document-level operations. It is safe for concurrent use.
type DocumentEmbedder struct {
	generator  *Generator
	index      vectorindex.Index
	collection string
	metrics    *observe.Metrics
}

// NewDocumentEmbedder builds a DocumentEmbedder. defaultCollection falls back
// to [DefaultCollection] when empty. Index RPCs are recorded on the
// generator's metrics instance.
func NewDocumentEmbedder(g *Generator, index vectorindex.Index, defaultCollection string) (*DocumentEmbedder, error) {
	if g == nil || index == nil {
		return nil, fmt.Errorf("embedder: generator and index must not be nil: %w", knowledge.ErrInvalidArgument)
	}
	if defaultCollection == "" {
		defaultCollection = DefaultCollection
	}
	return &DocumentEmbedder{
		generator:  g,
		index:      index,
		collection: defaultCollection,
		metrics:    g.metrics,
	}, nil
}

// observeIndex records the outcome and latency of one vector index RPC.
func (d *DocumentEmbedder) observeIndex(ctx context.Context, op string, start time.Time, err error) {
	d.metrics.RecordVectorIndexRequest(ctx, op, outcome(err), time.Since(start).Seconds())
}

// ProcessDocument chunks req.Text, embeds every chunk and upserts the
// resulting points. It returns the number of chunks stored. An embedding
// count that differs from the chunk count aborts with ErrInternal before
// anything is written.
func (d *DocumentEmbedder) ProcessDocument(ctx context.Context, req ProcessRequest) (int, error) {
	if req.DocumentID == "" || req.TenantID == "" {
		return 0, fmt.Errorf("embedder: document ID and tenant required: %w", knowledge.ErrInvalidArgument)
	}
	collection := req.Collection
	if collection == "" {
		collection = d.collection
	}

	if err := d.ensureCollection(ctx, collection, req.Model); err != nil {
		return 0, err
	}

	chunks, err := chunk.Split(req.Text, req.Title, req.ChunkSize, req.Overlap)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := d.generator.EmbedBatch(ctx, texts, req.Model)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder: %d embeddings for %d chunks: %w",
			len(vectors), len(chunks), knowledge.ErrInternal)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	points := make([]vectorindex.Point, len(chunks))
	for i, c := range chunks {
		section := c.Section
		if section == "" {
			section = req.Title
		}

		payload := make(map[string]any, len(req.Metadata)+7)
		for k, v := range req.Metadata {
			payload[k] = v
		}
		// Reserved fields overwrite caller-supplied metadata.
		payload["text"] = c.Text
		payload["section"] = section
		payload["document_title"] = req.Title
		payload["chunk_index"] = c.Position
		payload["created_at"] = now
		payload[vectorindex.PayloadDocumentID] = req.DocumentID
		payload[vectorindex.PayloadTenantID] = req.TenantID

		points[i] = vectorindex.Point{
			ID:      fmt.Sprintf("%s_%d", req.DocumentID, i),
			Vector:  vectors[i],
			Payload: payload,
		}
	}

	start := time.Now()
	err = d.index.Upsert(ctx, collection, points)
	d.observeIndex(ctx, "upsert", start, err)
	if err != nil {
		return 0, fmt.Errorf("embedder: index document %s: %w", req.DocumentID, err)
	}

	slog.Info("document indexed",
		"document_id", req.DocumentID,
		"tenant_id", req.TenantID,
		"collection", collection,
		"chunks", len(chunks))
	return len(chunks), nil
}

// SearchSimilar embeds queryText and returns the closest chunks of the
// tenant, mapped into document terms.
func (d *DocumentEmbedder) SearchSimilar(ctx context.Context, queryText string, limit int, tenant, collection, model string) ([]DocumentSearchResult, error) {
	if queryText == "" || tenant == "" || limit <= 0 {
		return nil, fmt.Errorf("embedder: query, tenant and positive limit required: %w", knowledge.ErrInvalidArgument)
	}
	if collection == "" {
		collection = d.collection
	}

	vector, err := d.generator.Embed(ctx, queryText, model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	hits, err := d.index.Search(ctx, vectorindex.SearchRequest{
		Collection: collection,
		Vector:     vector,
		TenantID:   tenant,
		Limit:      limit,
	})
	d.observeIndex(ctx, "search", start, err)
	if err != nil {
		return nil, fmt.Errorf("embedder: similarity search: %w", err)
	}

	results := make([]DocumentSearchResult, len(hits))
	for i, hit := range hits {
		results[i] = DocumentSearchResult{
			Text:          payloadString(hit.Payload, "text"),
			Score:         hit.Score,
			DocumentID:    payloadString(hit.Payload, vectorindex.PayloadDocumentID),
			DocumentTitle: payloadString(hit.Payload, "document_title"),
			Section:       payloadString(hit.Payload, "section"),
			ChunkIndex:    payloadInt(hit.Payload, "chunk_index"),
		}
	}
	return results, nil
}

// DeleteDocument removes every chunk point of the document from the index.
func (d *DocumentEmbedder) DeleteDocument(ctx context.Context, documentID, tenant, collection string) error {
	if documentID == "" || tenant == "" {
		return fmt.Errorf("embedder: document ID and tenant required: %w", knowledge.ErrInvalidArgument)
	}
	if collection == "" {
		collection = d.collection
	}
	start := time.Now()
	err := d.index.DeleteDocument(ctx, collection, documentID, tenant)
	d.observeIndex(ctx, "delete", start, err)
	if err != nil {
		return fmt.Errorf("embedder: delete document %s: %w", documentID, err)
	}
	return nil
}

// ensureCollection creates the collection sized for the model's vectors if
// it does not exist yet. Concurrent creation races resolve through the
// index's ErrCollectionExists.
func (d *DocumentEmbedder) ensureCollection(ctx context.Context, collection, model string) error {
	exists, err := d.index.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("embedder: check collection %q: %w", collection, err)
	}
	if exists {
		return nil
	}

	dim, err := d.generator.Dimension(ctx, model)
	if err != nil {
		return err
	}
	err = d.index.CreateCollection(ctx, collection, dim)
	if err != nil && !errors.Is(err, vectorindex.ErrCollectionExists) {
		return fmt.Errorf("embedder: create collection %q: %w", collection, err)
	}
	return nil
}

// payloadString extracts a string payload field, "" when absent.
func payloadString(payload map[string]any, field string) string {
	s, _ := payload[field].(string)
	return s
}

// payloadInt extracts an integer payload field regardless of the numeric
// type the backend round-tripped it as.
func payloadInt(payload map[string]any, field string) int {
	switch v := payload[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
