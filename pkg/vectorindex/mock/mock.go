// Package mock provides an in-memory implementation of vectorindex.Index.
//
// It implements real cosine-similarity search over stored points, so tests
// of higher layers (the document embedder, similarity search) can assert on
// actual ranking and tenant isolation without a running Qdrant or PostgreSQL.
package mock

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
)

// Ensure Index implements the vectorindex.Index interface.
var _ vectorindex.Index = (*Index)(nil)

type collection struct {
	dim    int
	points map[string]vectorindex.Point
}

// Index is an in-memory vectorindex.Index. The zero value is not usable;
// construct with New. Safe for concurrent use.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
	closed      bool
}

// New returns an empty in-memory index.
func New() *Index {
	return &Index{collections: map[string]*collection{}}
}

// CollectionExists implements vectorindex.Index.
func (x *Index) CollectionExists(_ context.Context, name string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.collections[name]
	return ok, nil
}

// CreateCollection implements vectorindex.Index.
func (x *Index) CreateCollection(_ context.Context, name string, dim int) error {
	if name == "" || dim <= 0 {
		return fmt.Errorf("mock index: collection %q dim %d: %w", name, dim, vectorindex.ErrInvalidArgument)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.collections[name]; ok {
		return fmt.Errorf("mock index: collection %q: %w", name, vectorindex.ErrCollectionExists)
	}
	x.collections[name] = &collection{dim: dim, points: map[string]vectorindex.Point{}}
	return nil
}

// DeleteCollection implements vectorindex.Index.
func (x *Index) DeleteCollection(_ context.Context, name string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.collections[name]; !ok {
		return fmt.Errorf("mock index: collection %q: %w", name, vectorindex.ErrCollectionNotFound)
	}
	delete(x.collections, name)
	return nil
}

// Upsert implements vectorindex.Index.
func (x *Index) Upsert(_ context.Context, collectionName string, points []vectorindex.Point) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	col, ok := x.collections[collectionName]
	if !ok {
		return fmt.Errorf("mock index: collection %q: %w", collectionName, vectorindex.ErrCollectionNotFound)
	}
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("mock index: point with empty ID: %w", vectorindex.ErrInvalidArgument)
		}
		if len(p.Vector) != col.dim {
			return fmt.Errorf("mock index: vector length %d, collection dim %d: %w",
				len(p.Vector), col.dim, vectorindex.ErrDimensionMismatch)
		}
		col.points[p.ID] = clonePoint(p)
	}
	return nil
}

// Search implements vectorindex.Index.
func (x *Index) Search(_ context.Context, req vectorindex.SearchRequest) ([]vectorindex.SearchResult, error) {
	if req.TenantID == "" || req.Limit <= 0 {
		return nil, fmt.Errorf("mock index: search request: %w", vectorindex.ErrInvalidArgument)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.collections[req.Collection]
	if !ok {
		return nil, fmt.Errorf("mock index: collection %q: %w", req.Collection, vectorindex.ErrCollectionNotFound)
	}

	var results []vectorindex.SearchResult
	for _, p := range col.points {
		if payloadString(p.Payload, vectorindex.PayloadTenantID) != req.TenantID {
			continue
		}
		if !matches(p.Payload, req.Filter) {
			continue
		}
		score := cosine(req.Vector, p.Vector)
		if req.ScoreThreshold > 0 && score < req.ScoreThreshold {
			continue
		}
		results = append(results, vectorindex.SearchResult{
			ID:      p.ID,
			Score:   score,
			Payload: clonePayload(p.Payload),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// DeletePoints implements vectorindex.Index.
func (x *Index) DeletePoints(_ context.Context, collectionName string, ids []string, tenant string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	col, ok := x.collections[collectionName]
	if !ok {
		return fmt.Errorf("mock index: collection %q: %w", collectionName, vectorindex.ErrCollectionNotFound)
	}
	for _, id := range ids {
		p, ok := col.points[id]
		if !ok {
			continue
		}
		if tenant != "" && payloadString(p.Payload, vectorindex.PayloadTenantID) != tenant {
			continue
		}
		delete(col.points, id)
	}
	return nil
}

// DeleteByFilter implements vectorindex.Index.
func (x *Index) DeleteByFilter(_ context.Context, collectionName string, filter vectorindex.Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("mock index: refusing to delete with empty filter: %w", vectorindex.ErrInvalidArgument)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	col, ok := x.collections[collectionName]
	if !ok {
		return fmt.Errorf("mock index: collection %q: %w", collectionName, vectorindex.ErrCollectionNotFound)
	}
	for id, p := range col.points {
		if matches(p.Payload, filter) {
			delete(col.points, id)
		}
	}
	return nil
}

// DeleteDocument implements vectorindex.Index.
func (x *Index) DeleteDocument(ctx context.Context, collectionName, documentID, tenant string) error {
	if documentID == "" {
		return fmt.Errorf("mock index: empty document ID: %w", vectorindex.ErrInvalidArgument)
	}
	filter := vectorindex.Filter{vectorindex.PayloadDocumentID: documentID}
	if tenant != "" {
		filter[vectorindex.PayloadTenantID] = tenant
	}
	return x.DeleteByFilter(ctx, collectionName, filter)
}

// Count implements vectorindex.Index.
func (x *Index) Count(_ context.Context, collectionName string, filter vectorindex.Filter) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.collections[collectionName]
	if !ok {
		return 0, fmt.Errorf("mock index: collection %q: %w", collectionName, vectorindex.ErrCollectionNotFound)
	}
	if len(filter) == 0 {
		return len(col.points), nil
	}
	n := 0
	for _, p := range col.points {
		if matches(p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

// ListCollections implements vectorindex.Index.
func (x *Index) ListCollections(_ context.Context) ([]string, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	names := make([]string, 0, len(x.collections))
	for name := range x.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// GetCollectionInfo implements vectorindex.Index.
func (x *Index) GetCollectionInfo(_ context.Context, name string) (vectorindex.CollectionInfo, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.collections[name]
	if !ok {
		return vectorindex.CollectionInfo{}, fmt.Errorf("mock index: collection %q: %w", name, vectorindex.ErrCollectionNotFound)
	}
	return vectorindex.CollectionInfo{
		Name:       name,
		PointCount: len(col.points),
		VectorSize: col.dim,
	}, nil
}

// Close implements vectorindex.Index.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}

// cosine computes the cosine similarity of two vectors.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// matches reports whether payload satisfies every filter condition.
func matches(payload map[string]any, filter vectorindex.Filter) bool {
	for field, want := range filter {
		if payloadString(payload, field) != want {
			return false
		}
	}
	return true
}

// payloadString extracts a string payload field, "" when absent.
func payloadString(payload map[string]any, field string) string {
	s, _ := payload[field].(string)
	return s
}

func clonePoint(p vectorindex.Point) vectorindex.Point {
	cp := vectorindex.Point{
		ID:      p.ID,
		Vector:  slices.Clone(p.Vector),
		Payload: clonePayload(p.Payload),
	}
	return cp
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(payload))
	for k, v := range payload {
		cp[k] = v
	}
	return cp
}
