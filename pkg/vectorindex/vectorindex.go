// Package vectorindex defines the Index interface for vector index backends.
//
// A vector index stores points — (id, vector, payload) records — grouped in
// named collections, and answers nearest-neighbour queries over them. The
// knowledge platform keeps one point per document chunk and enforces tenant
// isolation at this layer: every point carries a tenant_id payload field and
// every search injects a must-match condition on it.
//
// Implementations must be safe for concurrent use.
package vectorindex

import (
	"context"
	"errors"
)

// Sentinel errors for vector index operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when attempting to create an existing collection.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidArgument indicates malformed input (empty collection name,
	// empty point ID, missing tenant).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensionMismatch is returned when a point's vector length does not
	// match the collection's dimension. Implementations report it where the
	// dimension is known client-side; remote backends may instead surface
	// the server's rejection wrapped in ErrInvalidArgument.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrUnavailable indicates the backend could not be reached after retries.
	ErrUnavailable = errors.New("vector index unavailable")
)

// PayloadTenantID is the payload field carrying the owning tenant. Searches
// filter on it; collections index it.
const PayloadTenantID = "tenant_id"

// PayloadDocumentID is the payload field carrying the source document ID,
// indexed so whole documents can be deleted cheaply.
const PayloadDocumentID = "document_id"

// Point is one (id, vector, payload) record.
type Point struct {
	// ID is the caller-assigned point identifier, unique within its
	// collection (e.g., "doc-42_3" for the fourth chunk of doc-42).
	ID string

	// Vector is the embedding. Its length must match the collection dimension.
	Vector []float32

	// Payload holds arbitrary metadata stored alongside the vector and
	// returned with search results. Include PayloadTenantID for tenant
	// isolation.
	Payload map[string]any
}

// SearchResult is one nearest-neighbour hit.
type SearchResult struct {
	// ID is the point identifier as supplied at upsert time.
	ID string

	// Score is the cosine similarity to the query vector, higher is closer.
	Score float32

	// Payload is the stored metadata of the point.
	Payload map[string]any
}

// Filter is a conjunction of exact-match conditions on keyword payload
// fields. An empty or nil Filter matches every point.
type Filter map[string]string

// SearchRequest carries the parameters of a nearest-neighbour query.
type SearchRequest struct {
	// Collection is the collection to search.
	Collection string

	// Vector is the query embedding.
	Vector []float32

	// TenantID scopes the search; a must-match condition on PayloadTenantID
	// is always added. Must not be empty.
	TenantID string

	// Limit is the maximum number of hits to return. Must be positive.
	Limit int

	// ScoreThreshold drops hits scoring below it. Zero means no threshold.
	ScoreThreshold float32

	// Filter adds extra conditions AND-combined with the tenant condition.
	Filter Filter
}

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	// Name is the collection name.
	Name string

	// PointCount is the number of points in the collection.
	PointCount int

	// VectorSize is the dimensionality of vectors in this collection.
	VectorSize int
}

// Index is the abstraction over any vector index backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly.
type Index interface {
	// CollectionExists reports whether the named collection exists. The
	// error is non-nil only if the check itself fails.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection creates a collection of the given vector dimension
	// with cosine distance, plus keyword payload indexes for
	// PayloadTenantID and PayloadDocumentID. Returns ErrCollectionExists if
	// the collection is already present.
	CreateCollection(ctx context.Context, name string, dim int) error

	// DeleteCollection removes a collection and all of its points. Returns
	// ErrCollectionNotFound if the collection does not exist.
	DeleteCollection(ctx context.Context, name string) error

	// Upsert inserts or replaces points by ID. Implementations split large
	// inputs into batches. Returns ErrCollectionNotFound if the collection
	// does not exist and ErrInvalidArgument for empty IDs or dimension
	// mismatches.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search returns up to req.Limit points nearest to req.Vector, ordered
	// by descending score. The tenant condition is always enforced.
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)

	// DeletePoints removes points by ID. When tenant is non-empty, only
	// points owned by that tenant are removed.
	DeletePoints(ctx context.Context, collection string, ids []string, tenant string) error

	// DeleteByFilter removes every point matching filter.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// DeleteDocument removes every point of the given document, scoped to
	// tenant when non-empty.
	DeleteDocument(ctx context.Context, collection, documentID, tenant string) error

	// Count returns the number of points matching filter (all points when
	// filter is empty).
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// ListCollections returns all collection names.
	ListCollections(ctx context.Context) ([]string, error)

	// GetCollectionInfo returns metadata about a collection, or
	// ErrCollectionNotFound.
	GetCollectionInfo(ctx context.Context, name string) (CollectionInfo, error)

	// Close releases the backend connection. The Index must not be used
	// afterwards.
	Close() error
}
