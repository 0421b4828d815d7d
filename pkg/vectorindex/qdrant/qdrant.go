// Package qdrant implements vectorindex.Index against a Qdrant server using
// the official gRPC client.
//
// Qdrant point IDs must be UUIDs or unsigned integers, so the caller-supplied
// string IDs are mapped to deterministic UUIDv5 values and the original ID is
// kept in the point payload under the "point_key" field. Search results
// translate back transparently.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/smartinsight/knowledge-core/internal/resilience"
	"github.com/smartinsight/knowledge-core/pkg/vectorindex"
)

// DefaultBatchSize is the number of points sent per upsert request when no
// batch size is configured.
const DefaultBatchSize = 100

// payloadPointKey stores the caller-supplied point ID inside the payload.
const payloadPointKey = "point_key"

// Ensure Index implements the vectorindex.Index interface.
var _ vectorindex.Index = (*Index)(nil)

// Config holds connection and behaviour settings for the Qdrant index.
type Config struct {
	// Host is the Qdrant server host. Default: "localhost".
	Host string

	// Port is the gRPC port. Default: 6334.
	Port int

	// APIKey authenticates requests. Empty means no authentication.
	APIKey string

	// UseTLS enables TLS on the gRPC channel.
	UseTLS bool

	// BatchSize is the number of points per upsert request. Default: 100.
	BatchSize int

	// MaxRetries is the retry budget for transient errors. Default: 3.
	MaxRetries int

	// MaxRetryDelay caps the backoff between retries. Default: 5s.
	MaxRetryDelay time.Duration
}

// Index implements vectorindex.Index backed by a Qdrant server.
//
// Collection creation is serialized by a mutex and a membership cache avoids
// repeated existence round-trips for collections this process has already
// seen.
type Index struct {
	client    *qdrant.Client
	batchSize int
	retry     resilience.RetryConfig

	mu    sync.Mutex
	known map[string]bool
}

// New connects to Qdrant and returns an Index. The connection is lazy; the
// first RPC surfaces connectivity errors.
func New(cfg Config) (*Index, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = 5 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant index: connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Index{
		client:    client,
		batchSize: cfg.BatchSize,
		retry: resilience.RetryConfig{
			Name:       "qdrant",
			MaxRetries: cfg.MaxRetries,
			MaxDelay:   cfg.MaxRetryDelay,
		},
		known: map[string]bool{},
	}, nil
}

// CollectionExists implements vectorindex.Index.
func (x *Index) CollectionExists(ctx context.Context, name string) (bool, error) {
	x.mu.Lock()
	if x.known[name] {
		x.mu.Unlock()
		return true, nil
	}
	x.mu.Unlock()

	var exists bool
	err := x.call(ctx, func() error {
		var err error
		exists, err = x.client.CollectionExists(ctx, name)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("qdrant index: collection exists: %w", err)
	}
	if exists {
		x.remember(name)
	}
	return exists, nil
}

// CreateCollection implements vectorindex.Index. The collection uses cosine
// distance and gets keyword payload indexes on tenant_id and document_id so
// filtered searches and document deletes stay cheap.
func (x *Index) CreateCollection(ctx context.Context, name string, dim int) error {
	if name == "" || dim <= 0 {
		return fmt.Errorf("qdrant index: collection %q dim %d: %w", name, dim, vectorindex.ErrInvalidArgument)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	exists, err := x.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant index: create collection: %w", translate(err))
	}
	if exists {
		x.known[name] = true
		return fmt.Errorf("qdrant index: collection %q: %w", name, vectorindex.ErrCollectionExists)
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant index: create collection %q: %w", name, translate(err))
	}

	for _, field := range []string{vectorindex.PayloadTenantID, vectorindex.PayloadDocumentID} {
		_, err := x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("qdrant index: index payload field %q: %w", field, translate(err))
		}
	}

	slog.Info("created vector collection", "collection", name, "dim", dim)
	x.known[name] = true
	return nil
}

// DeleteCollection implements vectorindex.Index.
func (x *Index) DeleteCollection(ctx context.Context, name string) error {
	exists, err := x.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant index: delete collection: %w", translate(err))
	}
	if !exists {
		return fmt.Errorf("qdrant index: collection %q: %w", name, vectorindex.ErrCollectionNotFound)
	}
	if err := x.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("qdrant index: delete collection %q: %w", name, translate(err))
	}
	x.mu.Lock()
	delete(x.known, name)
	x.mu.Unlock()
	return nil
}

// Upsert implements vectorindex.Index, splitting points into batches.
func (x *Index) Upsert(ctx context.Context, collection string, points []vectorindex.Point) error {
	if collection == "" {
		return fmt.Errorf("qdrant index: empty collection: %w", vectorindex.ErrInvalidArgument)
	}
	if len(points) == 0 {
		return nil
	}

	converted := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("qdrant index: point with empty ID: %w", vectorindex.ErrInvalidArgument)
		}
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[payloadPointKey] = p.ID

		converted = append(converted, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointUUID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	for start := 0; start < len(converted); start += x.batchSize {
		end := min(start+x.batchSize, len(converted))
		batch := converted[start:end]
		err := x.call(ctx, func() error {
			_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: collection,
				Points:         batch,
				Wait:           qdrant.PtrOf(true),
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("qdrant index: upsert %d points into %q: %w", len(batch), collection, err)
		}
	}
	return nil
}

// Search implements vectorindex.Index. The tenant condition is always part of
// the filter; extra conditions are AND-combined.
func (x *Index) Search(ctx context.Context, req vectorindex.SearchRequest) ([]vectorindex.SearchResult, error) {
	if req.Collection == "" || req.TenantID == "" || req.Limit <= 0 {
		return nil, fmt.Errorf("qdrant index: search request: %w", vectorindex.ErrInvalidArgument)
	}

	query := &qdrant.QueryPoints{
		CollectionName: req.Collection,
		Query:          qdrant.NewQuery(req.Vector...),
		Limit:          qdrant.PtrOf(uint64(req.Limit)),
		Filter:         buildFilter(req.TenantID, req.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if req.ScoreThreshold > 0 {
		query.ScoreThreshold = qdrant.PtrOf(req.ScoreThreshold)
	}

	var hits []*qdrant.ScoredPoint
	err := x.call(ctx, func() error {
		var err error
		hits, err = x.client.Query(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant index: search %q: %w", req.Collection, err)
	}

	results := make([]vectorindex.SearchResult, 0, len(hits))
	for _, hit := range hits {
		payload := payloadToMap(hit.Payload)
		id, _ := payload[payloadPointKey].(string)
		delete(payload, payloadPointKey)
		results = append(results, vectorindex.SearchResult{
			ID:      id,
			Score:   hit.Score,
			Payload: payload,
		})
	}
	return results, nil
}

// DeletePoints implements vectorindex.Index. With a tenant the delete runs as
// a filter on point_key + tenant_id so foreign tenants' points are untouched
// even if IDs collide.
func (x *Index) DeletePoints(ctx context.Context, collection string, ids []string, tenant string) error {
	if len(ids) == 0 {
		return nil
	}

	var selector *qdrant.PointsSelector
	if tenant == "" {
		pointIDs := make([]*qdrant.PointId, len(ids))
		for i, id := range ids {
			pointIDs[i] = qdrant.NewID(pointUUID(id))
		}
		selector = qdrant.NewPointsSelector(pointIDs...)
	} else {
		selector = qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchKeywords(payloadPointKey, ids...),
				qdrant.NewMatch(vectorindex.PayloadTenantID, tenant),
			},
		})
	}

	err := x.call(ctx, func() error {
		_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         selector,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("qdrant index: delete %d points from %q: %w", len(ids), collection, err)
	}
	return nil
}

// DeleteByFilter implements vectorindex.Index.
func (x *Index) DeleteByFilter(ctx context.Context, collection string, filter vectorindex.Filter) error {
	if len(filter) == 0 {
		return fmt.Errorf("qdrant index: refusing to delete with empty filter: %w", vectorindex.ErrInvalidArgument)
	}
	err := x.call(ctx, func() error {
		_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points:         qdrant.NewPointsSelectorFilter(filterConditions(filter)),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("qdrant index: delete by filter from %q: %w", collection, err)
	}
	return nil
}

// DeleteDocument implements vectorindex.Index.
func (x *Index) DeleteDocument(ctx context.Context, collection, documentID, tenant string) error {
	if documentID == "" {
		return fmt.Errorf("qdrant index: empty document ID: %w", vectorindex.ErrInvalidArgument)
	}
	filter := vectorindex.Filter{vectorindex.PayloadDocumentID: documentID}
	if tenant != "" {
		filter[vectorindex.PayloadTenantID] = tenant
	}
	return x.DeleteByFilter(ctx, collection, filter)
}

// Count implements vectorindex.Index.
func (x *Index) Count(ctx context.Context, collection string, filter vectorindex.Filter) (int, error) {
	req := &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
	}
	if len(filter) > 0 {
		req.Filter = filterConditions(filter)
	}

	var count uint64
	err := x.call(ctx, func() error {
		var err error
		count, err = x.client.Count(ctx, req)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant index: count %q: %w", collection, err)
	}
	return int(count), nil
}

// ListCollections implements vectorindex.Index.
func (x *Index) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := x.call(ctx, func() error {
		var err error
		names, err = x.client.ListCollections(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant index: list collections: %w", err)
	}
	return names, nil
}

// GetCollectionInfo implements vectorindex.Index.
func (x *Index) GetCollectionInfo(ctx context.Context, name string) (vectorindex.CollectionInfo, error) {
	var info *qdrant.CollectionInfo
	err := x.call(ctx, func() error {
		var err error
		info, err = x.client.GetCollectionInfo(ctx, name)
		return err
	})
	if err != nil {
		return vectorindex.CollectionInfo{}, fmt.Errorf("qdrant index: collection info %q: %w", name, err)
	}

	result := vectorindex.CollectionInfo{Name: name}
	if pc := info.GetPointsCount(); pc > 0 {
		result.PointCount = int(pc)
	}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		result.VectorSize = int(params.GetSize())
	}
	return result, nil
}

// Close implements vectorindex.Index.
func (x *Index) Close() error {
	return x.client.Close()
}

// call runs fn with the configured retry policy, translating gRPC status
// codes into package sentinels. Not-found and invalid-argument errors are
// permanent; everything else is retried.
func (x *Index) call(ctx context.Context, fn func() error) error {
	return resilience.Retry(ctx, x.retry, func() error {
		err := fn()
		if err == nil {
			return nil
		}
		code := status.Code(err)
		err = translate(err)
		switch code {
		case codes.NotFound, codes.InvalidArgument, codes.AlreadyExists, codes.PermissionDenied, codes.Unauthenticated:
			return resilience.Permanent(err)
		}
		return err
	})
}

// translate maps gRPC status codes onto the package sentinel errors while
// keeping the original message.
func translate(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%v: %w", err, vectorindex.ErrCollectionNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%v: %w", err, vectorindex.ErrCollectionExists)
	case codes.InvalidArgument:
		return fmt.Errorf("%v: %w", err, vectorindex.ErrInvalidArgument)
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%v: %w", err, vectorindex.ErrUnavailable)
	}
	return err
}

// remember marks a collection as known to exist.
func (x *Index) remember(name string) {
	x.mu.Lock()
	x.known[name] = true
	x.mu.Unlock()
}

// buildFilter combines the mandatory tenant condition with extra filter
// conditions.
func buildFilter(tenant string, extra vectorindex.Filter) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch(vectorindex.PayloadTenantID, tenant),
	}
	for field, value := range extra {
		if field == vectorindex.PayloadTenantID {
			continue
		}
		must = append(must, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: must}
}

// filterConditions converts a vectorindex.Filter into a qdrant filter.
func filterConditions(filter vectorindex.Filter) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, len(filter))
	for field, value := range filter {
		must = append(must, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: must}
}

// pointUUID derives the deterministic Qdrant UUID for a caller-supplied
// point ID.
func pointUUID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// payloadToMap converts a Qdrant payload into plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

// valueToAny unwraps one Qdrant value.
func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = valueToAny(item)
		}
		return list
	case *qdrant.Value_StructValue:
		fields := kind.StructValue.GetFields()
		m := make(map[string]any, len(fields))
		for k, item := range fields {
			m[k] = valueToAny(item)
		}
		return m
	default:
		return nil
	}
}
