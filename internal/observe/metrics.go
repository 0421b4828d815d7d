// Package observe provides application-wide observability primitives for the
// knowledge platform: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all platform metrics.
const meterName = "github.com/smartinsight/knowledge-core"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TripleMutationDuration tracks triple store mutation latency. Use with
	// attribute: attribute.String("op", "add"|"update"|"remove"|"restore")
	TripleMutationDuration metric.Float64Histogram

	// QueryDuration tracks query latency. Use with attribute:
	//   attribute.String("kind", "structural"|"temporal"|"sparql")
	QueryDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding provider call latency.
	EmbeddingDuration metric.Float64Histogram

	// VectorIndexDuration tracks vector index RPC latency. Use with
	// attribute: attribute.String("op", "upsert"|"search"|"delete"|...)
	VectorIndexDuration metric.Float64Histogram

	// --- Counters ---

	// TripleMutations counts triple store mutations. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	TripleMutations metric.Int64Counter

	// RelationsExtracted counts relations surviving pipeline validation.
	// Use with attribute: attribute.String("extractor", ...)
	RelationsExtracted metric.Int64Counter

	// EmbeddingRequests counts embedding provider calls. Use with attributes:
	//   attribute.String("model", ...), attribute.String("status", ...)
	EmbeddingRequests metric.Int64Counter

	// VectorIndexRequests counts vector index RPCs. Use with attributes:
	//   attribute.String("op", ...), attribute.String("status", ...)
	VectorIndexRequests metric.Int64Counter

	// --- Error counters ---

	// ExtractorErrors counts recoverable extractor failures. Use with
	// attribute: attribute.String("extractor", ...)
	ExtractorErrors metric.Int64Counter

	// --- Gauges ---

	// ActivePipelineRuns tracks the number of in-flight relation mapping
	// pipeline runs.
	ActivePipelineRuns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both in-memory store operations and remote embedding/index RPCs.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TripleMutationDuration, err = m.Float64Histogram("knowledge.triple.mutation.duration",
		metric.WithDescription("Latency of triple store mutations by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.QueryDuration, err = m.Float64Histogram("knowledge.query.duration",
		metric.WithDescription("Latency of structural, temporal, and SPARQL queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("knowledge.embedding.duration",
		metric.WithDescription("Latency of embedding provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VectorIndexDuration, err = m.Float64Histogram("knowledge.vector_index.duration",
		metric.WithDescription("Latency of vector index RPCs by operation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TripleMutations, err = m.Int64Counter("knowledge.triple.mutations",
		metric.WithDescription("Total triple store mutations by operation and status."),
	); err != nil {
		return nil, err
	}
	if met.RelationsExtracted, err = m.Int64Counter("knowledge.relations.extracted",
		metric.WithDescription("Total relations surviving pipeline validation, by extractor."),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingRequests, err = m.Int64Counter("knowledge.embedding.requests",
		metric.WithDescription("Total embedding provider calls by model and status."),
	); err != nil {
		return nil, err
	}
	if met.VectorIndexRequests, err = m.Int64Counter("knowledge.vector_index.requests",
		metric.WithDescription("Total vector index RPCs by operation and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ExtractorErrors, err = m.Int64Counter("knowledge.extractor.errors",
		metric.WithDescription("Total recoverable extractor failures by extractor."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePipelineRuns, err = m.Int64UpDownCounter("knowledge.pipeline.active_runs",
		metric.WithDescription("Number of in-flight relation mapping pipeline runs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("knowledge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTripleMutation records one triple store mutation with its duration.
func (m *Metrics) RecordTripleMutation(ctx context.Context, op, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	m.TripleMutations.Add(ctx, 1, attrs)
	m.TripleMutationDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("op", op)))
}

// RecordQuery records one query execution with its duration.
func (m *Metrics) RecordQuery(ctx context.Context, kind string, seconds float64) {
	m.QueryDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordEmbeddingRequest records one embedding provider call.
func (m *Metrics) RecordEmbeddingRequest(ctx context.Context, model, status string, seconds float64) {
	m.EmbeddingRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("status", status),
		))
	m.EmbeddingDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("model", model)))
}

// RecordVectorIndexRequest records one vector index RPC.
func (m *Metrics) RecordVectorIndexRequest(ctx context.Context, op, status string, seconds float64) {
	m.VectorIndexRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		))
	m.VectorIndexDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("op", op)))
}

// RecordRelationsExtracted records n relations surviving validation for one
// extractor.
func (m *Metrics) RecordRelationsExtracted(ctx context.Context, extractor string, n int64) {
	if n == 0 {
		return
	}
	m.RelationsExtracted.Add(ctx, n,
		metric.WithAttributes(attribute.String("extractor", extractor)))
}

// RecordExtractorError records one recoverable extractor failure.
func (m *Metrics) RecordExtractorError(ctx context.Context, extractor string) {
	m.ExtractorErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("extractor", extractor)))
}
