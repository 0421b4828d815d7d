package memstore_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/pkg/knowledge"
	"github.com/smartinsight/knowledge-core/pkg/knowledge/memstore"
)

// newMeterMetrics returns a Metrics instance backed by a ManualReader so the
// store's recordings can be inspected.
func newMeterMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collectMetric gathers all metric data and returns the named metric, nil
// when it was never recorded.
func collectMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterSum totals the int64 counter data points carrying all given
// attributes.
func counterSum(t *testing.T, met *metricdata.Metrics, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		matched := true
		for _, kv := range attrs {
			v, ok := dp.Attributes.Value(kv.Key)
			if !ok || v.Emit() != kv.Value.Emit() {
				matched = false
				break
			}
		}
		if matched {
			total += dp.Value
		}
	}
	return total
}

// histogramKinds returns the "kind" attribute values the float64 histogram
// has data points for.
func histogramKinds(t *testing.T, met *metricdata.Metrics) map[string]bool {
	t.Helper()
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a float64 histogram", met.Name)
	}
	kinds := map[string]bool{}
	for _, dp := range hist.DataPoints {
		if v, ok := dp.Attributes.Value("kind"); ok {
			kinds[v.Emit()] = true
		}
	}
	return kinds
}

func TestMutationMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, reader := newMeterMetrics(t)
	s := memstore.New(memstore.WithMetrics(m))

	added, err := s.AddTriple(ctx, "acme", newTriple("http://e/a", "http://o/p", "http://e/b"))
	if err != nil {
		t.Fatalf("AddTriple: %v", err)
	}
	if _, err := s.AddTriple(ctx, "acme", added); err == nil {
		t.Fatal("duplicate AddTriple succeeded")
	}
	updated := added
	updated.Confidence = 0.5
	if _, err := s.UpdateTriple(ctx, "acme", updated); err != nil {
		t.Fatalf("UpdateTriple: %v", err)
	}
	if err := s.RemoveTriple(ctx, "acme", added.ID); err != nil {
		t.Fatalf("RemoveTriple: %v", err)
	}
	if _, err := s.RestoreVersion(ctx, "acme", added.ID, 1, "eve", "undo"); err != nil {
		t.Fatalf("RestoreVersion: %v", err)
	}

	met := collectMetric(t, reader, "knowledge.triple.mutations")
	if met == nil {
		t.Fatal("knowledge.triple.mutations was never recorded")
	}
	cases := []struct {
		op, status string
		want       int64
	}{
		{"add", "ok", 1},
		{"add", "error", 1},
		{"update", "ok", 1},
		{"remove", "ok", 1},
		{"restore", "ok", 1},
	}
	for _, tc := range cases {
		got := counterSum(t, met,
			attribute.String("op", tc.op),
			attribute.String("status", tc.status))
		if got != tc.want {
			t.Errorf("mutations{op=%s,status=%s} = %d, want %d", tc.op, tc.status, got, tc.want)
		}
	}

	if dur := collectMetric(t, reader, "knowledge.triple.mutation.duration"); dur == nil {
		t.Error("knowledge.triple.mutation.duration was never recorded")
	}
}

func TestQueryMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, reader := newMeterMetrics(t)
	s := memstore.New(memstore.WithMetrics(m))

	if _, err := s.AddTriple(ctx, "acme", newTriple("http://e/a", "http://o/p", "http://e/b")); err != nil {
		t.Fatalf("AddTriple: %v", err)
	}
	if _, err := s.Query(ctx, "acme", knowledge.TripleQuery{}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, err := s.QueryTemporal(ctx, "acme", knowledge.TemporalQuery{Current: true}); err != nil {
		t.Fatalf("QueryTemporal: %v", err)
	}

	met := collectMetric(t, reader, "knowledge.query.duration")
	if met == nil {
		t.Fatal("knowledge.query.duration was never recorded")
	}
	kinds := histogramKinds(t, met)
	if !kinds["structural"] || !kinds["temporal"] {
		t.Fatalf("recorded kinds = %v, want structural and temporal", kinds)
	}
}
