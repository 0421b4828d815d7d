package sparql_test

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/smartinsight/knowledge-core/internal/observe"
	"github.com/smartinsight/knowledge-core/pkg/knowledge/sparql"
)

func TestExecuteRecordsLatency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exec := sparql.NewExecutor(seedStore(t), 0, sparql.WithMetrics(m))
	if _, err := exec.Execute(ctx, "acme",
		`SELECT ?who WHERE { ?who <http://o/worksFor> <http://e/acme-corp> }`); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "knowledge.query.duration" {
				continue
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric is not a float64 histogram")
			}
			for _, dp := range hist.DataPoints {
				if v, ok := dp.Attributes.Value("kind"); ok && v.Emit() == "sparql" {
					return
				}
			}
		}
	}
	t.Fatal("no knowledge.query.duration data point with kind=sparql")
}
