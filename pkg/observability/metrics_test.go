package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/codesift/pkg/observability"
)

func newManualMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()

	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)), reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &rm))

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()

	found := findMetric(rm, name)
	require.NotNil(t, found, "%s not found", name)

	sum, ok := found.Data.(metricdata.Sum[int64])
	require.True(t, ok, "%s is not an int64 sum", name)

	want := attribute.NewSet(attrs...)

	var total int64

	for _, point := range sum.DataPoints {
		if len(attrs) == 0 || point.Attributes.Equals(&want) {
			total += point.Value
		}
	}

	return total
}

func TestREDMetrics_RecordOperation(t *testing.T) {
	t.Parallel()

	mp, reader := newManualMeter(t)

	red, err := observability.NewREDMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	red.RecordOperation(ctx, "scan", observability.StatusOK, 100*time.Millisecond)
	red.RecordOperation(ctx, "scan", observability.StatusError, time.Second)

	rm := collectMetrics(t, reader)

	assert.Equal(t, int64(2), counterValue(t, rm, "codesift.operations.total"))
	assert.Equal(t, int64(1), counterValue(t, rm, "codesift.operation.errors.total", attribute.String("op", "scan")))
	assert.NotNil(t, findMetric(rm, "codesift.operation.duration.seconds"))
}

func TestREDMetrics_TrackInflight(t *testing.T) {
	t.Parallel()

	mp, reader := newManualMeter(t)

	red, err := observability.NewREDMetrics(mp.Meter("test"))
	require.NoError(t, err)

	done := red.TrackInflight(context.Background(), "validate")
	assert.Equal(t, int64(1), counterValue(t, collectMetrics(t, reader), "codesift.operations.inflight"))

	done()
	assert.Zero(t, counterValue(t, collectMetrics(t, reader), "codesift.operations.inflight"))
}

func TestREDMetrics_NilReceiver(t *testing.T) {
	t.Parallel()

	var red *observability.REDMetrics

	assert.NotPanics(t, func() {
		red.RecordOperation(context.Background(), "scan", observability.StatusOK, time.Millisecond)
		red.TrackInflight(context.Background(), "scan")()
	})
}
