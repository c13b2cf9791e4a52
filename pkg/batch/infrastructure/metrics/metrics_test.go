package metrics_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/parabatch/pkg/batch/infrastructure/metrics"
)

func finishedStep() *model.StepExecution {
	je := model.NewJobExecution("multiThreadJob", model.NewJobParameters())
	se := model.NewStepExecution(je, "fileImport")
	se.MarkAsStarted()
	se.MarkAsCompleted()
	return se
}

func TestPrometheusRecorder_WriteTextfile(t *testing.T) {
	ctx := context.Background()
	r := metrics.NewPrometheusRecorder()

	r.RecordItemRead(ctx, "fileImport", 7)
	r.RecordChunkCommit(ctx, "fileImport", 5)
	r.RecordChunkRollback(ctx, "fileImport")
	r.RecordChunkRetry(ctx, "fileImport")
	r.RecordItemSkip(ctx, "fileImport", "SourceRead")
	r.RecordStepEnd(ctx, finishedStep())

	path := filepath.Join(t.TempDir(), "parabatch.prom")
	require.NoError(t, r.WriteTextfile(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, `batch_item_read_total{step_name="fileImport"} 7`)
	assert.Contains(t, text, `batch_item_write_total{step_name="fileImport"} 5`)
	assert.Contains(t, text, `batch_chunk_commit_total{step_name="fileImport"} 1`)
	assert.Contains(t, text, `batch_chunk_rollback_total{step_name="fileImport"} 1`)
	assert.Contains(t, text, `batch_item_skip_total{kind="SourceRead",step_name="fileImport"} 1`)
	assert.Contains(t, text, `batch_step_status_total{exit_status="COMPLETED",job_name="multiThreadJob",status="COMPLETED",step_name="fileImport"} 1`)
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestOTelRecorder_Counters(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	r, err := metrics.NewOTelRecorder(provider.Meter("parabatch-test"))
	require.NoError(t, err)

	r.RecordItemRead(ctx, "flat-to-db", 10)
	r.RecordChunkCommit(ctx, "flat-to-db", 4)
	r.RecordChunkCommit(ctx, "xml-to-db", 6)
	r.RecordChunkRetry(ctx, "flat-to-db")
	r.RecordItemSkip(ctx, "xml-to-db", "Transform")
	r.RecordStepEnd(ctx, finishedStep())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	assert.Equal(t, int64(10), sumOf(t, rm, "batch.item.read"))
	assert.Equal(t, int64(10), sumOf(t, rm, "batch.item.write"))
	assert.Equal(t, int64(2), sumOf(t, rm, "batch.chunk.commit"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.chunk.retry"))
	assert.Equal(t, int64(1), sumOf(t, rm, "batch.item.skip"))
}

func TestNewMeterProvider_UnknownExporter(t *testing.T) {
	_, err := metrics.NewMeterProvider(context.Background(), "statsd", "", false, 0, nil)
	assert.Error(t, err)
}
