package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/parabatch/pkg/batch/core/metrics"
)

// OTelRecorder reports through an OpenTelemetry meter.
type OTelRecorder struct {
	jobDuration   metric.Float64Histogram
	stepDuration  metric.Float64Histogram
	itemsRead     metric.Int64Counter
	itemsWritten  metric.Int64Counter
	itemsSkipped  metric.Int64Counter
	chunkCommits  metric.Int64Counter
	chunkRollback metric.Int64Counter
	chunkRetries  metric.Int64Counter
}

var _ metrics.MetricRecorder = (*OTelRecorder)(nil)

// NewOTelRecorder creates the instruments on meter.
func NewOTelRecorder(meter metric.Meter) (*OTelRecorder, error) {
	var (
		r   OTelRecorder
		err error
	)
	if r.jobDuration, err = meter.Float64Histogram("batch.job.duration", metric.WithUnit("s"), metric.WithDescription("Duration of batch job executions.")); err != nil {
		return nil, err
	}
	if r.stepDuration, err = meter.Float64Histogram("batch.step.duration", metric.WithUnit("s"), metric.WithDescription("Duration of batch step executions.")); err != nil {
		return nil, err
	}
	if r.itemsRead, err = meter.Int64Counter("batch.item.read", metric.WithDescription("Items read.")); err != nil {
		return nil, err
	}
	if r.itemsWritten, err = meter.Int64Counter("batch.item.write", metric.WithDescription("Items written.")); err != nil {
		return nil, err
	}
	if r.itemsSkipped, err = meter.Int64Counter("batch.item.skip", metric.WithDescription("Items skipped.")); err != nil {
		return nil, err
	}
	if r.chunkCommits, err = meter.Int64Counter("batch.chunk.commit", metric.WithDescription("Chunk commits.")); err != nil {
		return nil, err
	}
	if r.chunkRollback, err = meter.Int64Counter("batch.chunk.rollback", metric.WithDescription("Chunks whose write failed.")); err != nil {
		return nil, err
	}
	if r.chunkRetries, err = meter.Int64Counter("batch.chunk.retry", metric.WithDescription("Chunk write retries.")); err != nil {
		return nil, err
	}
	return &r, nil
}

func stepAttr(stepName string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("batch.step.name", stepName))
}

func (r *OTelRecorder) RecordJobStart(context.Context, *model.JobExecution) {}

func (r *OTelRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	if execution.EndTime == nil {
		return
	}
	r.jobDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), metric.WithAttributes(
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.status", string(execution.Status)),
	))
}

func (r *OTelRecorder) RecordStepStart(context.Context, *model.StepExecution) {}

func (r *OTelRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	if execution.EndTime == nil {
		return
	}
	r.stepDuration.Record(ctx, execution.EndTime.Sub(execution.StartTime).Seconds(), metric.WithAttributes(
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.step.name", execution.StepName),
		attribute.String("batch.status", string(execution.Status)),
	))
}

func (r *OTelRecorder) RecordItemRead(ctx context.Context, stepName string, count int) {
	r.itemsRead.Add(ctx, int64(count), stepAttr(stepName))
}

func (r *OTelRecorder) RecordItemSkip(ctx context.Context, stepName string, kind string) {
	r.itemsSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("batch.step.name", stepName),
		attribute.String("batch.error.kind", kind),
	))
}

func (r *OTelRecorder) RecordChunkRetry(ctx context.Context, stepName string) {
	r.chunkRetries.Add(ctx, 1, stepAttr(stepName))
}

func (r *OTelRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.chunkCommits.Add(ctx, 1, stepAttr(stepName))
	r.itemsWritten.Add(ctx, int64(count), stepAttr(stepName))
}

func (r *OTelRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunkRollback.Add(ctx, 1, stepAttr(stepName))
}

// NewMeterProvider builds a provider pushing to an OTLP collector. exporter is
// "otlp-grpc" or "otlp-http". Shut the provider down to flush the last interval.
func NewMeterProvider(ctx context.Context, exporter, endpoint string, insecure bool, interval time.Duration, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	var (
		exp sdkmetric.Exporter
		err error
	)
	switch exporter {
	case "otlp-grpc":
		opts := []otlpmetricgrpc.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		if insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err = otlpmetricgrpc.New(ctx, opts...)
	case "otlp-http":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		if insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err = otlpmetrichttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported metrics exporter: %s", exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s metric exporter: %w", exporter, err)
	}
	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(interval))
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, readerOpts...)),
		sdkmetric.WithResource(res),
	), nil
}
