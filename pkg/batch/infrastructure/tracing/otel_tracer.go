// Package tracing implements metrics.Tracer with OpenTelemetry.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/parabatch/pkg/batch/core/metrics"
)

// OTelTracer opens one span per job, step and chunk. Step spans are children of the
// job span; chunk spans are children of their step span.
type OTelTracer struct {
	tracer trace.Tracer
}

var _ metrics.Tracer = (*OTelTracer)(nil)

func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	return &OTelTracer{tracer: provider.Tracer("github.com/tigerroll/parabatch")}
}

func (t *OTelTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.JobName, trace.WithAttributes(
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.job.execution_id", execution.ID),
		attribute.Bool("batch.job.restart", execution.Restart),
	))
	return ctx, func() {
		res := execution.Result()
		span.SetAttributes(
			attribute.String("batch.status", string(execution.Status)),
			attribute.Int64("batch.read_count", res.ReadCount),
			attribute.Int64("batch.write_count", res.WriteCount),
		)
		endWithStatus(span, execution.Status)
	}
}

func (t *OTelTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName, trace.WithAttributes(
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.step.name", execution.StepName),
	))
	return ctx, func() {
		c := execution.ItemCounts
		span.SetAttributes(
			attribute.String("batch.status", string(execution.Status)),
			attribute.Int64("batch.read_count", c.ReadCount),
			attribute.Int64("batch.write_count", c.WriteCount),
			attribute.Int64("batch.skip_count", c.SkipCount()),
			attribute.Int64("batch.commit_count", c.CommitCount),
			attribute.Int64("batch.rollback_count", c.RollbackCount),
		)
		endWithStatus(span, execution.Status)
	}
}

func (t *OTelTracer) StartChunkSpan(ctx context.Context, stepName string, size int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunk", trace.WithAttributes(
		attribute.String("batch.step.name", stepName),
		attribute.Int("batch.chunk.size", size),
	))
	return ctx, func() { span.End() }
}

func (t *OTelTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("batch.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

func (t *OTelTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(val)))
		}
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

func endWithStatus(span trace.Span, status model.BatchStatus) {
	switch status {
	case model.BatchStatusCompleted:
		span.SetStatus(codes.Ok, "")
	case model.BatchStatusFailed:
		span.SetStatus(codes.Error, string(status))
	}
	span.End()
}

// NewTracerProvider builds a provider exporting in batches to an OTLP collector.
// exporter is "otlp-grpc" or "otlp-http".
func NewTracerProvider(ctx context.Context, exporter, endpoint string, insecure bool, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch exporter {
	case "otlp-grpc":
		opts := []otlptracegrpc.Option{}
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint))
		}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err = otlptracegrpc.New(ctx, opts...)
	case "otlp-http":
		opts := []otlptracehttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s span exporter: %w", exporter, err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	), nil
}
