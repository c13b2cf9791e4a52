// Package metrics declares the observability ports the engine reports through.
// Implementations live in infrastructure/metrics and infrastructure/tracing.
package metrics

import (
	"context"

	"github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
)

// MetricRecorder receives job, step and chunk events. Implementations must be safe for
// concurrent use: parallel steps report from every worker.
type MetricRecorder interface {
	RecordJobStart(ctx context.Context, execution *model.JobExecution)
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)
	RecordStepStart(ctx context.Context, execution *model.StepExecution)
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)
	// RecordItemRead counts items pulled from a reader.
	RecordItemRead(ctx context.Context, stepName string, count int)
	// RecordItemSkip counts one skipped item; kind is the error kind that caused it.
	RecordItemSkip(ctx context.Context, stepName string, kind string)
	// RecordChunkRetry counts one retried chunk write.
	RecordChunkRetry(ctx context.Context, stepName string)
	// RecordChunkCommit counts a successful chunk write of count items.
	RecordChunkCommit(ctx context.Context, stepName string, count int)
	// RecordChunkRollback counts a chunk whose write finally failed.
	RecordChunkRollback(ctx context.Context, stepName string)
}

// NoOpMetricRecorder discards everything.
type NoOpMetricRecorder struct{}

func NewNoOpMetricRecorder() MetricRecorder { return &NoOpMetricRecorder{} }

func (r *NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution)   {}
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution)     {}
func (r *NoOpMetricRecorder) RecordStepStart(context.Context, *model.StepExecution) {}
func (r *NoOpMetricRecorder) RecordStepEnd(context.Context, *model.StepExecution)   {}
func (r *NoOpMetricRecorder) RecordItemRead(context.Context, string, int)           {}
func (r *NoOpMetricRecorder) RecordItemSkip(context.Context, string, string)        {}
func (r *NoOpMetricRecorder) RecordChunkRetry(context.Context, string)              {}
func (r *NoOpMetricRecorder) RecordChunkCommit(context.Context, string, int)        {}
func (r *NoOpMetricRecorder) RecordChunkRollback(context.Context, string)           {}
