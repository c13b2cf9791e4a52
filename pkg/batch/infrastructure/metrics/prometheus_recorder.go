// Package metrics implements metrics.MetricRecorder with Prometheus and OpenTelemetry.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/parabatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder keeps batch metrics in its own registry. A batch process is
// short-lived, so the registry is exported with WriteTextfile for the node exporter's
// textfile collector instead of being scraped.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec

	itemReadCounter      *prometheus.CounterVec
	itemWriteCounter     *prometheus.CounterVec
	itemSkipCounter      *prometheus.CounterVec
	chunkCommitCounter   *prometheus.CounterVec
	chunkRollbackCounter *prometheus.CounterVec
	chunkRetryCounter    *prometheus.CounterVec
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates a recorder with Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Batch job executions by terminal status.",
		}, []string{"job_name", "status"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Batch step executions by terminal status.",
		}, []string{"job_name", "step_name", "status", "exit_status"}),
		itemReadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_read_total",
			Help: "Items read by step.",
		}, []string{"step_name"}),
		itemWriteCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_write_total",
			Help: "Items written by step.",
		}, []string{"step_name"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_skip_total",
			Help: "Items skipped by step and error kind.",
		}, []string{"step_name", "kind"}),
		chunkCommitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_commit_total",
			Help: "Chunk commits by step.",
		}, []string{"step_name"}),
		chunkRollbackCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_rollback_total",
			Help: "Chunks whose write failed, by step.",
		}, []string{"step_name"}),
		chunkRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_retry_total",
			Help: "Chunk write retries by step.",
		}, []string{"step_name"}),
	}

	registry.MustRegister(
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.itemReadCounter,
		r.itemWriteCounter,
		r.itemSkipCounter,
		r.chunkCommitCounter,
		r.chunkRollbackCounter,
		r.chunkRetryCounter,
	)
	return r
}

func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes every metric in text exposition format to path, atomically.
func (r *PrometheusRecorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return err
	}
	logger.Debugf("Metrics: wrote %s.", path)
	return nil
}

func (r *PrometheusRecorder) RecordJobStart(_ context.Context, execution *model.JobExecution) {
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

func (r *PrometheusRecorder) RecordJobEnd(_ context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, string(execution.Status)).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.jobDurationSeconds.WithLabelValues(execution.JobName, string(execution.Status)).Observe(duration)
	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

func (r *PrometheusRecorder) RecordStepStart(_ context.Context, execution *model.StepExecution) {
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

func (r *PrometheusRecorder) RecordStepEnd(_ context.Context, execution *model.StepExecution) {
	r.stepStatusCounter.WithLabelValues(execution.JobName, execution.StepName, string(execution.Status), string(execution.ExitStatus)).Inc()
	if execution.EndTime == nil {
		return
	}
	duration := execution.EndTime.Sub(execution.StartTime).Seconds()
	r.stepDurationSeconds.WithLabelValues(execution.JobName, execution.StepName, string(execution.Status)).Observe(duration)
}

func (r *PrometheusRecorder) RecordItemRead(_ context.Context, stepName string, count int) {
	r.itemReadCounter.WithLabelValues(stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordItemSkip(_ context.Context, stepName string, kind string) {
	r.itemSkipCounter.WithLabelValues(stepName, kind).Inc()
}

func (r *PrometheusRecorder) RecordChunkRetry(_ context.Context, stepName string) {
	r.chunkRetryCounter.WithLabelValues(stepName).Inc()
}

func (r *PrometheusRecorder) RecordChunkCommit(_ context.Context, stepName string, count int) {
	r.chunkCommitCounter.WithLabelValues(stepName).Inc()
	r.itemWriteCounter.WithLabelValues(stepName).Add(float64(count))
}

func (r *PrometheusRecorder) RecordChunkRollback(_ context.Context, stepName string) {
	r.chunkRollbackCounter.WithLabelValues(stepName).Inc()
}
