// Package usecase contains the job coordinator: it resolves a job for a launch, decides
// whether the launch is a restart, drives the job and persists its outcome.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/parabatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/flow"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/parabatch/pkg/batch/core/metrics"
	exception "github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// JobFactory builds a fresh job graph, with fresh readers and writers, for one launch.
type JobFactory func(params model.JobParameters) (*runner.Job, error)

// JobRegistry maps job names to factories.
type JobRegistry struct {
	mu        sync.RWMutex
	factories map[string]JobFactory
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{factories: make(map[string]JobFactory)}
}

func (r *JobRegistry) Register(name string, factory JobFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *JobRegistry) Lookup(name string) (JobFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns the registered job names, sorted.
func (r *JobRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LaunchOptions tune a single launch.
type LaunchOptions struct {
	// Restart resumes the latest execution of the job when it did not complete and
	// was launched with the same parameters. Steps it completed are not re-run.
	Restart bool
}

// JobCoordinator launches jobs. A launch runs to completion on the caller's goroutine.
type JobCoordinator struct {
	repo           repository.JobRepository
	registry       *JobRegistry
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	listeners      []port.JobExecutionListener
}

func NewJobCoordinator(
	repo repository.JobRepository,
	registry *JobRegistry,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	listeners ...port.JobExecutionListener,
) *JobCoordinator {
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	return &JobCoordinator{
		repo:           repo,
		registry:       registry,
		metricRecorder: metricRecorder,
		tracer:         tracer,
		listeners:      listeners,
	}
}

// Launch runs jobName once with params. The returned execution carries the terminal
// status and counts; the error is non-nil only when the job could not be started or its
// outcome could not be persisted.
func (c *JobCoordinator) Launch(ctx context.Context, jobName string, params model.JobParameters, opts LaunchOptions) (*model.JobExecution, error) {
	factory, ok := c.registry.Lookup(jobName)
	if !ok {
		return nil, exception.NewConfigurationError("job_coordinator", fmt.Sprintf("unknown job '%s'", jobName), nil)
	}
	job, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build job '%s': %w", jobName, err)
	}

	je := model.NewJobExecution(jobName, params)
	if opts.Restart {
		priorID, err := c.resumableExecution(ctx, jobName, params)
		if err != nil {
			return nil, err
		}
		je.Restart = priorID != ""
		je.PriorExecutionID = priorID
	}
	if err := c.repo.SaveJobExecution(ctx, je); err != nil {
		return nil, fmt.Errorf("failed to save execution of job '%s': %w", jobName, err)
	}
	logger.Infof("Launching job '%s' (execution %s, restart=%t, parameters=%v).", jobName, je.ID, je.Restart, params.Keys())

	ctx, endSpan := c.tracer.StartJobSpan(ctx, je)
	defer endSpan()

	je.MarkAsStarted()
	c.metricRecorder.RecordJobStart(ctx, je)
	for _, l := range c.listeners {
		l.BeforeJob(ctx, je)
	}
	if err := c.repo.UpdateJobExecution(ctx, je); err != nil {
		logger.Warnf("Failed to persist start of execution %s: %v", je.ID, err)
	}

	rt := &flow.Runtime{JobExecution: je, Outcomes: c.repo, Tracer: c.tracer}
	runErr := job.Run(ctx, rt)

	switch terminalStatus(je, runErr) {
	case model.BatchStatusCompleted:
		je.MarkAsCompleted()
	case model.BatchStatusStopped:
		je.MarkAsStopped()
	default:
		je.MarkAsFailed(runErr)
		c.tracer.RecordError(ctx, jobName, runErr)
	}

	job.Finish(ctx, je)
	for _, l := range c.listeners {
		l.AfterJob(ctx, je)
	}
	c.metricRecorder.RecordJobEnd(ctx, je)

	res := je.Result()
	logger.Infof("Job '%s' finished with status %s (read=%d written=%d skipped=%d failed=%d).",
		jobName, je.Status, res.ReadCount, res.WriteCount, res.SkipCount(), res.FailedCount)

	if err := c.repo.UpdateJobExecution(context.WithoutCancel(ctx), je); err != nil {
		return je, fmt.Errorf("failed to persist outcome of execution %s: %w", je.ID, err)
	}
	return je, nil
}

// resumableExecution returns the ID of the execution a launch resumes, or "" for a fresh
// run. Only the latest execution qualifies, and only if it did not complete and ran with
// the same parameters.
func (c *JobCoordinator) resumableExecution(ctx context.Context, jobName string, params model.JobParameters) (string, error) {
	prior, err := c.repo.FindLatestJobExecution(ctx, jobName)
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up prior execution of job '%s': %w", jobName, err)
	}
	if prior.Status == model.BatchStatusCompleted || prior.Status == model.BatchStatusAbandoned {
		return "", nil
	}
	priorHash, err := prior.Parameters.Hash()
	if err != nil {
		return "", err
	}
	hash, err := params.Hash()
	if err != nil {
		return "", err
	}
	if priorHash != hash {
		logger.Infof("Job '%s': prior execution %s used different parameters; starting fresh.", jobName, prior.ID)
		return "", nil
	}
	logger.Infof("Job '%s': resuming after execution %s (%s).", jobName, prior.ID, prior.Status)
	return prior.ID, nil
}

// terminalStatus decides the job outcome. A failed step fails the job even if other
// branches were stopped.
func terminalStatus(je *model.JobExecution, runErr error) model.BatchStatus {
	for _, se := range je.StepExecutions() {
		if se.Status == model.BatchStatusFailed {
			return model.BatchStatusFailed
		}
	}
	switch {
	case runErr == nil:
		return model.BatchStatusCompleted
	case errors.Is(runErr, port.ErrStopped) && !exception.IsKind(runErr, exception.KindSplitPropagation):
		return model.BatchStatusStopped
	default:
		return model.BatchStatusFailed
	}
}
