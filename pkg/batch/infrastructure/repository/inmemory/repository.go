// Package inmemory is a process-local metadata store. History is lost on exit, so
// restart only works within one process; use the sql store for durable restarts.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/parabatch/pkg/batch/core/domain/repository"
)

type jobRecord struct {
	seq        int
	id         string
	jobName    string
	params     map[string]interface{}
	status     model.BatchStatus
	exitStatus model.ExitStatus
	startTime  time.Time
	endTime    *time.Time
}

type outcomeKey struct {
	jobExecutionID string
	stepName       string
}

// InMemoryJobRepository implements repository.JobRepository with maps.
type InMemoryJobRepository struct {
	mu       sync.RWMutex
	seq      int
	jobs     map[string]*jobRecord
	outcomes map[outcomeKey]model.ExecutionResult
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:     make(map[string]*jobRecord),
		outcomes: make(map[outcomeKey]model.ExecutionResult),
	}
}

func (r *InMemoryJobRepository) SaveJobExecution(_ context.Context, je *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[je.ID]; exists {
		return fmt.Errorf("job execution %s already exists", je.ID)
	}
	r.seq++
	rec := &jobRecord{seq: r.seq}
	fill(rec, je)
	r.jobs[je.ID] = rec
	return nil
}

func (r *InMemoryJobRepository) UpdateJobExecution(_ context.Context, je *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[je.ID]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrJobExecutionNotFound, je.ID)
	}
	fill(rec, je)
	return nil
}

func (r *InMemoryJobRepository) FindLatestJobExecution(_ context.Context, jobName string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *jobRecord
	for _, rec := range r.jobs {
		if rec.jobName == jobName && (latest == nil || rec.seq > latest.seq) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", repository.ErrJobExecutionNotFound, jobName)
	}
	params := model.NewJobParameters()
	for k, v := range latest.params {
		params.Put(k, v)
	}
	je := model.NewJobExecution(latest.jobName, params)
	je.ID = latest.id
	je.Status = latest.status
	je.ExitStatus = latest.exitStatus
	je.StartTime = latest.startTime
	je.EndTime = latest.endTime
	return je, nil
}

func (r *InMemoryJobRepository) RecordStepOutcome(_ context.Context, _ string, se *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcomeKey{se.JobExecutionID, se.StepName}] = se.Result()
	return nil
}

func (r *InMemoryJobRepository) PriorOutcome(_ context.Context, jobExecutionID, stepName string) (model.ExecutionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.outcomes[outcomeKey{jobExecutionID, stepName}]
	if !ok {
		return model.ExecutionResult{}, fmt.Errorf("%w: %s/%s", repository.ErrStepOutcomeNotFound, jobExecutionID, stepName)
	}
	return res, nil
}

func fill(rec *jobRecord, je *model.JobExecution) {
	rec.id = je.ID
	rec.jobName = je.JobName
	rec.params = make(map[string]interface{}, len(je.Parameters.Params))
	for k, v := range je.Parameters.Params {
		rec.params[k] = v
	}
	rec.status = je.Status
	rec.exitStatus = je.ExitStatus
	rec.startTime = je.StartTime
	rec.endTime = je.EndTime
}
