package model

import (
	"errors"
	"sync"
	"time"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// ItemCounts are the per-step item and commit counters.
type ItemCounts struct {
	ReadCount        int64
	WriteCount       int64
	FilterCount      int64
	ReadSkipCount    int64
	ProcessSkipCount int64
	FailedCount      int64
	CommitCount      int64
	RollbackCount    int64
}

// Add accumulates o into c.
func (c *ItemCounts) Add(o ItemCounts) {
	c.ReadCount += o.ReadCount
	c.WriteCount += o.WriteCount
	c.FilterCount += o.FilterCount
	c.ReadSkipCount += o.ReadSkipCount
	c.ProcessSkipCount += o.ProcessSkipCount
	c.FailedCount += o.FailedCount
	c.CommitCount += o.CommitCount
	c.RollbackCount += o.RollbackCount
}

// SkipCount is the total of read and process skips.
func (c ItemCounts) SkipCount() int64 {
	return c.ReadSkipCount + c.ProcessSkipCount
}

// ExecutionResult is the terminal outcome of a step or a job: status, counts and the
// first fatal error, if any.
type ExecutionResult struct {
	Status     BatchStatus
	ExitStatus ExitStatus
	ItemCounts
	Err error
}

// StepExecution is the state of one run of one step.
type StepExecution struct {
	ID             string
	StepName       string
	JobName        string
	JobExecutionID string
	Status         BatchStatus
	ExitStatus     ExitStatus
	StartTime      time.Time
	EndTime        *time.Time
	LastUpdated    time.Time
	ItemCounts
	Failures []error
}

func NewStepExecution(je *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:          NewID(),
		StepName:    stepName,
		Status:      BatchStatusStarting,
		ExitStatus:  ExitStatusUnknown,
		StartTime:   now,
		LastUpdated: now,
	}
	if je != nil {
		se.JobName = je.JobName
		se.JobExecutionID = je.ID
	}
	return se
}

func (se *StepExecution) mark(next BatchStatus) {
	if err := transition("StepExecution", se.ID, &se.Status, next); err != nil {
		logger.Warnf("Could not update step '%s': %v", se.StepName, err)
		se.Status = next
	}
	se.LastUpdated = time.Now()
}

func (se *StepExecution) finish(next BatchStatus, exit ExitStatus) {
	se.mark(next)
	se.ExitStatus = exit
	now := time.Now()
	se.EndTime = &now
}

func (se *StepExecution) MarkAsStarted() {
	se.mark(BatchStatusStarted)
	se.ExitStatus = ExitStatusExecuting
}

func (se *StepExecution) MarkAsCompleted() {
	se.finish(BatchStatusCompleted, ExitStatusCompleted)
}

// MarkAsNoOp completes a step that did not run because a prior attempt completed it.
func (se *StepExecution) MarkAsNoOp() {
	se.finish(BatchStatusCompleted, ExitStatusNoOp)
}

func (se *StepExecution) MarkAsFailed(err error) {
	se.AddFailure(err)
	se.finish(BatchStatusFailed, ExitStatusFailed)
}

func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped, ExitStatusStopped)
}

// AddFailure records err unless an error with the same message is already recorded.
func (se *StepExecution) AddFailure(err error) {
	se.Failures = appendUnique(se.Failures, err)
}

// FirstError is the first recorded fatal error, or nil.
func (se *StepExecution) FirstError() error {
	if len(se.Failures) == 0 {
		return nil
	}
	return se.Failures[0]
}

func (se *StepExecution) Result() ExecutionResult {
	return ExecutionResult{
		Status:     se.Status,
		ExitStatus: se.ExitStatus,
		ItemCounts: se.ItemCounts,
		Err:        se.FirstError(),
	}
}

// JobExecution is the state of one launch of a job. Split branches register their step
// executions concurrently, so mutation goes through its methods.
type JobExecution struct {
	ID          string
	JobName     string
	Parameters  JobParameters
	Status      BatchStatus
	ExitStatus  ExitStatus
	StartTime   time.Time
	EndTime     *time.Time
	LastUpdated time.Time
	// Restart is set when this launch resumes a prior execution that did not complete.
	Restart bool
	// PriorExecutionID names the execution a restart resumes.
	PriorExecutionID string

	mu             sync.Mutex
	stepExecutions []*StepExecution
	failures       []error
}

func NewJobExecution(jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:          NewID(),
		JobName:     jobName,
		Parameters:  params,
		Status:      BatchStatusStarting,
		ExitStatus:  ExitStatusUnknown,
		StartTime:   now,
		LastUpdated: now,
	}
}

func (je *JobExecution) mark(next BatchStatus) {
	if err := transition("JobExecution", je.ID, &je.Status, next); err != nil {
		logger.Warnf("Could not update job '%s': %v", je.JobName, err)
		je.Status = next
	}
	je.LastUpdated = time.Now()
}

func (je *JobExecution) finish(next BatchStatus) {
	je.mark(next)
	je.ExitStatus = next.ToExitStatus()
	now := time.Now()
	je.EndTime = &now
}

func (je *JobExecution) MarkAsStarted() {
	je.mark(BatchStatusStarted)
	je.ExitStatus = ExitStatusExecuting
}

func (je *JobExecution) MarkAsCompleted() {
	je.finish(BatchStatusCompleted)
}

func (je *JobExecution) MarkAsFailed(err error) {
	je.AddFailure(err)
	je.finish(BatchStatusFailed)
}

func (je *JobExecution) MarkAsStopped() {
	je.finish(BatchStatusStopped)
}

func (je *JobExecution) AddStepExecution(se *StepExecution) {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.stepExecutions = append(je.stepExecutions, se)
}

// StepExecutions returns a snapshot in registration order.
func (je *JobExecution) StepExecutions() []*StepExecution {
	je.mu.Lock()
	defer je.mu.Unlock()
	return append([]*StepExecution(nil), je.stepExecutions...)
}

func (je *JobExecution) AddFailure(err error) {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.failures = appendUnique(je.failures, err)
}

func (je *JobExecution) Failures() []error {
	je.mu.Lock()
	defer je.mu.Unlock()
	return append([]error(nil), je.failures...)
}

// Result aggregates the counts of every step that ran in this launch. Steps skipped on
// restart contribute nothing.
func (je *JobExecution) Result() ExecutionResult {
	res := ExecutionResult{Status: je.Status, ExitStatus: je.ExitStatus}
	for _, se := range je.StepExecutions() {
		if se.ExitStatus == ExitStatusNoOp {
			continue
		}
		res.ItemCounts.Add(se.ItemCounts)
	}
	if failures := je.Failures(); len(failures) > 0 {
		res.Err = failures[0]
	}
	return res
}

func appendUnique(list []error, err error) []error {
	if err == nil {
		return list
	}
	for _, existing := range list {
		if errors.Is(existing, err) || existing.Error() == err.Error() {
			return list
		}
	}
	return append(list, err)
}
