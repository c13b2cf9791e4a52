// Package repository declares the metadata store the job coordinator persists
// execution history to and consults for restart decisions.
package repository

import (
	"context"
	"errors"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
)

var (
	// ErrJobExecutionNotFound is returned when no execution exists for a job name.
	ErrJobExecutionNotFound = errors.New("job execution not found")
	// ErrStepOutcomeNotFound is returned when a step has no recorded outcome.
	ErrStepOutcomeNotFound = errors.New("step outcome not found")
)

// JobExecutionStore persists job executions.
type JobExecutionStore interface {
	SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error
	// FindLatestJobExecution returns the most recently started execution of jobName.
	FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error)
}

// StepOutcomeStore persists step outcomes keyed by the job execution that produced them.
type StepOutcomeStore interface {
	// RecordStepOutcome stores the terminal state of stepExecution under its job execution.
	RecordStepOutcome(ctx context.Context, jobName string, stepExecution *model.StepExecution) error
	// PriorOutcome returns the last outcome of stepName recorded by the job execution
	// jobExecutionID, or ErrStepOutcomeNotFound.
	PriorOutcome(ctx context.Context, jobExecutionID, stepName string) (model.ExecutionResult, error)
}

// JobRepository is the full metadata store.
type JobRepository interface {
	JobExecutionStore
	StepOutcomeStore
}
