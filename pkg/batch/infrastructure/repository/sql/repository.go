// Package sql is the durable metadata store, kept in the batch_job_execution and
// batch_step_outcome tables through gorm.
package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/parabatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

// SQLJobRepository implements repository.JobRepository on a gorm connection.
type SQLJobRepository struct {
	db *gorm.DB
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// NewSQLJobRepository expects the tables to exist; run the metadata migrations first.
func NewSQLJobRepository(db *gorm.DB) *SQLJobRepository {
	return &SQLJobRepository{db: db}
}

func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, je *model.JobExecution) error {
	const op = "SQLJobRepository.SaveJobExecution"
	entity, err := fromDomainJobExecution(je)
	if err != nil {
		return exception.NewConfigurationError(op, "job parameters cannot be hashed", err)
	}
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewResourceAcquisitionError(op, fmt.Sprintf("failed to save JobExecution (ID: %s)", je.ID), err)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, je *model.JobExecution) error {
	const op = "SQLJobRepository.UpdateJobExecution"
	entity, err := fromDomainJobExecution(je)
	if err != nil {
		return exception.NewConfigurationError(op, "job parameters cannot be hashed", err)
	}
	res := r.db.WithContext(ctx).
		Model(&JobExecutionEntity{}).
		Where("id = ?", je.ID).
		Updates(map[string]interface{}{
			"status":        entity.Status,
			"exit_status":   entity.ExitStatus,
			"end_time":      entity.EndTime,
			"last_updated":  entity.LastUpdated,
			"error_message": entity.ErrorMessage,
		})
	if res.Error != nil {
		return exception.NewResourceAcquisitionError(op, fmt.Sprintf("failed to update JobExecution (ID: %s)", je.ID), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", repository.ErrJobExecutionNotFound, je.ID)
	}
	return nil
}

func (r *SQLJobRepository) FindLatestJobExecution(ctx context.Context, jobName string) (*model.JobExecution, error) {
	const op = "SQLJobRepository.FindLatestJobExecution"
	var entity JobExecutionEntity
	err := r.db.WithContext(ctx).
		Where("job_name = ?", jobName).
		Order("start_time DESC").
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", repository.ErrJobExecutionNotFound, jobName)
	}
	if err != nil {
		return nil, exception.NewResourceAcquisitionError(op, fmt.Sprintf("failed to find latest execution of job '%s'", jobName), err)
	}
	return toDomainJobExecution(&entity), nil
}

func (r *SQLJobRepository) RecordStepOutcome(ctx context.Context, jobName string, se *model.StepExecution) error {
	const op = "SQLJobRepository.RecordStepOutcome"
	entity := fromDomainStepOutcome(jobName, se)
	entity.RecordedAt = time.Now()
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewResourceAcquisitionError(op, fmt.Sprintf("failed to record outcome of step '%s'", se.StepName), err)
	}
	return nil
}

func (r *SQLJobRepository) PriorOutcome(ctx context.Context, jobExecutionID, stepName string) (model.ExecutionResult, error) {
	const op = "SQLJobRepository.PriorOutcome"
	var entity StepOutcomeEntity
	err := r.db.WithContext(ctx).
		Where("job_execution_id = ? AND step_name = ?", jobExecutionID, stepName).
		Order("seq DESC").
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ExecutionResult{}, fmt.Errorf("%w: %s/%s", repository.ErrStepOutcomeNotFound, jobExecutionID, stepName)
	}
	if err != nil {
		return model.ExecutionResult{}, exception.NewResourceAcquisitionError(op, fmt.Sprintf("failed to read outcome of step '%s'", stepName), err)
	}
	return toDomainStepOutcome(&entity), nil
}
