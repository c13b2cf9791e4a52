package sql

import (
	"errors"
	"strings"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
)

func fromDomainJobExecution(je *model.JobExecution) (*JobExecutionEntity, error) {
	hash, err := je.Parameters.Hash()
	if err != nil {
		return nil, err
	}
	params := make(map[string]interface{}, len(je.Parameters.Params))
	for k, v := range je.Parameters.Params {
		params[k] = v
	}
	return &JobExecutionEntity{
		ID:             je.ID,
		JobName:        je.JobName,
		Parameters:     params,
		ParametersHash: hash,
		Status:         string(je.Status),
		ExitStatus:     string(je.ExitStatus),
		Restart:        je.Restart,
		StartTime:      je.StartTime,
		EndTime:        je.EndTime,
		LastUpdated:    je.LastUpdated,
		ErrorMessage:   joinErrors(je.Failures()),
	}, nil
}

// toDomainJobExecution restores the header of an execution. Step executions are not
// persisted with it; their outcomes live in batch_step_outcome.
func toDomainJobExecution(entity *JobExecutionEntity) *model.JobExecution {
	params := model.NewJobParameters()
	for k, v := range entity.Parameters {
		params.Put(k, v)
	}
	je := model.NewJobExecution(entity.JobName, params)
	je.ID = entity.ID
	je.Status = model.BatchStatus(entity.Status)
	je.ExitStatus = model.ExitStatus(entity.ExitStatus)
	je.Restart = entity.Restart
	je.StartTime = entity.StartTime
	je.EndTime = entity.EndTime
	je.LastUpdated = entity.LastUpdated
	if entity.ErrorMessage != "" {
		je.AddFailure(errors.New(entity.ErrorMessage))
	}
	return je
}

func fromDomainStepOutcome(jobName string, se *model.StepExecution) *StepOutcomeEntity {
	c := se.ItemCounts
	return &StepOutcomeEntity{
		JobName:          jobName,
		StepName:         se.StepName,
		StepExecutionID:  se.ID,
		JobExecutionID:   se.JobExecutionID,
		Status:           string(se.Status),
		ExitStatus:       string(se.ExitStatus),
		ReadCount:        c.ReadCount,
		WriteCount:       c.WriteCount,
		FilterCount:      c.FilterCount,
		ReadSkipCount:    c.ReadSkipCount,
		ProcessSkipCount: c.ProcessSkipCount,
		FailedCount:      c.FailedCount,
		CommitCount:      c.CommitCount,
		RollbackCount:    c.RollbackCount,
		ErrorMessage:     joinErrors(se.Failures),
	}
}

func toDomainStepOutcome(entity *StepOutcomeEntity) model.ExecutionResult {
	res := model.ExecutionResult{
		Status:     model.BatchStatus(entity.Status),
		ExitStatus: model.ExitStatus(entity.ExitStatus),
		ItemCounts: model.ItemCounts{
			ReadCount:        entity.ReadCount,
			WriteCount:       entity.WriteCount,
			FilterCount:      entity.FilterCount,
			ReadSkipCount:    entity.ReadSkipCount,
			ProcessSkipCount: entity.ProcessSkipCount,
			FailedCount:      entity.FailedCount,
			CommitCount:      entity.CommitCount,
			RollbackCount:    entity.RollbackCount,
		},
	}
	if entity.ErrorMessage != "" {
		res.Err = errors.New(entity.ErrorMessage)
	}
	return res
}

func joinErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return strings.Join(msgs, "; ")
}
