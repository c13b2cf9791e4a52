package flow

import (
	"context"
	"errors"
	"fmt"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/parabatch/pkg/batch/core/domain/repository"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// StepElement runs one step inside a flow.
type StepElement struct {
	step port.Step
}

// Step wraps s as a flow element.
func Step(s port.Step) *StepElement {
	return &StepElement{step: s}
}

func (e *StepElement) Name() string { return e.step.StepName() }

// Execute runs the step unless this is a restart and the step completed in the execution
// being resumed. The outcome is recorded in rt.Outcomes either way, so a skipped step
// stays COMPLETED for the next restart.
func (e *StepElement) Execute(ctx context.Context, rt *Runtime) error {
	je := rt.JobExecution
	name := e.step.StepName()

	if je.Restart && je.PriorExecutionID != "" && rt.Outcomes != nil {
		prior, err := rt.Outcomes.PriorOutcome(ctx, je.PriorExecutionID, name)
		switch {
		case err == nil && prior.Status == model.BatchStatusCompleted:
			se := model.NewStepExecution(je, name)
			se.ItemCounts = prior.ItemCounts
			se.MarkAsNoOp()
			je.AddStepExecution(se)
			logger.Infof("Step '%s' already completed in execution %s of '%s'; skipping.", name, je.PriorExecutionID, je.JobName)
			return e.record(ctx, rt, se)
		case err != nil && !errors.Is(err, repository.ErrStepOutcomeNotFound):
			return fmt.Errorf("step '%s': failed to read prior outcome: %w", name, err)
		}
	}

	se := model.NewStepExecution(je, name)
	je.AddStepExecution(se)
	runErr := e.step.Execute(ctx, je, se)
	if recErr := e.record(ctx, rt, se); recErr != nil && runErr == nil {
		return recErr
	}
	return runErr
}

func (e *StepElement) record(ctx context.Context, rt *Runtime, se *model.StepExecution) error {
	if rt.Outcomes == nil {
		return nil
	}
	if err := rt.Outcomes.RecordStepOutcome(context.WithoutCancel(ctx), rt.JobExecution.JobName, se); err != nil {
		logger.Errorf("Failed to record outcome of step '%s': %v", se.StepName, err)
		return fmt.Errorf("step '%s': failed to record outcome: %w", se.StepName, err)
	}
	return nil
}
