// Package logging provides listeners that log job, step and chunk lifecycle events.
package logging

import (
	"context"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

type LoggingJobListener struct{}

func NewLoggingJobListener() *LoggingJobListener {
	return &LoggingJobListener{}
}

func (l *LoggingJobListener) BeforeJob(_ context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobExecutionListener: BeforeJob - JobName: %s, ID: %s, Restart: %t, Params: %v",
		jobExecution.JobName, jobExecution.ID, jobExecution.Restart, jobExecution.Parameters.Params)
}

func (l *LoggingJobListener) AfterJob(_ context.Context, jobExecution *model.JobExecution) {
	logger.Infof("JobExecutionListener: AfterJob - JobName: %s, Status: %s, ExitStatus: %s",
		jobExecution.JobName, jobExecution.Status, jobExecution.ExitStatus)
}

var _ port.JobExecutionListener = (*LoggingJobListener)(nil)

// --- Step Execution Listener ---

type LoggingStepListener struct{}

func NewLoggingStepListener() *LoggingStepListener {
	return &LoggingStepListener{}
}

func (l *LoggingStepListener) BeforeStep(_ context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: BeforeStep - StepName: %s, ID: %s", stepExecution.StepName, stepExecution.ID)
}

func (l *LoggingStepListener) AfterStep(_ context.Context, stepExecution *model.StepExecution) {
	logger.Infof("StepExecutionListener: AfterStep - StepName: %s, Status: %s, ExitStatus: %s, Read: %d, Write: %d, Skip: %d",
		stepExecution.StepName, stepExecution.Status, stepExecution.ExitStatus,
		stepExecution.ReadCount, stepExecution.WriteCount, stepExecution.SkipCount())
}

var _ port.StepExecutionListener = (*LoggingStepListener)(nil)

// --- Chunk Listener ---

// LoggingChunkListener logs at debug level, since a step may commit thousands of chunks.
type LoggingChunkListener struct{}

func NewLoggingChunkListener() *LoggingChunkListener {
	return &LoggingChunkListener{}
}

func (l *LoggingChunkListener) BeforeChunk(_ context.Context, stepExecution *model.StepExecution, size int) {
	logger.Debugf("ChunkListener: BeforeChunk - StepName: %s, Items: %d", stepExecution.StepName, size)
}

func (l *LoggingChunkListener) AfterChunk(_ context.Context, stepExecution *model.StepExecution, written int) {
	logger.Debugf("ChunkListener: AfterChunk - StepName: %s, Written: %d", stepExecution.StepName, written)
}

func (l *LoggingChunkListener) AfterChunkError(_ context.Context, stepExecution *model.StepExecution, err error) {
	logger.Warnf("ChunkListener: AfterChunkError - StepName: %s, Error: %v", stepExecution.StepName, err)
}

var _ port.ChunkListener = (*LoggingChunkListener)(nil)
