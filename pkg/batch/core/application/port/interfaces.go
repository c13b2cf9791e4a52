// Package port declares the contracts between the chunk engine and the components it
// drives: item readers, processors and writers, steps, and the listeners notified
// around them.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
)

// ErrNoMoreItems is returned by ItemReader.Read once the source is exhausted.
var ErrNoMoreItems = errors.New("no more items to read")

// ErrItemFiltered is returned by ItemProcessor.Process to drop an item from its chunk.
// A filtered item is counted but neither written nor treated as an error.
var ErrItemFiltered = errors.New("item filtered")

// ErrStopped is wrapped by errors of steps and flows that ended because their context
// was cancelled before they finished.
var ErrStopped = errors.New("execution stopped")

// ItemReader produces a lazy, finite, forward-only sequence of items.
// Open acquires the backing resource and Close releases it; the engine calls Close on
// every exit path once Open has been attempted. A reader is used by one goroutine and
// is not reused across runs.
type ItemReader[O any] interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (O, error)
	Close(ctx context.Context) error
}

// ItemProcessor transforms one item. It may return ErrItemFiltered to drop the item.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter persists one chunk per Write call as a single atomic unit: either every
// item is durable when it returns nil, or none is visible after it returns an error.
type ItemWriter[I any] interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, items []I) error
	Close(ctx context.Context) error
}

// ConcurrencySafe is implemented by writers that accept concurrent Write calls.
// Writers that do not implement it, or report false, are serialized by the engine.
type ConcurrencySafe interface {
	ConcurrencySafe() bool
}

// IsConcurrencySafe reports whether w declares itself safe for concurrent writes.
func IsConcurrencySafe(w any) bool {
	cs, ok := w.(ConcurrencySafe)
	return ok && cs.ConcurrencySafe()
}

// ItemProcessorFunc adapts a function to ItemProcessor.
type ItemProcessorFunc[I, O any] func(ctx context.Context, item I) (O, error)

func (f ItemProcessorFunc[I, O]) Process(ctx context.Context, item I) (O, error) {
	return f(ctx, item)
}

// Step is one executable unit of a job. Execute drives stepExecution to a terminal
// status and returns the fatal error, if any.
type Step interface {
	StepName() string
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
}

// StepExecutionListener is notified before a step starts and after it terminates.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	AfterStep(ctx context.Context, stepExecution *model.StepExecution)
}

// ChunkListener is notified around every chunk. In parallel steps it is called from
// worker goroutines.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution, size int)
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution, written int)
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// JobExecutionListener is notified before a job runs and after it terminates.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}
