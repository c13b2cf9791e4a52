// Package item implements chunk-oriented steps: items are read one at a time, grouped
// into chunks of at most ChunkSize items, transformed, and written one chunk per commit.
package item

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/parabatch/pkg/batch/core/metrics"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/skip"
	exception "github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// Settings configures a ChunkStep.
type Settings struct {
	// ChunkSize is the commit interval. Must be positive.
	ChunkSize int
	// Workers selects the concurrency policy: 1 or less runs sequentially, more runs a
	// worker pool of that size with at most Workers chunks in flight.
	Workers int
	// FailFast abandons queued chunks after the first failure and cuts retry waits
	// short. Running writes always finish.
	FailFast         bool
	Retry            retry.Policy
	ReadSkipLimit    int64
	ProcessSkipLimit int64
}

// DefaultSettings is sequential with chunks of 100 and the default retry policy.
func DefaultSettings() Settings {
	return Settings{ChunkSize: 100, Workers: 1, Retry: retry.DefaultPolicy()}
}

type hooks struct {
	stepListeners  []port.StepExecutionListener
	chunkListeners []port.ChunkListener
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
}

// Option attaches listeners and observability to a ChunkStep.
type Option func(*hooks)

func WithStepListener(l port.StepExecutionListener) Option {
	return func(h *hooks) { h.stepListeners = append(h.stepListeners, l) }
}

func WithChunkListener(l port.ChunkListener) Option {
	return func(h *hooks) { h.chunkListeners = append(h.chunkListeners, l) }
}

func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(h *hooks) {
		if r != nil {
			h.metricRecorder = r
		}
	}
}

func WithTracer(t metrics.Tracer) Option {
	return func(h *hooks) {
		if t != nil {
			h.tracer = t
		}
	}
}

// ChunkStep reads items of type I, transforms them to O and writes chunks of O.
type ChunkStep[I, O any] struct {
	name      string
	reader    port.ItemReader[I]
	processor port.ItemProcessor[I, O]
	writer    port.ItemWriter[O]
	settings  Settings
	hooks
}

var _ port.Step = (*ChunkStep[int, int])(nil)

// NewChunkStep validates settings and builds a step. reader, processor and writer are
// owned by the step for one run.
func NewChunkStep[I, O any](
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	settings Settings,
	opts ...Option,
) (*ChunkStep[I, O], error) {
	if name == "" {
		return nil, exception.NewConfigurationError("chunk_step", "step name is required", nil)
	}
	if reader == nil || processor == nil || writer == nil {
		return nil, exception.NewConfigurationError(name, "reader, processor and writer are required", nil)
	}
	if settings.ChunkSize <= 0 {
		return nil, exception.NewConfigurationError(name, fmt.Sprintf("chunk size must be positive, got %d", settings.ChunkSize), nil)
	}
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	s := &ChunkStep[I, O]{
		name:      name,
		reader:    reader,
		processor: processor,
		writer:    writer,
		settings:  settings,
		hooks: hooks{
			metricRecorder: metrics.NewNoOpMetricRecorder(),
			tracer:         metrics.NewNoOpTracer(),
		},
	}
	for _, opt := range opts {
		opt(&s.hooks)
	}
	return s, nil
}

// NewPassThroughStep builds a step without a transform stage.
func NewPassThroughStep[T any](name string, reader port.ItemReader[T], writer port.ItemWriter[T], settings Settings, opts ...Option) (*ChunkStep[T, T], error) {
	return NewChunkStep[T, T](name, reader, PassThrough[T](), writer, settings, opts...)
}

// PassThrough returns a processor that forwards every item unchanged.
func PassThrough[T any]() port.ItemProcessor[T, T] {
	return port.ItemProcessorFunc[T, T](func(_ context.Context, item T) (T, error) {
		return item, nil
	})
}

func (s *ChunkStep[I, O]) StepName() string { return s.name }

// Execute runs the step to a terminal status. The returned error is the step's first
// fatal error; it wraps port.ErrStopped when the context was cancelled before the
// source was exhausted.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error {
	mode := "sequential"
	if s.settings.Workers > 1 {
		mode = fmt.Sprintf("parallel, %d workers", s.settings.Workers)
	}
	logger.Infof("ChunkStep '%s' executing (chunk size %d, %s).", s.name, s.settings.ChunkSize, mode)

	ctx, endSpan := s.tracer.StartStepSpan(ctx, stepExecution)
	defer endSpan()

	stepExecution.MarkAsStarted()
	s.metricRecorder.RecordStepStart(ctx, stepExecution)
	for _, l := range s.stepListeners {
		l.BeforeStep(ctx, stepExecution)
	}

	run := &chunkRun{
		stepExecution: stepExecution,
		skipPolicy:    skip.NewPolicy(s.settings.ReadSkipLimit, s.settings.ProcessSkipLimit),
		serialWrites:  s.settings.Workers > 1 && !port.IsConcurrencySafe(s.writer),
	}
	if run.serialWrites {
		logger.Debugf("ChunkStep '%s': writer is not concurrency-safe, writes are serialized.", s.name)
	}

	err := s.execute(ctx, run)
	stepExecution.ItemCounts = run.snapshot()

	switch {
	case err == nil:
		stepExecution.MarkAsCompleted()
	case errors.Is(err, port.ErrStopped):
		stepExecution.MarkAsStopped()
	default:
		stepExecution.MarkAsFailed(err)
		s.tracer.RecordError(ctx, s.name, err)
	}

	for _, l := range s.stepListeners {
		l.AfterStep(ctx, stepExecution)
	}
	s.metricRecorder.RecordStepEnd(ctx, stepExecution)

	c := stepExecution.ItemCounts
	logger.Infof("ChunkStep '%s' finished. Status: %s, read=%d written=%d filtered=%d skipped=%d failed=%d commits=%d rollbacks=%d",
		s.name, stepExecution.Status, c.ReadCount, c.WriteCount, c.FilterCount, c.SkipCount(), c.FailedCount, c.CommitCount, c.RollbackCount)
	return err
}

// execute opens the reader and writer, runs the chunk loop and releases both on every
// path once their Open has been attempted.
func (s *ChunkStep[I, O]) execute(ctx context.Context, run *chunkRun) (err error) {
	if openErr := s.reader.Open(ctx); openErr != nil {
		s.closeReader(ctx)
		return asAcquisitionError(s.name, "failed to open item reader", openErr)
	}
	defer s.closeReader(ctx)

	if openErr := s.writer.Open(ctx); openErr != nil {
		s.closeWriter(ctx)
		return asAcquisitionError(s.name, "failed to open item writer", openErr)
	}
	defer func() {
		if closeErr := s.closeWriter(ctx); closeErr != nil && err == nil {
			err = exception.NewSinkWriteError(s.name, "failed to close item writer", closeErr, false)
		}
	}()

	if s.settings.Workers > 1 {
		return s.runParallel(ctx, run)
	}
	return s.runSequential(ctx, run)
}

func (s *ChunkStep[I, O]) closeReader(ctx context.Context) {
	if err := s.reader.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warnf("ChunkStep '%s': failed to close ItemReader: %v", s.name, err)
	}
}

func (s *ChunkStep[I, O]) closeWriter(ctx context.Context) error {
	err := s.writer.Close(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warnf("ChunkStep '%s': failed to close ItemWriter: %v", s.name, err)
	}
	return err
}

func (s *ChunkStep[I, O]) runSequential(ctx context.Context, run *chunkRun) error {
	for {
		if ctx.Err() != nil {
			return s.stopped(ctx)
		}
		items, eof, err := s.readChunk(ctx, run)
		if err != nil {
			run.add(model.ItemCounts{FailedCount: int64(len(items))})
			return err
		}
		if len(items) > 0 {
			delta, err := s.processChunk(ctx, run, items)
			run.add(delta)
			if err != nil {
				return err
			}
		}
		if eof {
			logger.Debugf("ChunkStep '%s': reached end of source.", s.name)
			return nil
		}
	}
}

// runParallel keeps the reader on the calling goroutine and hands each chunk to a
// step-owned worker pool. A chunk slot is taken before dispatch, so at most Workers
// chunks are read ahead of their commit.
func (s *ChunkStep[I, O]) runParallel(ctx context.Context, run *chunkRun) error {
	pool := workerpool.New(s.settings.Workers)
	slots := make(chan struct{}, s.settings.Workers)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var (
		failMu   sync.Mutex
		firstErr error
		failed   atomic.Bool
	)
	fail := func(err error) {
		failMu.Lock()
		defer failMu.Unlock()
		if firstErr == nil {
			firstErr = err
			failed.Store(true)
			if s.settings.FailFast {
				cancelWork()
			}
		}
	}

	stopped := false
	dispatched := 0
dispatch:
	for !failed.Load() {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		items, eof, err := s.readChunk(ctx, run)
		if err != nil {
			run.add(model.ItemCounts{FailedCount: int64(len(items))})
			fail(err)
			break
		}
		if len(items) > 0 {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				run.add(model.ItemCounts{FailedCount: int64(len(items))})
				stopped = true
				break dispatch
			}
			if failed.Load() {
				// A worker failed while this chunk waited for a slot.
				<-slots
				run.add(model.ItemCounts{FailedCount: int64(len(items))})
				break
			}
			dispatched++
			chunk := items
			pool.Submit(func() {
				defer func() { <-slots }()
				defer func() {
					if r := recover(); r != nil {
						fail(exception.NewSinkWriteError(s.name, "chunk worker panicked", fmt.Errorf("%v", r), false))
					}
				}()
				if s.settings.FailFast && workCtx.Err() != nil {
					run.add(model.ItemCounts{FailedCount: int64(len(chunk))})
					return
				}
				delta, err := s.processChunk(workCtx, run, chunk)
				run.add(delta)
				if err != nil {
					fail(err)
				}
			})
		}
		if eof {
			break
		}
	}

	pool.StopWait()
	logger.Debugf("ChunkStep '%s': %d chunks dispatched, all workers returned.", s.name, dispatched)

	failMu.Lock()
	defer failMu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	if stopped {
		return s.stopped(ctx)
	}
	return nil
}

// readChunk pulls up to ChunkSize items. eof reports that the source is exhausted;
// a returned error is fatal and items holds what was read before it.
func (s *ChunkStep[I, O]) readChunk(ctx context.Context, run *chunkRun) (items []I, eof bool, err error) {
	items = make([]I, 0, s.settings.ChunkSize)
	var delta model.ItemCounts
	defer func() {
		run.add(delta)
		if delta.ReadCount > 0 {
			s.metricRecorder.RecordItemRead(ctx, s.name, int(delta.ReadCount))
		}
	}()

	for len(items) < s.settings.ChunkSize {
		item, readErr := s.reader.Read(ctx)
		if errors.Is(readErr, port.ErrNoMoreItems) {
			return items, true, nil
		}
		if readErr != nil {
			if !exception.IsKind(readErr, exception.KindSourceRead) {
				readErr = exception.NewSourceReadError(s.name, "failed to read item", readErr, false)
			}
			if run.skipPolicy.TrySkip(readErr) {
				delta.ReadSkipCount++
				s.metricRecorder.RecordItemSkip(ctx, s.name, string(exception.KindSourceRead))
				logger.Warnf("ChunkStep '%s': item read skipped (%d/%d): %v", s.name,
					run.skipPolicy.SkipCount(exception.KindSourceRead), run.skipPolicy.Limit(exception.KindSourceRead), readErr)
				continue
			}
			return items, false, readErr
		}
		delta.ReadCount++
		items = append(items, item)
	}
	return items, false, nil
}

// processChunk transforms and writes one chunk and returns its counts. Item order within
// the chunk is preserved.
func (s *ChunkStep[I, O]) processChunk(ctx context.Context, run *chunkRun, items []I) (delta model.ItemCounts, err error) {
	ctx, endSpan := s.tracer.StartChunkSpan(ctx, s.name, len(items))
	defer endSpan()

	for _, l := range s.chunkListeners {
		l.BeforeChunk(ctx, run.stepExecution, len(items))
	}
	defer func() {
		if err == nil {
			return
		}
		for _, l := range s.chunkListeners {
			l.AfterChunkError(ctx, run.stepExecution, err)
		}
	}()

	out := make([]O, 0, len(items))
	for _, item := range items {
		o, procErr := s.processor.Process(ctx, item)
		if errors.Is(procErr, port.ErrItemFiltered) {
			delta.FilterCount++
			continue
		}
		if procErr != nil {
			if !exception.IsKind(procErr, exception.KindTransform) {
				procErr = exception.NewTransformError(s.name, "item rejected by processor", procErr)
			}
			if run.skipPolicy.TrySkip(procErr) {
				delta.ProcessSkipCount++
				s.metricRecorder.RecordItemSkip(ctx, s.name, string(exception.KindTransform))
				logger.Warnf("ChunkStep '%s': item process skipped (%d/%d): %v", s.name,
					run.skipPolicy.SkipCount(exception.KindTransform), run.skipPolicy.Limit(exception.KindTransform), procErr)
				continue
			}
			delta.FailedCount = int64(len(items)) - delta.FilterCount - delta.ProcessSkipCount
			return delta, procErr
		}
		out = append(out, o)
	}

	if len(out) == 0 {
		for _, l := range s.chunkListeners {
			l.AfterChunk(ctx, run.stepExecution, 0)
		}
		return delta, nil
	}

	if err := s.writeChunk(ctx, run, out); err != nil {
		delta.RollbackCount++
		delta.FailedCount += int64(len(out))
		s.metricRecorder.RecordChunkRollback(ctx, s.name)
		return delta, err
	}

	delta.WriteCount += int64(len(out))
	delta.CommitCount++
	s.metricRecorder.RecordChunkCommit(ctx, s.name, len(out))
	logger.Debugf("ChunkStep '%s': committed chunk of %d items.", s.name, len(out))
	for _, l := range s.chunkListeners {
		l.AfterChunk(ctx, run.stepExecution, len(out))
	}
	return delta, nil
}

// writeChunk writes one chunk under the retry policy. The write itself runs on a
// context that ignores cancellation: a commit in progress always runs to an outcome.
func (s *ChunkStep[I, O]) writeChunk(ctx context.Context, run *chunkRun, out []O) error {
	writeCtx := context.WithoutCancel(ctx)
	err := s.settings.Retry.Execute(ctx, func(attempt int) error {
		if attempt > 1 {
			s.metricRecorder.RecordChunkRetry(ctx, s.name)
		}
		if run.serialWrites {
			run.writeMu.Lock()
			defer run.writeMu.Unlock()
		}
		if werr := s.writer.Write(writeCtx, out); werr != nil {
			if _, ok := exception.As(werr); ok {
				return werr
			}
			return exception.NewSinkWriteError(s.name, "chunk write failed", werr, true)
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		logger.Warnf("ChunkStep '%s': chunk write failed (attempt %d/%d), retrying in %s: %v",
			s.name, attempt, s.settings.Retry.MaxAttempts, wait, err)
	})
	if err == nil {
		return nil
	}
	if !exception.IsKind(err, exception.KindSinkWrite) && !exception.IsKind(err, exception.KindResourceAcquisition) {
		err = exception.NewSinkWriteError(s.name, "chunk write abandoned", err, false)
	}
	return err
}

func (s *ChunkStep[I, O]) stopped(ctx context.Context) error {
	logger.Warnf("ChunkStep '%s': stop requested, no further chunks will be dispatched.", s.name)
	return fmt.Errorf("step '%s': %w: %w", s.name, port.ErrStopped, context.Cause(ctx))
}

func asAcquisitionError(module, message string, err error) error {
	if exception.IsKind(err, exception.KindResourceAcquisition) {
		return err
	}
	return exception.NewResourceAcquisitionError(module, message, err)
}

// chunkRun is the mutable state of one Execute call.
type chunkRun struct {
	stepExecution *model.StepExecution
	skipPolicy    *skip.Policy
	serialWrites  bool
	writeMu       sync.Mutex

	mu     sync.Mutex
	counts model.ItemCounts
}

func (r *chunkRun) add(delta model.ItemCounts) {
	r.mu.Lock()
	r.counts.Add(delta)
	r.mu.Unlock()
}

func (r *chunkRun) snapshot() model.ItemCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}
