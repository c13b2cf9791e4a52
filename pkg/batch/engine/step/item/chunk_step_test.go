package item_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/parabatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/parabatch/pkg/batch/component/step/writer"
	"github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	"github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

type txn struct {
	Account string
	Cents   int64
}

// scriptedReader returns its entries in order; error entries are returned as read errors.
type scriptedReader struct {
	entries []interface{}
	pos     int
	opened  bool
	closed  bool
	openErr error
}

func (r *scriptedReader) Open(context.Context) error {
	r.opened = true
	return r.openErr
}

func (r *scriptedReader) Read(context.Context) (txn, error) {
	if r.pos >= len(r.entries) {
		return txn{}, port.ErrNoMoreItems
	}
	e := r.entries[r.pos]
	r.pos++
	if err, ok := e.(error); ok {
		return txn{}, err
	}
	return e.(txn), nil
}

func (r *scriptedReader) Close(context.Context) error {
	r.closed = true
	return nil
}

// MockItemWriter records calls through testify's mock.
type MockItemWriter struct {
	mock.Mock
}

func (m *MockItemWriter) Open(ctx context.Context) error  { return m.Called(ctx).Error(0) }
func (m *MockItemWriter) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockItemWriter) Write(ctx context.Context, items []txn) error {
	return m.Called(ctx, items).Error(0)
}

// overlapWriter tracks how many Write calls overlap.
type overlapWriter struct {
	safe    bool
	delay   time.Duration
	failOn  func(items []txn) error
	current atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	written []txn
	chunks  int
}

func (w *overlapWriter) Open(context.Context) error  { return nil }
func (w *overlapWriter) Close(context.Context) error { return nil }
func (w *overlapWriter) ConcurrencySafe() bool       { return w.safe }

func (w *overlapWriter) Write(_ context.Context, items []txn) error {
	n := w.current.Add(1)
	defer w.current.Add(-1)
	for {
		p := w.peak.Load()
		if n <= p || w.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(w.delay)
	if w.failOn != nil {
		if err := w.failOn(items); err != nil {
			return err
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, items...)
	w.chunks++
	return nil
}

func txns(n int) []txn {
	out := make([]txn, n)
	for i := range out {
		out[i] = txn{Account: fmt.Sprintf("ACC%04d", i), Cents: int64(i)}
	}
	return out
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 1.5}
}

func run[I, O any](t *testing.T, ctx context.Context, step *item.ChunkStep[I, O]) (*model.StepExecution, error) {
	t.Helper()
	je := model.NewJobExecution("testJob", model.NewJobParameters())
	se := model.NewStepExecution(je, step.StepName())
	err := step.Execute(ctx, je, se)
	return se, err
}

func TestChunkStep_SequentialScenario(t *testing.T) {
	t1 := txn{"A", 1000}
	t2 := txn{"B", 2000}
	t3 := txn{"C", 3000}
	w := writer.NewListWriter[txn]()
	step, err := item.NewPassThroughStep("fileImport", reader.NewSliceReader(t1, t2, t3), w,
		item.Settings{ChunkSize: 2, Retry: fastRetry(1)})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.NoError(t, err)

	assert.Equal(t, [][]txn{{t1, t2}, {t3}}, w.Chunks())
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, int64(3), se.ReadCount)
	assert.Equal(t, int64(3), se.WriteCount)
	assert.Equal(t, int64(0), se.SkipCount())
	assert.Equal(t, int64(0), se.FailedCount)
	assert.Equal(t, int64(2), se.CommitCount)
}

func TestChunkStep_ChunkCountProperty(t *testing.T) {
	for _, tc := range []struct{ length, size, chunks, last int }{
		{10, 3, 4, 1},
		{9, 3, 3, 3},
		{1, 100, 1, 1},
		{0, 5, 0, 0},
		{250, 100, 3, 50},
	} {
		t.Run(fmt.Sprintf("L%d_C%d", tc.length, tc.size), func(t *testing.T) {
			w := writer.NewListWriter[txn]()
			step, err := item.NewPassThroughStep("s", reader.NewSliceReader(txns(tc.length)...), w, item.Settings{ChunkSize: tc.size})
			require.NoError(t, err)

			se, err := run(t, context.Background(), step)
			require.NoError(t, err)

			chunks := w.Chunks()
			require.Len(t, chunks, tc.chunks)
			if tc.chunks > 0 {
				assert.Len(t, chunks[len(chunks)-1], tc.last)
			}
			for _, c := range chunks {
				assert.LessOrEqual(t, len(c), tc.size)
			}
			assert.Equal(t, txns(tc.length), append([]txn{}, w.Items()...))
			assert.Equal(t, int64(tc.chunks), se.CommitCount)
		})
	}
}

func malformed(line int) error {
	return exception.NewSourceReadError("flat", fmt.Sprintf("malformed line %d", line), errors.New("bad amount"), true)
}

func TestChunkStep_SkipLimitIsExact(t *testing.T) {
	entries := []interface{}{txn{"A", 1}, malformed(2), txn{"B", 2}, malformed(4), txn{"C", 3}}

	w := writer.NewListWriter[txn]()
	step, err := item.NewPassThroughStep("s", &scriptedReader{entries: entries}, w, item.Settings{ChunkSize: 2, ReadSkipLimit: 2})
	require.NoError(t, err)
	se, err := run(t, context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, int64(2), se.ReadSkipCount)
	assert.Equal(t, int64(3), se.WriteCount)

	entries = append(entries, malformed(6))
	w = writer.NewListWriter[txn]()
	step, err = item.NewPassThroughStep("s", &scriptedReader{entries: entries}, w, item.Settings{ChunkSize: 2, ReadSkipLimit: 2})
	require.NoError(t, err)
	se, err = run(t, context.Background(), step)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindSourceRead))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(2), se.ReadSkipCount)
	assert.Equal(t, err, se.Result().Err)
}

func TestChunkStep_DefaultIsFailFastOnMalformedRecord(t *testing.T) {
	r := &scriptedReader{entries: []interface{}{txn{"A", 1}, malformed(2)}}
	step, err := item.NewPassThroughStep("s", r, writer.NewListWriter[txn](), item.Settings{ChunkSize: 10})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(1), se.FailedCount)
	assert.True(t, r.closed)
}

func TestChunkStep_TransformFilterAndSkip(t *testing.T) {
	processor := port.ItemProcessorFunc[txn, string](func(_ context.Context, in txn) (string, error) {
		switch {
		case in.Cents == 0:
			return "", port.ErrItemFiltered
		case in.Cents < 0:
			return "", errors.New("negative amount")
		}
		return in.Account, nil
	})
	input := []txn{{"A", 1}, {"Z", 0}, {"N", -5}, {"B", 2}}
	w := writer.NewListWriter[string]()
	step, err := item.NewChunkStep[txn, string]("s", reader.NewSliceReader(input...), processor, w,
		item.Settings{ChunkSize: 4, ProcessSkipLimit: 1})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "B"}}, w.Chunks())
	assert.Equal(t, int64(1), se.FilterCount)
	assert.Equal(t, int64(1), se.ProcessSkipCount)
	assert.Equal(t, int64(4), se.ReadCount)
	assert.Equal(t, int64(2), se.WriteCount)

	step, err = item.NewChunkStep[txn, string]("s", reader.NewSliceReader(input...), processor, writer.NewListWriter[string](),
		item.Settings{ChunkSize: 4})
	require.NoError(t, err)
	se, err = run(t, context.Background(), step)
	assert.True(t, exception.IsKind(err, exception.KindTransform))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(3), se.FailedCount)
}

func TestChunkStep_RetriesSameChunk(t *testing.T) {
	w := new(MockItemWriter)
	chunk := []txn{{"A", 1}, {"B", 2}}
	w.On("Open", mock.Anything).Return(nil)
	w.On("Close", mock.Anything).Return(nil)
	w.On("Write", mock.Anything, chunk).Return(errors.New("deadlock")).Twice()
	w.On("Write", mock.Anything, chunk).Return(nil).Once()

	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(chunk...), w, item.Settings{ChunkSize: 5, Retry: fastRetry(3)})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, int64(2), se.WriteCount)
	assert.Equal(t, int64(1), se.CommitCount)
	w.AssertNumberOfCalls(t, "Write", 3)
}

func TestChunkStep_RetryExhaustionFailsStep(t *testing.T) {
	w := new(MockItemWriter)
	w.On("Open", mock.Anything).Return(nil)
	w.On("Close", mock.Anything).Return(nil)
	w.On("Write", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(txns(5)...), w, item.Settings{ChunkSize: 2, Retry: fastRetry(2)})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindSinkWrite))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, int64(1), se.RollbackCount)
	assert.Equal(t, int64(2), se.FailedCount)
	assert.Equal(t, int64(0), se.CommitCount)
	assert.Equal(t, int64(2), se.ReadCount, "no further items are pulled after the failure")
	w.AssertNumberOfCalls(t, "Write", 2)
}

func TestChunkStep_OpenFailureReleasesReader(t *testing.T) {
	r := &scriptedReader{openErr: errors.New("no such file")}
	step, err := item.NewPassThroughStep("s", r, writer.NewListWriter[txn](), item.Settings{ChunkSize: 2})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	assert.True(t, exception.IsKind(err, exception.KindResourceAcquisition))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.True(t, r.closed)
}

func TestChunkStep_ParallelNoLossNoDuplication(t *testing.T) {
	input := txns(1000)
	w := &overlapWriter{safe: true, delay: time.Millisecond}
	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(input...), w, item.Settings{ChunkSize: 7, Workers: 4})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.NoError(t, err)

	got := append([]txn(nil), w.written...)
	sort.Slice(got, func(i, j int) bool { return got[i].Cents < got[j].Cents })
	assert.Equal(t, input, got)
	assert.Equal(t, 143, w.chunks)
	assert.Equal(t, int64(1000), se.ReadCount)
	assert.Equal(t, int64(1000), se.WriteCount)
	assert.Equal(t, int64(143), se.CommitCount)
	assert.LessOrEqual(t, w.peak.Load(), int32(4))
}

func TestChunkStep_ParallelSerializesUnsafeWriter(t *testing.T) {
	w := &overlapWriter{safe: false, delay: 2 * time.Millisecond}
	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(txns(200)...), w, item.Settings{ChunkSize: 10, Workers: 8})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, int32(1), w.peak.Load())
	assert.Equal(t, int64(200), se.WriteCount)
}

func TestChunkStep_ParallelFailureStopsDispatch(t *testing.T) {
	boom := exception.NewSinkWriteError("s", "constraint violation", nil, false)
	w := &overlapWriter{safe: true, delay: time.Millisecond, failOn: func(items []txn) error {
		if items[0].Cents == 20 {
			return boom
		}
		return nil
	}}
	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(txns(1000)...), w, item.Settings{ChunkSize: 10, Workers: 2})
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Less(t, se.ReadCount, int64(1000))
	assert.Equal(t, int64(1), se.RollbackCount)
	assert.GreaterOrEqual(t, se.FailedCount, int64(10))
	assert.Equal(t, se.ReadCount, se.WriteCount+se.FailedCount, "every chunk read reaches an outcome")
}

// attemptLog records the first account of every chunk a writer was asked to write.
type attemptLog struct {
	mu    sync.Mutex
	first []int64
}

func (l *attemptLog) add(items []txn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.first = append(l.first, items[0].Cents)
}

func (l *attemptLog) count(cents int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.first {
		if c == cents {
			n++
		}
	}
	return n
}

// flakyThenFatal fails the first chunk with a retryable error on every attempt and the
// second chunk with a fatal one once the first has failed at least once.
func flakyThenFatal(log *attemptLog, fatal error) func(items []txn) error {
	firstFailed := make(chan struct{})
	var once sync.Once
	return func(items []txn) error {
		log.add(items)
		switch items[0].Cents {
		case 0:
			once.Do(func() { close(firstFailed) })
			return errors.New("connection reset")
		case 10:
			<-firstFailed
			return fatal
		}
		return nil
	}
}

func TestChunkStep_ParallelFailFastAbandonsRetries(t *testing.T) {
	boom := exception.NewSinkWriteError("s", "constraint violation", nil, false)
	log := &attemptLog{}
	w := &overlapWriter{safe: true, failOn: flakyThenFatal(log, boom)}
	settings := item.Settings{
		ChunkSize: 10,
		Workers:   2,
		FailFast:  true,
		Retry:     retry.Policy{MaxAttempts: 3, InitialInterval: 5 * time.Second, MaxInterval: 5 * time.Second},
	}
	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(txns(1000)...), w, settings)
	require.NoError(t, err)

	start := time.Now()
	se, err := run(t, context.Background(), step)

	require.ErrorIs(t, err, boom)
	assert.Less(t, time.Since(start), 4*time.Second, "retry wait is cut short")
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 1, log.count(0), "the flaky chunk is not retried")
	assert.Equal(t, []int64{0, 10}, distinctChunks(log), "no chunk is written after the failure")
	assert.Equal(t, int64(0), se.WriteCount)
	assert.Equal(t, int64(2), se.RollbackCount)
	assert.Less(t, se.ReadCount, int64(1000))
	assert.Equal(t, se.ReadCount, se.WriteCount+se.FailedCount, "every chunk read reaches an outcome")
}

func TestChunkStep_ParallelWithoutFailFastFinishesRetries(t *testing.T) {
	boom := exception.NewSinkWriteError("s", "constraint violation", nil, false)
	log := &attemptLog{}
	w := &overlapWriter{safe: true, failOn: flakyThenFatal(log, boom)}
	settings := item.Settings{
		ChunkSize: 10,
		Workers:   2,
		Retry:     retry.Policy{MaxAttempts: 3, InitialInterval: 50 * time.Millisecond, MaxInterval: 50 * time.Millisecond},
	}
	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(txns(1000)...), w, settings)
	require.NoError(t, err)

	se, err := run(t, context.Background(), step)

	require.ErrorIs(t, err, boom)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 3, log.count(0), "in-flight chunk runs all its attempts")
	assert.Equal(t, se.ReadCount, se.WriteCount+se.FailedCount)
}

// distinctChunks lists the chunks a writer saw, by first account, in ascending order.
func distinctChunks(l *attemptLog) []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := map[int64]bool{}
	var out []int64
	for _, c := range l.first {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// countingReader counts items handed out.
type countingReader struct {
	reader.SliceReader[txn]
	read atomic.Int32
}

func (r *countingReader) Read(ctx context.Context) (txn, error) {
	t, err := r.SliceReader.Read(ctx)
	if err == nil {
		r.read.Add(1)
	}
	return t, err
}

func TestChunkStep_ParallelCancelWhileWaitingForWorker(t *testing.T) {
	release := make(chan struct{})
	writing := make(chan struct{})
	var once sync.Once
	w := &overlapWriter{safe: true, failOn: func(items []txn) error {
		if items[0].Cents == 0 {
			once.Do(func() { close(writing) })
			<-release
		}
		return nil
	}}
	r := &countingReader{SliceReader: *reader.NewSliceReader(txns(100)...)}
	step, err := item.NewPassThroughStep[txn]("s", r, w, item.Settings{ChunkSize: 10, Workers: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		se  *model.StepExecution
		err error
	}
	done := make(chan result, 1)
	go func() {
		se, err := run(t, ctx, step)
		done <- result{se, err}
	}()

	<-writing
	require.Eventually(t, func() bool { return r.read.Load() == 20 }, 5*time.Second, time.Millisecond)
	cancel()
	// Let the dispatcher observe the cancellation before the worker frees its slot.
	time.Sleep(50 * time.Millisecond)
	close(release)

	res := <-done
	assert.ErrorIs(t, res.err, port.ErrStopped)
	assert.Equal(t, model.BatchStatusStopped, res.se.Status)
	assert.Equal(t, int64(20), res.se.ReadCount)
	assert.Equal(t, int64(10), res.se.WriteCount)
	assert.Equal(t, int64(10), res.se.FailedCount, "the chunk waiting for a worker is counted")
}

func TestChunkStep_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	step, err := item.NewPassThroughStep("s", reader.NewSliceReader(txns(10)...), writer.NewListWriter[txn](), item.Settings{ChunkSize: 2})
	require.NoError(t, err)

	se, err := run(t, ctx, step)
	assert.ErrorIs(t, err, port.ErrStopped)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, int64(0), se.WriteCount)
}

func TestNewChunkStep_Validation(t *testing.T) {
	_, err := item.NewPassThroughStep[txn]("s", reader.NewSliceReader[txn](), writer.NewListWriter[txn](), item.Settings{})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = item.NewPassThroughStep[txn]("", reader.NewSliceReader[txn](), writer.NewListWriter[txn](), item.DefaultSettings())
	assert.Error(t, err)
}
