package runner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/parabatch/pkg/batch/component/step/reader"
	"github.com/tigerroll/parabatch/pkg/batch/component/step/writer"
	"github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/flow"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/split"
	"github.com/tigerroll/parabatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

func step(t *testing.T, name string) flow.Element {
	s, err := item.NewPassThroughStep(name, reader.NewSliceReader[int](), writer.NewListWriter[int](), item.Settings{ChunkSize: 1})
	require.NoError(t, err)
	return flow.Step(s)
}

type countingListener struct{ before, after int }

func (l *countingListener) BeforeJob(context.Context, *model.JobExecution) { l.before++ }
func (l *countingListener) AfterJob(context.Context, *model.JobExecution)  { l.after++ }

func TestNewJob_StepNamesInGraphOrder(t *testing.T) {
	root := flow.New("main",
		step(t, "prepare"),
		split.New("split", flow.New("f1", step(t, "a")), flow.New("f2", step(t, "b"))),
		step(t, "report"),
	)
	job, err := runner.NewJob("job", root)
	require.NoError(t, err)
	assert.Equal(t, []string{"prepare", "a", "b", "report"}, job.StepNames())
}

func TestNewJob_RejectsDuplicateStepNames(t *testing.T) {
	root := flow.New("main", step(t, "a"), split.New("split", flow.New("f1", step(t, "a"))))
	_, err := runner.NewJob("job", root)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestJob_RunNotifiesListeners(t *testing.T) {
	l := &countingListener{}
	job, err := runner.NewJob("job", flow.New("main", step(t, "a")), l)
	require.NoError(t, err)

	je := model.NewJobExecution("job", model.NewJobParameters())
	require.NoError(t, job.Run(context.Background(), &flow.Runtime{JobExecution: je}))
	job.Finish(context.Background(), je)
	assert.Equal(t, 1, l.before)
	assert.Equal(t, 1, l.after)
}
