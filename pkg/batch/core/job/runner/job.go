// Package runner holds the Job type: a named root flow and the listeners notified
// around its execution.
package runner

import (
	"context"
	"fmt"
	"sort"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/flow"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/split"
	exception "github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// Job is an immutable job definition for one launch.
type Job struct {
	name      string
	root      *flow.Flow
	listeners []port.JobExecutionListener
}

// NewJob validates the graph under root. Step names must be unique within a job because
// restart correlates outcomes by job name and step name.
func NewJob(name string, root *flow.Flow, listeners ...port.JobExecutionListener) (*Job, error) {
	if name == "" || root == nil {
		return nil, exception.NewConfigurationError("job", "job name and root flow are required", nil)
	}
	seen := make(map[string]int)
	collectStepNames(root, seen)
	var dups []string
	for n, c := range seen {
		if c > 1 {
			dups = append(dups, n)
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return nil, exception.NewConfigurationError(name, fmt.Sprintf("duplicate step names %v", dups), nil)
	}
	return &Job{name: name, root: root, listeners: listeners}, nil
}

func (j *Job) Name() string { return j.name }

func (j *Job) Root() *flow.Flow { return j.root }

// StepNames lists the job's steps in graph order.
func (j *Job) StepNames() []string {
	var names []string
	walk(j.root, func(s *flow.StepElement) { names = append(names, s.Name()) })
	return names
}

// Run notifies listeners and drives the root flow. Status bookkeeping belongs to the caller.
func (j *Job) Run(ctx context.Context, rt *flow.Runtime) error {
	for _, l := range j.listeners {
		l.BeforeJob(ctx, rt.JobExecution)
	}
	logger.Infof("Job '%s' running root flow '%s'.", j.name, j.root.Name())
	return j.root.Execute(ctx, rt)
}

// Finish notifies listeners that the job reached a terminal status.
func (j *Job) Finish(ctx context.Context, je *model.JobExecution) {
	for _, l := range j.listeners {
		l.AfterJob(ctx, je)
	}
}

func collectStepNames(el flow.Element, seen map[string]int) {
	walk(el, func(s *flow.StepElement) { seen[s.Name()]++ })
}

func walk(el flow.Element, visit func(*flow.StepElement)) {
	switch e := el.(type) {
	case *flow.StepElement:
		visit(e)
	case *flow.Flow:
		for _, child := range e.Elements() {
			walk(child, visit)
		}
	case *split.Split:
		for _, child := range e.Branches() {
			walk(child, visit)
		}
	}
}
