// Package flow composes steps into flows. A Flow runs its elements strictly in order and
// stops at the first failure; nested flows and splits are elements like steps, so any
// split-then-sequence topology can be expressed.
package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/parabatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/parabatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/parabatch/pkg/batch/core/metrics"
	exception "github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// Runtime is what elements share during one job execution. Split branches read it
// concurrently; it is never modified after the job starts.
type Runtime struct {
	JobExecution *model.JobExecution
	// Outcomes is consulted on restart and receives every step outcome. May be nil.
	Outcomes repository.StepOutcomeStore
	Tracer   metrics.Tracer
}

// Element is a node of the flow graph with a terminal outcome: nil when it completed,
// an error wrapping port.ErrStopped when it was stopped, any other error when it failed.
type Element interface {
	Name() string
	Execute(ctx context.Context, rt *Runtime) error
}

// Flow is an ordered sequence of elements.
type Flow struct {
	name              string
	elements          []Element
	continueOnFailure bool
}

var _ Element = (*Flow)(nil)

// New creates a flow running elements in order.
func New(name string, elements ...Element) *Flow {
	return &Flow{name: name, elements: append([]Element(nil), elements...)}
}

// ContinuingOnFailure returns a copy of f that runs its remaining elements after a
// failure. The flow still fails, with every element error attached.
func (f *Flow) ContinuingOnFailure() *Flow {
	c := *f
	c.continueOnFailure = true
	return &c
}

func (f *Flow) Name() string { return f.name }

// Elements returns the elements in execution order.
func (f *Flow) Elements() []Element {
	return append([]Element(nil), f.elements...)
}

func (f *Flow) Execute(ctx context.Context, rt *Runtime) error {
	logger.Debugf("Flow '%s' starting (%d elements).", f.name, len(f.elements))
	var failures *multierror.Error
	for _, el := range f.elements {
		if ctx.Err() != nil {
			logger.Warnf("Flow '%s' stopped before element '%s'.", f.name, el.Name())
			return fmt.Errorf("flow '%s': %w", f.name, port.ErrStopped)
		}
		err := el.Execute(ctx, rt)
		if err == nil {
			continue
		}
		if errors.Is(err, port.ErrStopped) && !failedElement(err) {
			return fmt.Errorf("flow '%s': %w", f.name, err)
		}
		if !f.continueOnFailure {
			logger.Errorf("Flow '%s' failed at '%s': %v", f.name, el.Name(), err)
			return fmt.Errorf("flow '%s': %w", f.name, err)
		}
		logger.Warnf("Flow '%s': '%s' failed, continuing with remaining elements: %v", f.name, el.Name(), err)
		failures = multierror.Append(failures, err)
	}
	if err := failures.ErrorOrNil(); err != nil {
		return fmt.Errorf("flow '%s': %w", f.name, err)
	}
	logger.Debugf("Flow '%s' completed.", f.name)
	return nil
}

// failedElement reports whether err carries a real failure besides any stop.
func failedElement(err error) bool {
	return exception.IsKind(err, exception.KindSplitPropagation)
}
