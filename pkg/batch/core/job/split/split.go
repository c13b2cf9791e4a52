// Package split runs sibling flow elements concurrently and joins them.
package split

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/parabatch/pkg/batch/core/application/port"
	"github.com/tigerroll/parabatch/pkg/batch/core/job/flow"
	exception "github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/parabatch/pkg/batch/support/util/logger"
)

// Split starts every branch at once and is terminal only when every branch is.
// A failed branch never cancels its siblings: what they commit stays committed.
type Split struct {
	name     string
	branches []flow.Element
	limit    int
}

var _ flow.Element = (*Split)(nil)

// New creates a split over branches. Each branch must own its readers and writers.
func New(name string, branches ...flow.Element) *Split {
	return &Split{name: name, branches: append([]flow.Element(nil), branches...)}
}

// WithLimit returns a copy of s running at most n branches at a time. n <= 0 means all.
func (s *Split) WithLimit(n int) *Split {
	c := *s
	c.limit = n
	return &c
}

func (s *Split) Name() string { return s.name }

func (s *Split) Branches() []flow.Element {
	return append([]flow.Element(nil), s.branches...)
}

// Execute returns nil when every branch completed. Otherwise it returns a
// SplitPropagationError aggregating every branch error, or a stop error when the only
// reason branches did not complete is that they were stopped.
func (s *Split) Execute(ctx context.Context, rt *flow.Runtime) error {
	logger.Infof("Split '%s' starting %d branches.", s.name, len(s.branches))
	if rt.Tracer != nil {
		rt.Tracer.RecordEvent(ctx, "split.start", map[string]interface{}{"split": s.name, "branches": len(s.branches)})
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		failures *multierror.Error
		stops    *multierror.Error
	)
	if s.limit > 0 {
		g.SetLimit(s.limit)
	}
	for _, branch := range s.branches {
		g.Go(func() error {
			err := branch.Execute(ctx, rt)
			if err == nil {
				logger.Debugf("Split '%s': branch '%s' completed.", s.name, branch.Name())
				return nil
			}
			wrapped := fmt.Errorf("branch '%s': %w", branch.Name(), err)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, port.ErrStopped) && !exception.IsKind(err, exception.KindSplitPropagation) {
				stops = multierror.Append(stops, wrapped)
			} else {
				failures = multierror.Append(failures, wrapped)
			}
			return wrapped
		})
	}
	_ = g.Wait()

	if failures != nil {
		all := multierror.Append(failures, stops.WrappedErrors()...)
		err := exception.NewSplitPropagationError(s.name, all.ErrorOrNil())
		logger.Errorf("Split '%s' failed: %d of %d branches did not complete.", s.name, all.Len(), len(s.branches))
		if rt.Tracer != nil {
			rt.Tracer.RecordError(ctx, s.name, err)
		}
		return err
	}
	if stops != nil {
		return fmt.Errorf("split '%s': %w", s.name, stops.ErrorOrNil())
	}
	logger.Infof("Split '%s' completed.", s.name)
	return nil
}
