// Package skip tracks how many recoverable item errors a step may still tolerate.
package skip

import (
	"sync"

	"github.com/tigerroll/parabatch/pkg/batch/support/util/exception"
)

// Policy holds one skip limit per error kind. A limit of N tolerates N skippable errors
// of that kind; the next one is fatal. Kinds without a limit are never skipped.
// Policy is safe for concurrent use by the workers of a parallel step.
type Policy struct {
	mu     sync.Mutex
	limits map[exception.Kind]int64
	counts map[exception.Kind]int64
}

// NewPolicy creates a policy for read errors and transform errors.
func NewPolicy(readLimit, processLimit int64) *Policy {
	return &Policy{
		limits: map[exception.Kind]int64{
			exception.KindSourceRead: readLimit,
			exception.KindTransform:  processLimit,
		},
		counts: make(map[exception.Kind]int64),
	}
}

// NeverSkip is a policy with zero limits.
func NeverSkip() *Policy {
	return NewPolicy(0, 0)
}

// TrySkip consumes one unit of the limit for err's kind. It returns false when err is
// not skippable or the limit is exhausted, in which case err must fail the step.
func (p *Policy) TrySkip(err error) bool {
	if !exception.IsSkippable(err) {
		return false
	}
	kind := exception.KindOf(err)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[kind] >= p.limits[kind] {
		return false
	}
	p.counts[kind]++
	return true
}

// SkipCount returns how many errors of kind have been skipped.
func (p *Policy) SkipCount(kind exception.Kind) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[kind]
}

// Limit returns the configured limit for kind.
func (p *Policy) Limit(kind exception.Kind) int64 {
	return p.limits[kind]
}
