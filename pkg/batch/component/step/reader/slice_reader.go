package reader

import (
	"context"

	"github.com/tigerroll/parabatch/pkg/batch/core/application/port"
)

// SliceReader reads items from an in-memory slice.
type SliceReader[T any] struct {
	items []T
	pos   int
}

func NewSliceReader[T any](items ...T) *SliceReader[T] {
	return &SliceReader[T]{items: items}
}

func (r *SliceReader[T]) Open(context.Context) error {
	r.pos = 0
	return nil
}

func (r *SliceReader[T]) Read(context.Context) (T, error) {
	var zero T
	if r.pos >= len(r.items) {
		return zero, port.ErrNoMoreItems
	}
	item := r.items[r.pos]
	r.pos++
	return item, nil
}

func (r *SliceReader[T]) Close(context.Context) error { return nil }
