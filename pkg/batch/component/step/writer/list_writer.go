package writer

import (
	"context"
	"sync"
)

// ListWriter keeps every written chunk in memory. It accepts concurrent writes.
type ListWriter[T any] struct {
	mu     sync.Mutex
	chunks [][]T
}

func NewListWriter[T any]() *ListWriter[T] {
	return &ListWriter[T]{}
}

func (w *ListWriter[T]) Open(context.Context) error  { return nil }
func (w *ListWriter[T]) Close(context.Context) error { return nil }
func (w *ListWriter[T]) ConcurrencySafe() bool       { return true }

func (w *ListWriter[T]) Write(_ context.Context, items []T) error {
	chunk := append([]T(nil), items...)
	w.mu.Lock()
	w.chunks = append(w.chunks, chunk)
	w.mu.Unlock()
	return nil
}

// Chunks returns the written chunks in write order.
func (w *ListWriter[T]) Chunks() [][]T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]T(nil), w.chunks...)
}

// Items returns all written items flattened in write order.
func (w *ListWriter[T]) Items() []T {
	var all []T
	for _, c := range w.Chunks() {
		all = append(all, c...)
	}
	return all
}
