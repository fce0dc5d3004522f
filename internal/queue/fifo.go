// Package queue provides the FIFO used to hand values from background
// goroutines to the foreground without blocking either side.
package queue

import (
	"sync"

	"github.com/gammazero/deque"
)

// FIFO is an unbounded, goroutine-safe first-in first-out queue. Push never
// blocks and TryPop returns immediately when the queue is empty.
type FIFO[T any] struct {
	mu    sync.Mutex
	items deque.Deque[T]
}

func New[T any]() *FIFO[T] {
	return &FIFO[T]{}
}

func (q *FIFO[T]) Push(item T) {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest item, or reports false if there is none.
func (q *FIFO[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.items.PopFront(), true
}

func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Drain pops everything currently queued, oldest first.
func (q *FIFO[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.items.Len()
	if n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for q.items.Len() > 0 {
		out = append(out, q.items.PopFront())
	}
	return out
}
