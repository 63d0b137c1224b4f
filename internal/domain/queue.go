package domain

import "sync"

// Queue is an unbounded FIFO safe for concurrent push/pop. It is the only
// mutable state shared between pipeline workers; jobs are transferred by value
// so each job is owned by at most one queue at a time.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

// NewQueue returns an empty Queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Push appends item to the tail of the queue.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// TryPop removes and returns the head of the queue. The second return value
// is false when the queue is empty; workers poll rather than block.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release the reference
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
