package session

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded FIFO mailbox.
//
// Push never blocks so one connection loop can never stall another. The
// consumer waits on Ready and then takes everything queued with Drain.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	max    int
	closed bool
	ready  chan struct{}

	drops atomic.Uint64
}

func NewQueue[T any](max int) *Queue[T] {
	if max <= 0 {
		max = 1
	}
	return &Queue[T]{
		max:   max,
		ready: make(chan struct{}, 1),
	}
}

// Push appends v. It reports false when the queue is closed or full, in which
// case v is dropped.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.items) >= q.max {
		q.drops.Add(1)
		return false
	}
	q.items = append(q.items, v)
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Ready fires at least once after items become available.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns every queued item in push order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes and discards anything still queued.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}

func (q *Queue[T]) Drops() uint64 {
	return q.drops.Load()
}
