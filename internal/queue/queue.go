// Package queue provides the FIFO crawl queue drained by the worker pool.
// The queue tracks tasks that have been handed out but not yet marked done,
// so an empty queue with idle workers is reported as drained instead of
// blocking forever.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/linkcheck/internal/metrics"
)

var (
	// ErrDrained is returned by Get once the queue is empty and no task is
	// in flight.
	ErrDrained = errors.New("queue drained")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("queue closed")
)

// Task is one queue element; Order records the global enqueue position.
type Task[T any] struct {
	Item  T
	Order uint64
}

// Queue is an unbounded FIFO queue safe for concurrent producers and
// consumers.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []Task[T]
	next     uint64
	inFlight int
	closed   bool
	// notify is closed and replaced whenever waiters should re-check state.
	notify chan struct{}
}

// New constructs an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{})}
}

// Put appends items in order. Items from a single call keep their relative
// order even with concurrent producers.
func (q *Queue[T]) Put(items ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	for _, item := range items {
		q.items = append(q.items, Task[T]{Item: item, Order: q.next})
		q.next++
	}
	metrics.SetQueueDepth(len(q.items))
	q.wakeLocked()
	return nil
}

// Get pops the oldest task, blocking while the queue is empty and other
// tasks are still in flight. Every successful Get must be paired with Done.
func (q *Queue[T]) Get(ctx context.Context) (Task[T], error) {
	for {
		q.mu.Lock()
		switch {
		case q.closed:
			q.mu.Unlock()
			return Task[T]{}, ErrClosed
		case len(q.items) > 0:
			task := q.items[0]
			var zero Task[T]
			q.items[0] = zero
			q.items = q.items[1:]
			q.inFlight++
			metrics.SetQueueDepth(len(q.items))
			q.mu.Unlock()
			return task, nil
		case q.inFlight == 0:
			q.mu.Unlock()
			return Task[T]{}, ErrDrained
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Task[T]{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Done marks a task returned by Get as finished. Children of the task must
// be Put before Done is called.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	if q.inFlight == 0 && len(q.items) == 0 {
		q.wakeLocked()
	}
}

// Close wakes all waiters; further Put and Get calls fail. Closing twice is
// safe.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

// Len returns the number of queued tasks.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of tasks handed out and not yet done.
func (q *Queue[T]) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

func (q *Queue[T]) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}
