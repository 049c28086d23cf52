// Package memory provides the in-process job and page queues.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

// Queue is a bounded in-memory FIFO with context-aware operations.
// Items still buffered at Close remain available to Dequeue.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// NewJobQueue is the queue type workers read from.
func NewJobQueue(capacity int) *Queue[crawler.Job] {
	return NewQueue[crawler.Job](capacity)
}

// Enqueue pushes an item, waiting for room, or returns if the context ends.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return crawler.ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue pushes an item without waiting. It reports false when the
// queue is full or closed.
func (q *Queue[T]) TryEnqueue(item T) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case item := <-q.ch:
		return item, nil
	default:
	}
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			return item, nil
		default:
			return zero, crawler.ErrQueueClosed
		}
	}
}

// Len returns the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Close stops new items from entering the queue. It is safe to call twice.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
