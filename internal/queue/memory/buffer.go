package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

// Buffer is an unbounded FIFO. Push never blocks, which keeps workers from
// stalling on a slow consumer.
type Buffer[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewBuffer returns an empty buffer.
func NewBuffer[T any]() *Buffer[T] {
	return &Buffer[T]{notify: make(chan struct{}, 1), done: make(chan struct{})}
}

// NewPageBuffer is the buffer workers push page records into.
func NewPageBuffer() *Buffer[crawler.Page] {
	return NewBuffer[crawler.Page]()
}

// Push appends an item. Pushes after Close are dropped.
func (b *Buffer[T]) Push(item T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.items = append(b.items, item)
	b.mu.Unlock()
	b.signal()
}

// Pop removes the oldest item, waiting until one arrives. After Close it
// drains what is left and then returns crawler.ErrQueueClosed.
func (b *Buffer[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			item := b.items[0]
			b.items[0] = zero
			b.items = b.items[1:]
			b.mu.Unlock()
			return item, nil
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return zero, crawler.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("pop canceled: %w", ctx.Err())
		case <-b.notify:
		case <-b.done:
		}
	}
}

// Drain returns every buffered item without waiting.
func (b *Buffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Close wakes any waiting Pop. It is safe to call twice.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
}

func (b *Buffer[T]) signal() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}
