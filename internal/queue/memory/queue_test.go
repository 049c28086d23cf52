package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(1)
	result := make(chan crawler.Job, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	require.NoError(t, q.Enqueue(context.Background(), crawler.Job{URL: "http://a.test/"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		assert.Equal(t, "http://a.test/", got.URL)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueKeepsOrderAndSentinel(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(3)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, crawler.Job{URL: "1"}))
	require.NoError(t, q.Enqueue(ctx, crawler.Job{URL: "2"}))
	require.NoError(t, q.Enqueue(ctx, crawler.EndJob))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	end, err := q.Dequeue(ctx)
	require.NoError(t, err)

	assert.Equal(t, "1", first.URL)
	assert.Equal(t, "2", second.URL)
	assert.True(t, end.IsEnd())
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewJobQueue(1).Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	full := NewJobQueue(1)
	require.NoError(t, full.Enqueue(context.Background(), crawler.Job{URL: "primed"}))
	err = full.Enqueue(ctx, crawler.Job{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueTryEnqueue(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(1)
	assert.True(t, q.TryEnqueue(crawler.Job{URL: "a"}))
	assert.False(t, q.TryEnqueue(crawler.Job{URL: "b"}))
	assert.Equal(t, 1, q.Len())
}

func TestQueueCloseDrainsThenErrors(t *testing.T) {
	t.Parallel()

	q := NewJobQueue(2)
	require.NoError(t, q.Enqueue(context.Background(), crawler.Job{URL: "left"}))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Enqueue(context.Background(), crawler.Job{}), crawler.ErrQueueClosed)
	assert.False(t, q.TryEnqueue(crawler.Job{}))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "left", got.URL)

	_, err = q.Dequeue(context.Background())
	assert.ErrorIs(t, err, crawler.ErrQueueClosed)
}

func TestBufferPushNeverBlocks(t *testing.T) {
	t.Parallel()

	b := NewPageBuffer()
	for i := range 1000 {
		b.Push(crawler.Page{Depth: i})
	}
	assert.Equal(t, 1000, b.Len())

	first, err := b.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.Depth)
	assert.Len(t, b.Drain(), 999)
	assert.Zero(t, b.Len())
}

func TestBufferPopWaitsForPush(t *testing.T) {
	t.Parallel()

	b := NewBuffer[int]()
	got := make(chan int, 1)
	go func() {
		v, err := b.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.Push(42)
	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("pop did not return pushed value")
	}
}

func TestBufferCloseWakesAllWaiters(t *testing.T) {
	t.Parallel()

	b := NewBuffer[int]()
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(10 * time.Millisecond)
	b.Close()
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.ErrorIs(t, err, crawler.ErrQueueClosed)
	}

	b.Push(1)
	assert.Zero(t, b.Len())
}

func TestBufferPopCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewBuffer[int]().Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
