package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/queue/memory"
)

func TestWorker_PushesEveryRecordInOrder(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(4)
	out := memory.NewPageBuffer()
	fetcher := &fakeFetcher{chains: map[string][]crawler.Page{
		"http://a.test/a": {
			{URL: "http://a.test/a", RedirectTo: "http://a.test/b"},
			{URL: "http://a.test/b", StatusCode: 200},
		},
		"http://a.test/c": {{URL: "http://a.test/c", StatusCode: 200}},
	}}

	ctx := context.Background()
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://a.test/a", Depth: 1}))
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://a.test/c", Referer: "http://a.test/a"}))
	require.NoError(t, in.Enqueue(ctx, crawler.EndJob))

	runWithTimeout(t, New(1, in, out, fetcher, Config{}, zap.NewNop()))

	got := out.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, "http://a.test/a", got[0].URL)
	assert.Equal(t, "http://a.test/b", got[1].URL)
	assert.Equal(t, "http://a.test/c", got[2].URL)

	calls := fetcher.recorded()
	require.Len(t, calls, 2)
	assert.Equal(t, crawler.Job{URL: "http://a.test/a", Depth: 1}, calls[0])
	assert.Equal(t, crawler.Job{URL: "http://a.test/c", Referer: "http://a.test/a"}, calls[1])
}

func TestWorker_StopsAtSentinelWithoutConsumingMore(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(4)
	out := memory.NewPageBuffer()
	fetcher := &fakeFetcher{}

	ctx := context.Background()
	require.NoError(t, in.Enqueue(ctx, crawler.EndJob))
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://after.test/"}))

	runWithTimeout(t, New(1, in, out, fetcher, Config{}, nil))

	assert.Zero(t, out.Len())
	assert.Empty(t, fetcher.recorded())
	assert.Equal(t, 1, in.Len())
}

func TestWorker_ContinuesAfterFailedFetch(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(4)
	out := memory.NewPageBuffer()
	failure := errors.New("boom")
	fetcher := &fakeFetcher{chains: map[string][]crawler.Page{
		"http://bad.test/":  {{URL: "http://bad.test/", Err: failure}},
		"http://good.test/": {{URL: "http://good.test/", StatusCode: 200}},
	}}

	ctx := context.Background()
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://bad.test/"}))
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://good.test/"}))
	require.NoError(t, in.Enqueue(ctx, crawler.EndJob))

	runWithTimeout(t, New(1, in, out, fetcher, Config{}, zap.NewNop()))

	got := out.Drain()
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0].Err, failure)
	assert.Equal(t, 200, got[1].StatusCode)
}

func TestWorker_DelayProviderCalledPerJob(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(4)
	out := memory.NewPageBuffer()
	var calls atomic.Int32
	delay := crawler.DelayFunc(func() time.Duration {
		calls.Add(1)
		return 5 * time.Millisecond
	})

	ctx := context.Background()
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://a.test/1"}))
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://a.test/2"}))
	require.NoError(t, in.Enqueue(ctx, crawler.EndJob))

	start := time.Now()
	runWithTimeout(t, New(1, in, out, &fakeFetcher{}, Config{Delay: delay}, zap.NewNop()))

	assert.Equal(t, int32(2), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWorker_NonPositiveDelaySkipped(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(2)
	ctx := context.Background()
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://a.test/"}))
	require.NoError(t, in.Enqueue(ctx, crawler.EndJob))

	w := New(1, in, memory.NewPageBuffer(), &fakeFetcher{}, Config{Delay: crawler.FixedDelay(-time.Hour)}, nil)
	runWithTimeout(t, w)
}

func TestWorker_ReturnsWhenContextEndsDuringDelay(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(2)
	require.NoError(t, in.Enqueue(context.Background(), crawler.Job{URL: "http://a.test/"}))

	ctx, cancel := context.WithCancel(context.Background())
	w := New(1, in, memory.NewPageBuffer(), &fakeFetcher{}, Config{Delay: crawler.FixedDelay(time.Hour)}, nil)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_ReturnsWhenQueueClosed(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(1)
	in.Close()
	runWithTimeout(t, New(1, in, memory.NewPageBuffer(), &fakeFetcher{}, Config{}, nil))
}

func runWithTimeout(t *testing.T, w *Worker) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type fakeFetcher struct {
	mu     sync.Mutex
	chains map[string][]crawler.Page
	calls  []crawler.Job
}

func (f *fakeFetcher) FetchPages(_ context.Context, rawURL, referer string, depth int) []crawler.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, crawler.Job{URL: rawURL, Referer: referer, Depth: depth})
	if chain, ok := f.chains[rawURL]; ok {
		return chain
	}
	return []crawler.Page{{URL: rawURL, StatusCode: 200}}
}

func (f *fakeFetcher) recorded() []crawler.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawler.Job(nil), f.calls...)
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, rawURL)
	return l.err
}

func TestWorker_WaitsOnLimiterBeforeFetch(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(4)
	ctx := context.Background()
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://a.test/1"}))
	require.NoError(t, in.Enqueue(ctx, crawler.Job{URL: "http://b.test/2"}))
	require.NoError(t, in.Enqueue(ctx, crawler.EndJob))

	limiter := &recordingLimiter{}
	runWithTimeout(t, New(1, in, memory.NewPageBuffer(), &fakeFetcher{}, Config{Limiter: limiter}, nil))

	assert.Equal(t, []string{"http://a.test/1", "http://b.test/2"}, limiter.urls)
}

func TestWorker_StopsWhenLimiterFails(t *testing.T) {
	t.Parallel()

	in := memory.NewJobQueue(2)
	require.NoError(t, in.Enqueue(context.Background(), crawler.Job{URL: "http://a.test/"}))

	out := memory.NewPageBuffer()
	limiter := &recordingLimiter{err: context.Canceled}
	runWithTimeout(t, New(1, in, out, &fakeFetcher{}, Config{Limiter: limiter}, nil))

	assert.Zero(t, out.Len())
}
