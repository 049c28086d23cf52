package crawler

import (
	"context"
	"time"
)

// Fetcher turns a URL into the ordered chain of page records it produced.
type Fetcher interface {
	FetchPages(ctx context.Context, rawURL, referer string, depth int) []Page
}

// JobSource is the consumer side of the input queue. Dequeue blocks.
type JobSource interface {
	Dequeue(ctx context.Context) (Job, error)
}

// JobQueue is a JobSource that also accepts new jobs.
type JobQueue interface {
	JobSource
	Enqueue(ctx context.Context, job Job) error
}

// PageSink is the producer side of the output queue. Push never blocks.
type PageSink interface {
	Push(page Page)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces fetch chain IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
