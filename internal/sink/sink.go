// Package sink consumes page records from the output buffer.
package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

// Sink stores or forwards one page record.
type Sink interface {
	Write(ctx context.Context, page crawler.Page) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, page crawler.Page) error

// Write calls f.
func (f Func) Write(ctx context.Context, page crawler.Page) error {
	return f(ctx, page)
}

// Source is the consumer side of the page buffer.
type Source interface {
	Pop(ctx context.Context) (crawler.Page, error)
}

// Record is the flattened form of a page shared by the JSON and SQL sinks.
type Record struct {
	FetchID        string      `json:"fetch_id"`
	URL            string      `json:"url"`
	StatusCode     int         `json:"status,omitempty"`
	RedirectTo     string      `json:"redirect_to,omitempty"`
	Referer        string      `json:"referer,omitempty"`
	Depth          int         `json:"depth"`
	ResponseTimeMs int64       `json:"response_time_ms,omitempty"`
	Headers        http.Header `json:"headers,omitempty"`
	BodyBytes      int         `json:"body_bytes"`
	ContentHash    string      `json:"content_hash,omitempty"`
	Body           string      `json:"body,omitempty"`
	Error          string      `json:"error,omitempty"`
	FetchedAt      *time.Time  `json:"fetched_at,omitempty"`
}

// NewRecord flattens page. hasher may be nil, in which case no content
// hash is computed. Failed records never carry a hash.
func NewRecord(page crawler.Page, hasher crawler.Hasher) (Record, error) {
	rec := Record{
		FetchID:        page.FetchID,
		URL:            page.URL,
		StatusCode:     page.StatusCode,
		RedirectTo:     page.RedirectTo,
		Referer:        page.Referer,
		Depth:          page.Depth,
		ResponseTimeMs: page.ResponseTimeMs(),
		Headers:        page.Headers,
		BodyBytes:      len(page.Body),
		Error:          page.ErrorText(),
	}
	if !page.FetchedAt.IsZero() {
		at := page.FetchedAt
		rec.FetchedAt = &at
	}
	if hasher != nil && page.Fetched() {
		sum, err := hasher.Hash(page.Body)
		if err != nil {
			return Record{}, fmt.Errorf("hash body of %s: %w", page.URL, err)
		}
		rec.ContentHash = sum
	}
	return rec, nil
}

// Multi writes every page to each sink in order and joins their errors.
type Multi []Sink

// Write fans page out.
func (m Multi) Write(ctx context.Context, page crawler.Page) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, page); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Drain pulls pages from src into s until src is closed and empty or ctx
// ends. Write failures are logged and do not stop the loop. It returns the
// number of pages written without error.
func Drain(ctx context.Context, src Source, s Sink, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	written := 0
	for {
		page, err := src.Pop(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) {
				return written, nil
			}
			return written, fmt.Errorf("drain: %w", err)
		}
		if err := s.Write(ctx, page); err != nil {
			logger.Error("sink write failed", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		written++
	}
}
