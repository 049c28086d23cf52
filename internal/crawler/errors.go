package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNilResponse is returned when the transport yields no response and no error.
	ErrNilResponse = errors.New("response is nil")
	// ErrBadStatus marks a response whose status code is outside 2xx.
	ErrBadStatus = errors.New("bad status code")
	// ErrRetriesExhausted wraps the last failure once the retry cap is hit.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrConnect marks a connection that could not be built.
	ErrConnect = errors.New("connection failed")
	// ErrQueueClosed is returned by queues after Close.
	ErrQueueClosed = errors.New("queue closed")
	// ErrInvalidURL marks a URL that cannot be fetched.
	ErrInvalidURL = errors.New("invalid url")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status code (%d) for %s", e.Code, e.URL)
}

// Unwrap lets errors.Is match ErrBadStatus.
func (e *StatusError) Unwrap() error {
	return ErrBadStatus
}
