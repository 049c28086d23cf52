// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// Job is a unit of work read from the input queue.
type Job struct {
	URL     string `json:"url"`
	Referer string `json:"referer,omitempty"`
	Depth   int    `json:"depth"`

	end bool
}

// EndJob is the sentinel that tells a worker to stop.
var EndJob = Job{end: true}

// IsEnd reports whether the job is the termination sentinel.
func (j Job) IsEnd() bool {
	return j.end
}

// Page is the record produced for one hop of a fetch.
//
// A successful record carries StatusCode, Headers and Body. A failed fetch
// produces exactly one record with Err set and none of the success fields.
type Page struct {
	FetchID      string
	URL          string
	Body         []byte
	StatusCode   int
	Headers      http.Header
	Referer      string
	Depth        int
	RedirectTo   string
	ResponseTime time.Duration
	FetchedAt    time.Time
	Err          error
}

// Fetched reports whether the record holds a response.
func (p Page) Fetched() bool {
	return p.Err == nil && p.StatusCode != 0
}

// IsRedirect reports whether the record is a hop that points somewhere else.
func (p Page) IsRedirect() bool {
	return p.RedirectTo != ""
}

// ResponseTimeMs returns the exchange duration in whole milliseconds.
func (p Page) ResponseTimeMs() int64 {
	return p.ResponseTime.Round(time.Millisecond).Milliseconds()
}

// ErrorText returns the failure message or an empty string.
func (p Page) ErrorText() string {
	if p.Err == nil {
		return ""
	}
	return p.Err.Error()
}
