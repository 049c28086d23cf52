package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/fetchcore/internal/crawler"
)

// JSONLines writes one JSON object per page.
type JSONLines struct {
	mu          sync.Mutex
	enc         *json.Encoder
	hasher      crawler.Hasher
	includeBody bool
}

// NewJSONLines writes to w. Bodies are included as text when includeBody
// is set.
func NewJSONLines(w io.Writer, hasher crawler.Hasher, includeBody bool) *JSONLines {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLines{enc: enc, hasher: hasher, includeBody: includeBody}
}

// Write encodes page.
func (j *JSONLines) Write(_ context.Context, page crawler.Page) error {
	rec, err := NewRecord(page, j.hasher)
	if err != nil {
		return err
	}
	if j.includeBody {
		rec.Body = string(page.Body)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(rec); err != nil {
		return fmt.Errorf("encode %s: %w", page.URL, err)
	}
	return nil
}
