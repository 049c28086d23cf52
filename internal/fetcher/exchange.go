package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/metrics"
)

type response struct {
	status  int
	header  http.Header
	body    []byte
	elapsed time.Duration
}

// exchange performs one GET with bounded, immediate retries. A failed
// attempt replaces the pooled connection for the host before the next try.
// intercept runs before the 2xx check; responses it accepts are returned
// as they are.
func (f *Fetcher) exchange(
	ctx context.Context,
	u *url.URL,
	referer string,
	intercept func(*response) bool,
) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("fetch %s: %w (last error: %v)", u, err, lastErr)
			}
			return nil, fmt.Errorf("fetch %s: %w", u, err)
		}

		res, err := f.attempt(ctx, u, referer)
		if err == nil {
			if intercept != nil && intercept(res) {
				metrics.ObserveExchange(ClassOK, res.elapsed)
				return res, nil
			}
			if res.status >= 200 && res.status <= 299 {
				metrics.ObserveExchange(ClassOK, res.elapsed)
				return res, nil
			}
			err = &crawler.StatusError{URL: u.String(), Code: res.status}
		}

		class := Classify(err)
		metrics.ObserveExchange(class, 0)
		if class == ClassCanceled {
			return nil, err
		}
		lastErr = err
		f.logger.Debug("exchange failed",
			zap.String("url", u.String()),
			zap.Int("attempt", attempt),
			zap.String("class", class),
			zap.Error(err),
		)

		if attempt == f.cfg.MaxRetries || errors.Is(err, crawler.ErrConnect) {
			// Nothing pooled to replace; the next Acquire builds afresh.
			continue
		}
		if _, rerr := f.pool.Refresh(ctx, u); rerr != nil {
			f.logger.Debug("connection refresh failed", zap.String("url", u.String()), zap.Error(rerr))
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", crawler.ErrRetriesExhausted, u, f.cfg.MaxRetries+1, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, u *url.URL, referer string) (*response, error) {
	target := *u
	target.User = nil
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrInvalidURL, err)
	}
	f.decorate(req, u, referer)

	handle, err := f.pool.Acquire(ctx, u)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := handle.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", &target, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("get %s: %w", &target, crawler.ErrNilResponse)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", &target, err)
	}
	elapsed := time.Since(start)

	if f.cfg.AcceptCookies {
		f.jar.Merge(resp.Header.Values("Set-Cookie"))
	}
	return &response{
		status:  resp.StatusCode,
		header:  resp.Header.Clone(),
		body:    body,
		elapsed: elapsed,
	}, nil
}

func (f *Fetcher) decorate(req *http.Request, u *url.URL, referer string) {
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if f.sendCookies() {
		req.Header.Set("Cookie", f.jar.String())
	}
	if u.User != nil {
		password, _ := u.User.Password()
		req.SetBasicAuth(u.User.Username(), password)
	}
}

// sendCookies reports whether the jar goes out with requests: it must hold
// something, and either acceptance is on or cookies were seeded.
func (f *Fetcher) sendCookies() bool {
	if f.jar.Empty() {
		return false
	}
	return f.cfg.AcceptCookies || f.cfg.Cookies != nil
}
