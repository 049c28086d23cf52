// Package fetcher turns a URL into the chain of page records produced by
// fetching it: one record per redirect hop followed by the final page, or a
// single record carrying the error that ended the fetch.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/clock/system"
	"github.com/JakeFAU/fetchcore/internal/connpool"
	"github.com/JakeFAU/fetchcore/internal/cookie"
	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/id/uuid"
	"github.com/JakeFAU/fetchcore/internal/metrics"
)

const (
	// DefaultRedirectLimit is how many redirects a fetch follows.
	DefaultRedirectLimit = 5
	// DefaultMaxRetries is how many extra attempts an exchange gets.
	DefaultMaxRetries = 5
)

// Config controls fetch behavior. Zero values fall back to defaults.
type Config struct {
	RedirectLimit int
	MaxRetries    int
	UserAgent     string
	AcceptCookies bool
	// Cookies seeds the jar. A non-nil map also turns on the Cookie header
	// when AcceptCookies is false.
	Cookies     map[string]string
	Proxies     crawler.ProxyProvider
	ReadTimeout time.Duration
	StaleAfter  time.Duration
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithClock sets the clock used for timestamps and the pool staleness window.
func WithClock(c crawler.Clock) Option {
	return func(f *Fetcher) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithIDGenerator sets the generator for fetch chain IDs.
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(f *Fetcher) {
		if g != nil {
			f.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithPoolOptions passes extra options to the connection pool.
func WithPoolOptions(opts ...connpool.Option) Option {
	return func(f *Fetcher) {
		f.poolOpts = append(f.poolOpts, opts...)
	}
}

// Fetcher owns a connection pool and cookie jar. Each worker gets its own;
// a Fetcher is not safe for concurrent use.
type Fetcher struct {
	cfg      Config
	pool     *connpool.Pool
	jar      *cookie.Jar
	clock    crawler.Clock
	ids      crawler.IDGenerator
	logger   *zap.Logger
	poolOpts []connpool.Option
}

// New builds a Fetcher with a fresh pool and jar.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.RedirectLimit <= 0 {
		cfg.RedirectLimit = DefaultRedirectLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	f := &Fetcher{
		cfg:    cfg,
		jar:    cookie.NewJar(cfg.Cookies),
		clock:  system.New(),
		ids:    uuid.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("fetcher")
	poolOpts := append([]connpool.Option{
		connpool.WithClock(f.clock),
		connpool.WithLogger(f.logger.Named("connpool")),
	}, f.poolOpts...)
	f.pool = connpool.New(connpool.Config{
		Proxies:      cfg.Proxies,
		ReadTimeout:  cfg.ReadTimeout,
		StaleAfter:   cfg.StaleAfter,
		BuildRetries: connpool.DefaultBuildRetries,
	}, poolOpts...)
	return f
}

// Jar exposes the fetcher's cookie jar.
func (f *Fetcher) Jar() *cookie.Jar {
	return f.jar
}

// Close drops every pooled connection.
func (f *Fetcher) Close() {
	f.pool.Close()
}

// FetchPage returns only the final record of the chain.
func (f *Fetcher) FetchPage(ctx context.Context, rawURL, referer string, depth int) crawler.Page {
	pages := f.FetchPages(ctx, rawURL, referer, depth)
	return pages[len(pages)-1]
}

// FetchPages fetches rawURL, following same-host redirects, and returns
// every record produced in traversal order. It never fails: any error
// collapses the result into one record with Err set.
func (f *Fetcher) FetchPages(ctx context.Context, rawURL, referer string, depth int) []crawler.Page {
	fetchID := f.newFetchID()
	pages, err := f.follow(ctx, rawURL, referer, depth, fetchID)
	if err != nil {
		f.logger.Warn("fetch failed",
			zap.String("url", rawURL),
			zap.String("class", Classify(err)),
			zap.Error(err),
		)
		metrics.ObservePage(rawURL, "error", 0)
		return []crawler.Page{{FetchID: fetchID, URL: rawURL, Err: err}}
	}
	return pages
}

func (f *Fetcher) follow(
	ctx context.Context,
	rawURL string,
	referer string,
	depth int,
	fetchID string,
) ([]crawler.Page, error) {
	origin, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	var pages []crawler.Page
	loc := origin
	followed := 0
	for {
		res, err := f.exchange(ctx, loc, referer, isRedirect)
		if err != nil {
			return nil, err
		}
		next, err := redirectTarget(res, origin)
		if err != nil {
			return nil, err
		}

		page := crawler.Page{
			FetchID:      fetchID,
			URL:          loc.String(),
			Body:         res.body,
			StatusCode:   res.status,
			Headers:      res.header,
			Referer:      referer,
			Depth:        depth,
			ResponseTime: res.elapsed,
			FetchedAt:    f.clock.Now(),
		}
		kind := "ok"
		if next != nil {
			page.RedirectTo = next.String()
			kind = "redirect"
		}
		pages = append(pages, page)
		metrics.ObservePage(page.URL, kind, len(page.Body))

		if next == nil {
			break
		}
		if !allowed(next, origin) {
			f.logger.Debug("redirect to another host refused",
				zap.String("from", loc.String()),
				zap.String("to", next.String()),
			)
			break
		}
		if followed >= f.cfg.RedirectLimit {
			f.logger.Debug("redirect limit reached",
				zap.String("url", origin.String()),
				zap.Int("limit", f.cfg.RedirectLimit),
			)
			break
		}
		followed++
		loc = next
	}
	return pages, nil
}

func (f *Fetcher) newFetchID() string {
	id, err := f.ids.NewID()
	if err != nil {
		f.logger.Debug("fetch id generation failed", zap.Error(err))
		return ""
	}
	return id
}

// ValidateURL reports whether rawURL is an absolute http(s) URL the
// fetcher would attempt.
func ValidateURL(rawURL string) error {
	_, err := parseTarget(rawURL)
	return err
}

func parseTarget(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q in %s", crawler.ErrInvalidURL, u.Scheme, rawURL)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host in %s", crawler.ErrInvalidURL, rawURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// isRedirect lets 3xx responses with a Location through before the
// exchange applies its 2xx check.
func isRedirect(res *response) bool {
	return res.status >= 300 && res.status < 400 && res.header.Get("Location") != ""
}

// redirectTarget resolves the Location of a redirect against the original
// request URL. It returns nil when the response is not a redirect.
func redirectTarget(res *response, origin *url.URL) (*url.URL, error) {
	if !isRedirect(res) {
		return nil, nil
	}
	ref, err := url.Parse(strings.TrimSpace(res.header.Get("Location")))
	if err != nil {
		return nil, fmt.Errorf("%w: bad redirect location: %w", crawler.ErrInvalidURL, err)
	}
	next := origin.ResolveReference(ref)
	next.Scheme = strings.ToLower(next.Scheme)
	next.Host = strings.ToLower(next.Host)
	next.Fragment = ""
	if next.Path == "" {
		next.Path = "/"
	}
	return next, nil
}

// allowed permits redirects that stay on the original host.
func allowed(to, from *url.URL) bool {
	return to.Hostname() == "" || strings.EqualFold(to.Hostname(), from.Hostname())
}
