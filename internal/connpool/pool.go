// Package connpool keeps one reusable transport handle per (host, port).
//
// The whole pool is dropped once the staleness window has elapsed since the
// last wipe, which bounds the age of every pooled connection no matter how
// the traffic is spread across hosts. A single handle can also be replaced
// on demand after a failed exchange.
package connpool

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchcore/internal/clock/system"
	"github.com/JakeFAU/fetchcore/internal/crawler"
	"github.com/JakeFAU/fetchcore/internal/metrics"
)

const (
	// DefaultStaleAfter is the pool-wide staleness window.
	DefaultStaleAfter = 15 * time.Second
	// DefaultBuildRetries is how many extra dials a build makes before giving up.
	DefaultBuildRetries = 5
)

// Dialer opens raw network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config controls how handles are built and expired.
type Config struct {
	Proxies crawler.ProxyProvider
	// ReadTimeout bounds the wait for response headers and each stall while
	// reading a body. Idle pooled connections are not affected.
	ReadTimeout time.Duration
	StaleAfter  time.Duration
	// BuildRetries is the number of extra dials per build. Zero means
	// DefaultBuildRetries; a negative value means a single dial.
	BuildRetries int
}

// Key identifies a pooled handle.
type Key struct {
	Host string
	Port string
}

// KeyFor derives the pool key of a URL, filling in the scheme's default port.
func KeyFor(u *url.URL) Key {
	port := u.Port()
	if port == "" {
		port = "80"
		if strings.EqualFold(u.Scheme, "https") {
			port = "443"
		}
	}
	return Key{Host: strings.ToLower(u.Hostname()), Port: port}
}

// Addr returns the key as a dialable host:port.
func (k Key) Addr() string {
	return net.JoinHostPort(k.Host, k.Port)
}

// Option customizes a Pool.
type Option func(*Pool)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) Option {
	return func(p *Pool) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithClock replaces the clock used for the staleness window.
func WithClock(c crawler.Clock) Option {
	return func(p *Pool) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithLogger sets the logger used for build diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// Pool owns the handles of a single fetcher. It is not safe for concurrent use.
type Pool struct {
	cfg       Config
	dialer    Dialer
	clock     crawler.Clock
	logger    *zap.Logger
	handles   map[Key]*Handle
	clearedAt time.Time
}

// New creates an empty Pool.
func New(cfg Config, opts ...Option) *Pool {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	switch {
	case cfg.BuildRetries == 0:
		cfg.BuildRetries = DefaultBuildRetries
	case cfg.BuildRetries < 0:
		cfg.BuildRetries = 0
	}
	p := &Pool{
		cfg: cfg,
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		clock:   system.New(),
		logger:  zap.NewNop(),
		handles: make(map[Key]*Handle),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the live handle for the URL's host and port, building one
// if none exists. The staleness check runs first and may wipe every handle.
func (p *Pool) Acquire(ctx context.Context, u *url.URL) (*Handle, error) {
	p.expireStale()
	if h, ok := p.handles[KeyFor(u)]; ok {
		return h, nil
	}
	return p.build(ctx, u, "new")
}

// Refresh unconditionally replaces the handle for the URL's host and port.
// The staleness window is not consulted.
func (p *Pool) Refresh(ctx context.Context, u *url.URL) (*Handle, error) {
	key := KeyFor(u)
	if old, ok := p.handles[key]; ok {
		old.Close()
		delete(p.handles, key)
	}
	return p.build(ctx, u, "refresh")
}

// Len reports the number of live handles.
func (p *Pool) Len() int {
	return len(p.handles)
}

// Close releases every handle.
func (p *Pool) Close() {
	for key, h := range p.handles {
		h.Close()
		delete(p.handles, key)
	}
}

func (p *Pool) expireStale() {
	now := p.clock.Now()
	if !p.clearedAt.IsZero() && now.Sub(p.clearedAt) <= p.cfg.StaleAfter {
		return
	}
	if len(p.handles) > 0 {
		p.logger.Debug("clearing connections", zap.Int("handles", len(p.handles)))
		metrics.ObservePoolClear()
	}
	p.Close()
	p.clearedAt = now
}

func (p *Pool) build(ctx context.Context, u *url.URL, reason string) (*Handle, error) {
	key := KeyFor(u)
	var lastErr error
	for attempt := 0; attempt <= p.cfg.BuildRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("build connection to %s: %w", key.Addr(), err)
		}
		proxyAddr := p.pickProxy()
		h, err := p.open(ctx, u, key, proxyAddr)
		if err == nil {
			p.handles[key] = h
			metrics.ObservePoolBuild(reason)
			return h, nil
		}
		lastErr = err
		metrics.ObservePoolBuildFailure()
		p.logger.Debug("connection build failed",
			zap.String("addr", key.Addr()),
			zap.String("proxy", proxyAddr),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", crawler.ErrConnect, key.Addr(), p.cfg.BuildRetries+1, lastErr)
}

func (p *Pool) pickProxy() string {
	if p.cfg.Proxies == nil {
		return ""
	}
	proxies := p.cfg.Proxies.Proxies()
	if len(proxies) == 0 {
		return ""
	}
	choice := proxies[rand.IntN(len(proxies))]
	p.logger.Debug("proxy selected", zap.String("proxy", choice))
	return choice
}
