package connpool

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/proxy"
)

// Handle is an established transport bound to one host and port.
type Handle struct {
	key         Key
	proxy       string
	builtAt     time.Time
	readTimeout time.Duration
	client      *http.Client
	transport   *http.Transport

	mu         sync.Mutex
	primed     net.Conn
	primedAddr string
}

// Do sends the request without following redirects. With a read timeout,
// the returned body fails once no data has arrived for that long.
func (h *Handle) Do(req *http.Request) (*http.Response, error) {
	if h.readTimeout <= 0 {
		return h.client.Do(req)
	}
	ctx, cancel := context.WithCancel(req.Context())
	resp, err := h.client.Do(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	body := &timedBody{ReadCloser: resp.Body, timeout: h.readTimeout, cancel: cancel}
	body.timer = time.AfterFunc(h.readTimeout, body.expire)
	resp.Body = body
	return resp, nil
}

// Key returns the pool key the handle serves.
func (h *Handle) Key() Key {
	return h.key
}

// Proxy returns the proxy chosen when the handle was built, or "".
func (h *Handle) Proxy() string {
	return h.proxy
}

// BuiltAt returns the time the handle was built.
func (h *Handle) BuiltAt() time.Time {
	return h.builtAt
}

// Close drops the handle's idle connections.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.primed != nil {
		_ = h.primed.Close()
		h.primed = nil
	}
	h.mu.Unlock()
	if h.transport != nil {
		h.transport.CloseIdleConnections()
	}
}

// open dials the target (or its proxy) eagerly so that an unreachable host
// fails the build, then hands that connection to the transport's first dial.
func (p *Pool) open(ctx context.Context, u *url.URL, key Key, proxyAddr string) (*Handle, error) {
	spec, err := parseProxy(proxyAddr)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		ForceAttemptHTTP2:     false,
		MaxConnsPerHost:       1,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       p.cfg.StaleAfter,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: p.cfg.ReadTimeout,
		// Certificates are never verified: the crawler fetches whatever the
		// host serves, including self-signed and expired chains.
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // trust-all is the documented policy
			ServerName:         u.Hostname(),
		},
	}

	dialer := p.dialer
	target := key.Addr()
	switch {
	case spec == nil:
	case spec.socks:
		socks, err := proxy.SOCKS5("tcp", spec.addr, nil, forwardDialer{d: p.dialer})
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", spec.addr, err)
		}
		cd, ok := socks.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks proxy %s: dialer has no context support", spec.addr)
		}
		dialer = cd
	default:
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: spec.addr})
		target = spec.addr
	}

	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	h := &Handle{
		key:         key,
		proxy:       proxyAddr,
		builtAt:     p.clock.Now(),
		readTimeout: p.cfg.ReadTimeout,
		transport:   transport,
		primed:      conn,
		primedAddr:  target,
	}
	transport.DialContext = h.dialFunc(dialer)
	h.client = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return h, nil
}

func (h *Handle) dialFunc(d Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if conn := h.takePrimed(addr); conn != nil {
			return conn, nil
		}
		return d.DialContext(ctx, network, addr)
	}
}

// takePrimed hands over the connection dialed during the build. Host names
// compare case-insensitively.
func (h *Handle) takePrimed(addr string) net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.primed == nil || !strings.EqualFold(h.primedAddr, addr) {
		return nil
	}
	conn := h.primed
	h.primed = nil
	return conn
}

// ReadTimeoutError reports a response body that stalled past the read timeout.
type ReadTimeoutError struct {
	After time.Duration
}

func (e *ReadTimeoutError) Error() string {
	return fmt.Sprintf("read timeout: no data for %s", e.After)
}

// Timeout lets callers treat the error as a net.Error timeout.
func (e *ReadTimeoutError) Timeout() bool { return true }

// Temporary is part of net.Error.
func (e *ReadTimeoutError) Temporary() bool { return true }

// timedBody cancels its request once no data has been read for timeout.
// The timer only runs while the body is open, so the connection carries no
// deadline once it is back in the idle pool.
type timedBody struct {
	io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool
}

func (b *timedBody) expire() {
	b.expired.Store(true)
	b.cancel()
}

func (b *timedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && b.expired.Load() {
		return n, &ReadTimeoutError{After: b.timeout}
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *timedBody) Close() error {
	b.timer.Stop()
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// forwardDialer adapts a Dialer to the proxy package's interfaces.
type forwardDialer struct {
	d Dialer
}

func (f forwardDialer) Dial(network, addr string) (net.Conn, error) {
	return f.d.DialContext(context.Background(), network, addr)
}

func (f forwardDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f.d.DialContext(ctx, network, addr)
}
