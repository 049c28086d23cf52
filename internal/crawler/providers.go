package crawler

import "time"

// ProxyProvider yields the candidate proxies ("host:port" or
// "socks5://host:port") each time a connection is built.
type ProxyProvider interface {
	Proxies() []string
}

// StaticProxies is a fixed proxy list.
type StaticProxies []string

// Proxies returns the list unchanged.
func (s StaticProxies) Proxies() []string {
	return s
}

// ProxyFunc resolves the proxy list on every call.
type ProxyFunc func() []string

// Proxies invokes the function.
func (f ProxyFunc) Proxies() []string {
	if f == nil {
		return nil
	}
	return f()
}

// DelayProvider yields the pause a worker takes after each job.
type DelayProvider interface {
	Delay() time.Duration
}

// FixedDelay always waits the same amount.
type FixedDelay time.Duration

// Delay returns the fixed duration.
func (d FixedDelay) Delay() time.Duration {
	return time.Duration(d)
}

// DelayFunc computes the delay fresh on every call.
type DelayFunc func() time.Duration

// Delay invokes the function.
func (f DelayFunc) Delay() time.Duration {
	if f == nil {
		return 0
	}
	return f()
}
