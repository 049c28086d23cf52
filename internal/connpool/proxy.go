package connpool

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

type proxySpec struct {
	addr  string
	socks bool
}

// ValidateProxy checks that raw is "host:port", "http://host:port" or
// "socks5://host:port".
func ValidateProxy(raw string) error {
	_, err := parseProxy(raw)
	return err
}

func parseProxy(raw string) (*proxySpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	spec := &proxySpec{addr: raw}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http":
		case "socks5", "socks5h":
			spec.socks = true
		default:
			return nil, fmt.Errorf("invalid proxy %q: unsupported scheme %q", raw, u.Scheme)
		}
		spec.addr = u.Host
	}
	if _, _, err := net.SplitHostPort(spec.addr); err != nil {
		return nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	return spec, nil
}
