package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if fetcherPagesTotal == nil || fetcherBytesTotal == nil ||
		connpoolBuildsTotal == nil || workerActive == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	before := testutil.ToFloat64(fetcherPagesTotalFor("metrics-test.example", "ok"))
	ObservePage("https://metrics-test.example/a", "ok", 12)
	after := testutil.ToFloat64(fetcherPagesTotalFor("metrics-test.example", "ok"))
	if after-before != 1 {
		t.Errorf("expected page counter to grow by 1, got %f", after-before)
	}
	if got := testutil.ToFloat64(fetcherBytesTotal.WithLabelValues("metrics-test.example")); got < 12 {
		t.Errorf("expected at least 12 bytes recorded, got %f", got)
	}

	buildsBefore := testutil.ToFloat64(connpoolBuildsTotal.WithLabelValues("refresh"))
	ObservePoolBuild("refresh")
	if got := testutil.ToFloat64(connpoolBuildsTotal.WithLabelValues("refresh")); got-buildsBefore != 1 {
		t.Errorf("expected refresh builds to grow by 1, got %f", got-buildsBefore)
	}

	ObserveExchange("ok", 10*time.Millisecond)
	ObserveExchange("timeout", 0)
	if got := testutil.ToFloat64(fetcherExchangeAttemptsTotal.WithLabelValues("timeout")); got < 1 {
		t.Errorf("expected timeout attempts recorded, got %f", got)
	}

	ObserveRateLimitDelay("slow.example", 50*time.Millisecond)
	if n := testutil.CollectAndCount(rateLimitDelaySeconds); n < 1 {
		t.Errorf("expected a rate limit series, got %d", n)
	}
}

func fetcherPagesTotalFor(site, kind string) prometheus.Counter {
	Init()
	return fetcherPagesTotal.WithLabelValues(site, kind)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
