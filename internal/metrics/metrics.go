// Package metrics exposes Prometheus collectors for the fetcher service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetcherPagesTotal              *prometheus.CounterVec
	fetcherBytesTotal              *prometheus.CounterVec
	fetcherExchangeAttemptsTotal   *prometheus.CounterVec
	fetcherExchangeDurationSeconds prometheus.Histogram
	connpoolBuildsTotal            *prometheus.CounterVec
	connpoolBuildFailuresTotal     prometheus.Counter
	connpoolClearsTotal            prometheus.Counter
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	workerActive                   prometheus.Gauge
	workerDelaySeconds             prometheus.Histogram
	rateLimitDelaySeconds          *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetcherPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetcher_pages_total",
				Help: "Total number of page records emitted, labeled by site and kind.",
			},
			[]string{"site", "kind"},
		)

		fetcherBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetcher_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetcherExchangeAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetcher_exchange_attempts_total",
				Help: "HTTP exchange attempts, labeled by outcome class.",
			},
			[]string{"class"},
		)

		fetcherExchangeDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fetcher_exchange_duration_seconds",
				Help:    "Histogram of successful request/response round trips.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		connpoolBuildsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connpool_builds_total",
				Help: "Connection handles built, labeled by reason (new, refresh).",
			},
			[]string{"reason"},
		)

		connpoolBuildFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "connpool_build_failures_total",
				Help: "Connection build attempts that failed to dial.",
			},
		)

		connpoolClearsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "connpool_clears_total",
				Help: "Whole-pool invalidations triggered by the staleness window.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		workerActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "worker_active",
				Help: "Number of workers currently running their loop.",
			},
		)

		workerDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "worker_delay_seconds",
				Help:    "Histogram of inter-request delays applied by workers.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ratelimit_delay_seconds",
				Help:    "Time spent waiting for a per-host token, labeled by site.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one emitted page record. kind is ok, redirect or error.
func ObservePage(site, kind string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetcherPagesTotal.WithLabelValues(sanitizedSite, kind).Inc()
	if bytesFetched > 0 {
		fetcherBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveExchange records one exchange attempt. class is "ok" on success.
func ObserveExchange(class string, duration time.Duration) {
	Init()
	fetcherExchangeAttemptsTotal.WithLabelValues(class).Inc()
	if class == "ok" {
		fetcherExchangeDurationSeconds.Observe(duration.Seconds())
	}
}

// ObservePoolBuild counts a built connection handle.
func ObservePoolBuild(reason string) {
	Init()
	connpoolBuildsTotal.WithLabelValues(reason).Inc()
}

// ObservePoolBuildFailure counts a failed dial while building a handle.
func ObservePoolBuildFailure() {
	Init()
	connpoolBuildFailuresTotal.Inc()
}

// ObservePoolClear counts a staleness-driven pool wipe.
func ObservePoolClear() {
	Init()
	connpoolClearsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	workerActive.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	workerActive.Dec()
}

// ObserveWorkerDelay records an inter-request pause.
func ObserveWorkerDelay(duration time.Duration) {
	Init()
	workerDelaySeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting on a host's token bucket.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
