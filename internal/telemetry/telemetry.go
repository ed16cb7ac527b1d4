// Package telemetry exposes Prometheus collectors for the browser service.
package telemetry

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
	browserCapturesTotal          *prometheus.CounterVec
	browserCaptureDurationSeconds *prometheus.HistogramVec
	browserActiveSessions         prometheus.Gauge
	captureJobsTotal              *prometheus.CounterVec
	navRateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		browserCapturesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browser_captures_total",
				Help: "Total number of browser captures, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		browserCaptureDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browser_capture_duration_seconds",
				Help:    "Histogram of capture latencies, labeled by kind.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		browserActiveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "browser_active_sessions",
				Help: "Number of browser tabs currently executing a capture.",
			},
		)

		captureJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capture_jobs_total",
				Help: "Total number of capture jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		navRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browser_nav_rate_limit_delays_seconds",
				Help:    "Histogram of navigation rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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
	return promhttp.Handler()
}

// ObserveCapture records the outcome and latency of a single capture.
func ObserveCapture(kind string, outcome string, duration time.Duration) {
	browserCapturesTotal.WithLabelValues(kind, outcome).Inc()
	if duration > 0 {
		browserCaptureDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	captureJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveSessions increments the active sessions gauge.
func IncActiveSessions() {
	browserActiveSessions.Inc()
}

// DecActiveSessions decrements the active sessions gauge.
func DecActiveSessions() {
	browserActiveSessions.Dec()
}

// ObserveRateLimitDelay records the duration of a navigation rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	navRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
