// Package metrics exposes Prometheus collectors for the lead crawler.
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
	crawlCandidatesTotal       *prometheus.CounterVec
	crawlDetailAttemptsTotal   *prometheus.CounterVec
	crawlCaptchaTotal          prometheus.Counter
	storeUpsertsTotal          *prometheus.CounterVec
	crawlTasksTotal            *prometheus.CounterVec
	crawlActiveSessions        prometheus.Gauge
	crawlRateLimitDelaySeconds prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlCandidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_candidates_total",
				Help: "Total candidate listings processed, labeled by site.",
			},
			[]string{"site"},
		)

		crawlDetailAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_detail_attempts_total",
				Help: "Total detail-page visit attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlCaptchaTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_captcha_detections_total",
				Help: "Total pages classified as bot challenges.",
			},
		)

		storeUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_upserts_total",
				Help: "Total business upserts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_tasks_total",
				Help: "Total crawl tasks finished, labeled by status.",
			},
			[]string{"status"},
		)

		crawlActiveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_active_sessions",
				Help: "Number of crawl sessions currently running.",
			},
		)

		crawlRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_rate_limit_delay_seconds",
				Help:    "Histogram of pacing and backoff wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
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
	return promhttp.Handler()
}

// ObserveCandidate counts a processed candidate listing.
func ObserveCandidate(site string) {
	crawlCandidatesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveDetailAttempt counts one detail-page visit attempt by outcome.
func ObserveDetailAttempt(outcome string) {
	crawlDetailAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCaptcha counts a bot-challenge detection.
func ObserveCaptcha() {
	crawlCaptchaTotal.Inc()
}

// ObserveUpsert counts a store upsert by outcome.
func ObserveUpsert(outcome string) {
	storeUpsertsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTask counts a finished crawl task by terminal status.
func ObserveTask(status string) {
	crawlTasksTotal.WithLabelValues(status).Inc()
}

// IncActiveSessions increments the running-sessions gauge.
func IncActiveSessions() {
	crawlActiveSessions.Inc()
}

// DecActiveSessions decrements the running-sessions gauge.
func DecActiveSessions() {
	crawlActiveSessions.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing or backoff wait.
func ObserveRateLimitDelay(duration time.Duration) {
	crawlRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
