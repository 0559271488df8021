// Package telemetry unifies Prometheus metrics and OpenTelemetry tracing
// for the verifier service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	verifierRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_requests_total",
			Help: "Total verification requests, labeled by outcome (created, rate_limited, conflict).",
		},
		[]string{"outcome"},
	)

	verifierSubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_submissions_total",
			Help: "Total claim submissions, labeled by result (accepted, expired, invalid_url).",
		},
		[]string{"result"},
	)

	verifierReviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_reviews_total",
			Help: "Total admin review decisions, labeled by resulting status.",
		},
		[]string{"status"},
	)

	verifierCrawlAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_crawl_attempts_total",
			Help: "Total crawl fetch attempts, labeled by result (success, error).",
		},
		[]string{"result"},
	)

	verifierCrawlOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_crawl_outcomes_total",
			Help: "Terminal crawl outcomes, labeled by request status.",
		},
		[]string{"status"},
	)

	verifierCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verifier_cache_requests_total",
			Help: "Page cache lookups, labeled by result (hit, miss, error).",
		},
		[]string{"result"},
	)

	verifierFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verifier_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies, labeled by fetcher kind.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"fetcher"},
	)

	verifierActiveCrawls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "verifier_active_crawls",
			Help: "Number of crawl tasks currently in flight.",
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
)

// CountRequestOutcome records one RequestVerification call by outcome.
func CountRequestOutcome(outcome string) {
	verifierRequestsTotal.WithLabelValues(outcome).Inc()
}

// CountSubmission records one SubmitVerification call by result.
func CountSubmission(result string) {
	verifierSubmissionsTotal.WithLabelValues(result).Inc()
}

// CountReview records one admin review decision.
func CountReview(status string) {
	verifierReviewsTotal.WithLabelValues(status).Inc()
}

// CountCrawlAttempt records one fetch attempt inside the crawl loop.
func CountCrawlAttempt(result string) {
	verifierCrawlAttemptsTotal.WithLabelValues(result).Inc()
}

// CountCrawlOutcome records the terminal status a crawl wrote back.
func CountCrawlOutcome(status string) {
	verifierCrawlOutcomesTotal.WithLabelValues(status).Inc()
}

// CountCacheLookup records one page-cache lookup.
func CountCacheLookup(result string) {
	verifierCacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveFetchDuration records the latency of one page fetch.
func ObserveFetchDuration(fetcher string, d time.Duration) {
	verifierFetchDurationSeconds.WithLabelValues(fetcher).Observe(d.Seconds())
}

// CrawlStarted increments the in-flight crawl gauge.
func CrawlStarted() { verifierActiveCrawls.Inc() }

// CrawlFinished decrements the in-flight crawl gauge.
func CrawlFinished() { verifierActiveCrawls.Dec() }

// ObserveHTTPRequest records a completed HTTP request.
func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, statusLabel(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			routePattern = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
