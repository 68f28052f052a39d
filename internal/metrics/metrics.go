// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                   *prometheus.CounterVec
	chapterFetchesTotal         *prometheus.CounterVec
	chapterFetchAttemptsTotal   prometheus.Counter
	chapterFetchDurationSeconds prometheus.Histogram
	chapterFetchesInFlight      prometheus.Gauge
	deliveriesTotal             *prometheus.CounterVec
	callbacksTotal              *prometheus.CounterVec
	cataloguePagesTotal         *prometheus.CounterVec
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	rateLimitDelaysSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangalib_jobs_total",
				Help: "Total number of scraping jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		chapterFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangalib_chapter_fetches_total",
				Help: "Chapter image lookups after retries, labeled by status.",
			},
			[]string{"status"},
		)

		chapterFetchAttemptsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mangalib_chapter_fetch_attempts_total",
				Help: "Individual chapter image lookup attempts, including retries.",
			},
		)

		chapterFetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mangalib_chapter_fetch_duration_seconds",
				Help:    "Histogram of chapter image lookup latency including retries.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
		)

		chapterFetchesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mangalib_chapter_fetches_in_flight",
				Help: "Number of chapter image lookups currently holding a browser permit.",
			},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangalib_deliveries_total",
				Help: "Queue deliveries handled, labeled by decision (acked, nacked, rejected).",
			},
			[]string{"decision"},
		)

		callbacksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangalib_callbacks_total",
				Help: "Callback publishes, labeled by status.",
			},
			[]string{"status"},
		)

		cataloguePagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mangalib_catalogue_pages_total",
				Help: "Catalogue listing pages requested, labeled by status.",
			},
			[]string{"status"},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mangalib_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveChapterFetch records one chapter lookup after retries.
func ObserveChapterFetch(status string, attempts int, duration time.Duration) {
	Init()
	chapterFetchesTotal.WithLabelValues(status).Inc()
	chapterFetchAttemptsTotal.Add(float64(attempts))
	chapterFetchDurationSeconds.Observe(duration.Seconds())
}

// IncChapterFetchesInFlight increments the in-flight gauge.
func IncChapterFetchesInFlight() {
	Init()
	chapterFetchesInFlight.Inc()
}

// DecChapterFetchesInFlight decrements the in-flight gauge.
func DecChapterFetchesInFlight() {
	Init()
	chapterFetchesInFlight.Dec()
}

// ObserveDelivery counts an ack/nack decision.
func ObserveDelivery(decision string) {
	Init()
	deliveriesTotal.WithLabelValues(decision).Inc()
}

// ObserveCallback counts a callback publish outcome.
func ObserveCallback(status string) {
	Init()
	callbacksTotal.WithLabelValues(status).Inc()
}

// ObserveCataloguePage counts a catalogue listing request.
func ObserveCataloguePage(status string) {
	Init()
	cataloguePagesTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
