// Package metrics exposes Prometheus collectors for the scrape engine.
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
	runsTotal                  *prometheus.CounterVec
	itemsTotal                 *prometheus.CounterVec
	itemRetriesTotal           *prometheus.CounterVec
	snapshotsTotal             *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_runs_total",
				Help: "Total number of runs reaching a terminal status, labeled by status.",
			},
			[]string{"status"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_items_total",
				Help: "Total number of items reaching a terminal status, labeled by retailer and status.",
			},
			[]string{"retailer", "status"},
		)

		itemRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_item_retries_total",
				Help: "Total number of item retry re-enqueues, labeled by retailer.",
			},
			[]string{"retailer"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapshots_total",
				Help: "Total number of snapshots written, labeled by retailer and changed/unchanged.",
			},
			[]string{"retailer", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "connector_fetch_duration_seconds",
				Help:    "Histogram of connector fetch+parse latencies, labeled by retailer.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"retailer"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by retailer.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"retailer"},
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

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_active_workers",
				Help: "Number of workers currently executing an item.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun increments the run counter for the given terminal status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveItem increments the item counter for the given terminal status.
func ObserveItem(retailer, status string) {
	Init()
	if retailer == "" {
		retailer = "unknown"
	}
	itemsTotal.WithLabelValues(retailer, status).Inc()
}

// ObserveRetry increments the retry counter for a retailer.
func ObserveRetry(retailer string) {
	Init()
	itemRetriesTotal.WithLabelValues(retailer).Inc()
}

// ObserveSnapshot records a snapshot write; outcome is "changed" or
// "unchanged".
func ObserveSnapshot(retailer, outcome string) {
	Init()
	snapshotsTotal.WithLabelValues(retailer, outcome).Inc()
}

// ObserveFetch records a connector fetch duration.
func ObserveFetch(retailer string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(retailer).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(retailer string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(retailer).Observe(duration.Seconds())
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
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
