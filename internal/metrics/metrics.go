// Package metrics exposes Prometheus collectors for the scan fleet.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	fleetWorkers               *prometheus.GaugeVec
	fleetPaused                prometheus.Gauge
	fleetFailuresTotal         *prometheus.CounterVec
	scansTotal                 *prometheus.CounterVec
	backoffSeconds             prometheus.Histogram
	ingestTotal                *prometheus.CounterVec
	ingestEntitiesTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds     prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		fleetWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scanfleet_workers",
				Help: "Number of workers in each lifecycle status.",
			},
			[]string{"status"},
		)

		fleetPaused = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanfleet_paused",
				Help: "1 while the fleet-wide pause signal is set.",
			},
		)

		fleetFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanfleet_failures_total",
				Help: "Workers that reached the failed status, labeled by failure kind.",
			},
			[]string{"kind"},
		)

		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanfleet_scan_attempts_total",
				Help: "Total scan calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		backoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scanfleet_backoff_seconds",
				Help:    "Histogram of backoff waits after transient scan failures.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		ingestTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanfleet_ingest_total",
				Help: "Scan results handed to the ingestion sink, labeled by status.",
			},
			[]string{"status"},
		)

		ingestEntitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanfleet_ingest_entities_total",
				Help: "Entities persisted by the ingestion sink, labeled by kind.",
			},
			[]string{"kind"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scanfleet_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWorkerTransition moves one worker from one status gauge to another.
// An empty from means the worker was just created.
func ObserveWorkerTransition(from, to string) {
	Init()
	if from == to {
		return
	}
	if from != "" {
		fleetWorkers.WithLabelValues(from).Dec()
	}
	if to != "" {
		fleetWorkers.WithLabelValues(to).Inc()
	}
}

// SetPaused records the fleet-wide pause signal.
func SetPaused(paused bool) {
	Init()
	if paused {
		fleetPaused.Set(1)
		return
	}
	fleetPaused.Set(0)
}

// ObserveFailure counts a worker that stopped scanning permanently.
func ObserveFailure(kind string) {
	Init()
	fleetFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveScan counts a scan call by outcome (success, transient, fatal, canceled).
func ObserveScan(outcome string) {
	Init()
	scansTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackoff records a backoff wait.
func ObserveBackoff(d time.Duration) {
	Init()
	backoffSeconds.Observe(d.Seconds())
}

// ObserveIngest counts one ingestion attempt.
func ObserveIngest(status string) {
	Init()
	ingestTotal.WithLabelValues(status).Inc()
}

// ObserveIngestEntities adds persisted entities of one kind.
func ObserveIngestEntities(kind string, n int) {
	if n <= 0 {
		return
	}
	Init()
	ingestEntitiesTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait. Account
// identifiers stay out of the series.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.Observe(duration.Seconds())
}
