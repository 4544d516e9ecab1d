// Package metrics exposes Prometheus collectors for the link checker.
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
	checksTotal                *prometheus.CounterVec
	checkDurationSeconds       *prometheus.HistogramVec
	cacheHitsTotal             prometheus.Counter
	queueDepth                 prometheus.Gauge
	activeWorkers              prometheus.Gauge
	poolWaitSeconds            *prometheus.HistogramVec
	robotsFetchTotal           *prometheus.CounterVec
	redirectsTotal             prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_checks_total",
				Help: "Completed URL checks, labeled by scheme and result.",
			},
			[]string{"scheme", "result"},
		)

		checkDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcheck_check_duration_seconds",
				Help:    "Histogram of per-URL check durations, labeled by scheme.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"scheme"},
		)

		cacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkcheck_cache_hits_total",
				Help: "Records whose result was copied from an earlier check.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkcheck_queue_depth",
				Help: "URLs waiting in the crawl queue.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "linkcheck_active_workers",
				Help: "Number of workers currently checking a URL.",
			},
		)

		poolWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcheck_pool_wait_seconds",
				Help:    "Time spent waiting for a connection pool slot.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"scheme"},
		)

		robotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_robots_fetch_total",
				Help: "robots.txt fetches, labeled by resulting policy.",
			},
			[]string{"outcome"},
		)

		redirectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkcheck_redirects_total",
				Help: "HTTP redirects followed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkcheck_status_requests_total",
				Help: "Requests served by the status server, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkcheck_status_request_duration_seconds",
				Help:    "Status server request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck records one completed check.
func ObserveCheck(scheme, result string, duration time.Duration) {
	Init()
	checksTotal.WithLabelValues(scheme, result).Inc()
	if duration > 0 {
		checkDurationSeconds.WithLabelValues(scheme).Observe(duration.Seconds())
	}
}

// ObserveCacheHit counts a record served from the result cache.
func ObserveCacheHit() {
	Init()
	cacheHitsTotal.Inc()
}

// SetQueueDepth publishes the current queue length.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
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

// ObservePoolWait records how long an acquisition waited for a slot.
func ObservePoolWait(scheme string, wait time.Duration) {
	Init()
	poolWaitSeconds.WithLabelValues(scheme).Observe(wait.Seconds())
}

// ObserveRobotsFetch counts a robots.txt fetch by the policy it produced.
func ObserveRobotsFetch(outcome string) {
	Init()
	robotsFetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveRedirect counts one followed redirect.
func ObserveRedirect() {
	Init()
	redirectsTotal.Inc()
}

// ObserveHTTPRequest increments the status server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
