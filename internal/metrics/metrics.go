// Package metrics holds the Prometheus collectors for ingestion and the HTTP
// surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docledger"

var documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "documents_total",
	Help:      "Documents processed, labelled by direction and terminal state.",
}, []string{"direction", "state"})

var verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "verdicts_total",
	Help:      "Accepted rows labelled by direction and validation verdict.",
}, []string{"direction", "verdict"})

var batchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "batch_duration_seconds",
	Help:      "Time spent processing a batch end to end.",
	Buckets:   []float64{.5, 1, 2, 5, 10, 30, 60, 120, 300},
}, []string{"direction"})

var dependencyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "dependency_latency_seconds",
	Help:      "Latency of external service calls.",
	Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60},
}, []string{"service"})

var rateCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "rate_cache_total",
	Help:      "Exchange-rate cache lookups labelled by result.",
}, []string{"result"})

// HTTPRequestsTotal counts HTTP requests by route pattern and status code.
var HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "http_requests_total",
	Help:      "Total number of requests labelled by route and status.",
}, []string{"route", "status"})

// ObserveDocument counts a document reaching a terminal state.
func ObserveDocument(direction, state string) {
	documentsTotal.WithLabelValues(direction, state).Inc()
}

// ObserveVerdict counts an accepted row's verdict.
func ObserveVerdict(direction, verdict string) {
	verdictsTotal.WithLabelValues(direction, verdict).Inc()
}

// ObserveBatch records how long a batch took.
func ObserveBatch(direction string, elapsed time.Duration) {
	batchDuration.WithLabelValues(direction).Observe(elapsed.Seconds())
}

// CaptureDependency records the latency of a call to an external service.
func CaptureDependency(service string, elapsed time.Duration) {
	dependencyLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

// CacheHit counts a rate served from cache.
func CacheHit() {
	rateCacheTotal.WithLabelValues("hit").Inc()
}

// CacheMiss counts a rate fetched from the provider.
func CacheMiss() {
	rateCacheTotal.WithLabelValues("miss").Inc()
}

// CacheError counts a cache that could not be read or written.
func CacheError() {
	rateCacheTotal.WithLabelValues("error").Inc()
}
