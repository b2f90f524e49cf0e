package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation results used as the "result" label.
const (
	ResultOK      = "ok"
	ResultMiss    = "miss"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

// Collector tracks cache engine and API metrics for Prometheus export.
// A nil *Collector is valid and records nothing.
type Collector struct {
	operations      *prometheus.CounterVec
	durations       *prometheus.HistogramVec
	hits            prometheus.Counter
	misses          prometheus.Counter
	purgedKeys      prometheus.Counter
	staleCandidates prometheus.Counter
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector creates a collector and registers it on reg.
func NewCollector(reg prometheus.Registerer, namespace string) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Cache operations by operation and result.",
		}, []string{"op", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Cache operation latency including Redis round trips.",
			Buckets:   DefaultBuckets,
		}, []string{"op"}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Get calls that found an entry.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Get calls that found no entry.",
		}),
		purgedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_keys_total",
			Help:      "Entries deleted by tag purges.",
		}),
		staleCandidates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_candidates_total",
			Help:      "Reverse index members discarded because the key no longer carries the tag.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency.",
			Buckets:   DefaultBuckets,
		}, []string{"route"}),
	}
	reg.MustRegister(
		c.operations, c.durations, c.hits, c.misses,
		c.purgedKeys, c.staleCandidates, c.requests, c.requestDuration,
	)
	return c
}

// RecordOperation records a completed engine operation.
func (c *Collector) RecordOperation(op, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(op, result).Inc()
	c.durations.WithLabelValues(op).Observe(d.Seconds())
}

// RecordHit records a Get that found an entry.
func (c *Collector) RecordHit() {
	if c == nil {
		return
	}
	c.hits.Inc()
}

// RecordMiss records a Get that found nothing.
func (c *Collector) RecordMiss() {
	if c == nil {
		return
	}
	c.misses.Inc()
}

// RecordPurge records the outcome of one tag purge.
func (c *Collector) RecordPurge(purged, stale int) {
	if c == nil {
		return
	}
	c.purgedKeys.Add(float64(purged))
	c.staleCandidates.Add(float64(stale))
}

// RecordRequest records a completed HTTP API request.
func (c *Collector) RecordRequest(route, method string, statusCode int, d time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(route, method, strconv.Itoa(statusCode)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
