package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics covers the HTTP API and its event stream.
type HTTPMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	sseClients      prometheus.Gauge
	sseDropped      prometheus.Counter
}

// NewHTTPMetrics creates the HTTP collectors and registers them.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faunavision_http_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faunavision_http_request_duration_seconds",
			Help:    "HTTP API handler latency",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		},
		[]string{"method", "route"},
	)

	m.sseClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faunavision_sse_clients",
		Help: "Connected event stream clients",
	})

	m.sseDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faunavision_sse_dropped_total",
		Help: "Events dropped because a stream client was too slow",
	})
}

// Describe implements prometheus.Collector.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.sseClients.Describe(ch)
	m.sseDropped.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.sseClients.Collect(ch)
	m.sseDropped.Collect(ch)
}

// RecordRequest records one handled request. route is the registered path
// pattern, not the raw URL, to keep cardinality bounded.
func (m *HTTPMetrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *HTTPMetrics) SSEClientConnected()    { m.sseClients.Inc() }
func (m *HTTPMetrics) SSEClientDisconnected() { m.sseClients.Dec() }
func (m *HTTPMetrics) SSEEventDropped()       { m.sseDropped.Inc() }
