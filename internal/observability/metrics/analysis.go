package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AnalysisMetrics tracks submissions, outcomes and calls to the analysis
// service. It implements Recorder.
type AnalysisMetrics struct {
	registry *prometheus.Registry

	operationsTotal  *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	durationSeconds  *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	subjects         prometheus.Gauge
	serviceRequests  *prometheus.CounterVec
	serviceLatencies *prometheus.HistogramVec
}

// NewAnalysisMetrics creates the collectors and registers them.
func NewAnalysisMetrics(registry *prometheus.Registry) (*AnalysisMetrics, error) {
	m := &AnalysisMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *AnalysisMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faunavision_operations_total",
			Help: "Subject operations by outcome",
		},
		[]string{"operation", "status"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faunavision_errors_total",
			Help: "Subject operation failures by error kind",
		},
		[]string{"operation", "kind"},
	)

	m.durationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faunavision_operation_duration_seconds",
			Help:    "Time from submission to outcome",
			Buckets: prometheus.ExponentialBuckets(BucketStart500ms, BucketFactor2, BucketCount11),
		},
		[]string{"operation"},
	)

	m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faunavision_analyses_in_flight",
		Help: "Analyses currently waiting on the service",
	})

	m.subjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faunavision_subjects",
		Help: "Subjects in the collection",
	})

	m.serviceRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faunavision_service_requests_total",
			Help: "HTTP exchanges with the analysis service",
		},
		[]string{"method", "path", "status_code"},
	)

	m.serviceLatencies = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "faunavision_service_request_duration_seconds",
			Help:    "Latency of HTTP exchanges with the analysis service",
			Buckets: prometheus.ExponentialBuckets(BucketStart500ms, BucketFactor2, BucketCount11),
		},
		[]string{"method", "path"},
	)
}

// Describe implements prometheus.Collector.
func (m *AnalysisMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.durationSeconds.Describe(ch)
	m.inFlight.Describe(ch)
	m.subjects.Describe(ch)
	m.serviceRequests.Describe(ch)
	m.serviceLatencies.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *AnalysisMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.durationSeconds.Collect(ch)
	m.inFlight.Collect(ch)
	m.subjects.Collect(ch)
	m.serviceRequests.Collect(ch)
	m.serviceLatencies.Collect(ch)
}

// RecordOperation counts an outcome. Starting and finishing an analysis also
// moves the in-flight gauge.
func (m *AnalysisMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()

	switch {
	case operation == OpSubmit && status == StatusStarted:
		m.inFlight.Inc()
	case operation == OpAnalysis:
		m.inFlight.Dec()
	}
}

func (m *AnalysisMetrics) RecordDuration(operation string, seconds float64) {
	m.durationSeconds.WithLabelValues(operation).Observe(seconds)
}

func (m *AnalysisMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// SetSubjects sets the collection size gauge.
func (m *AnalysisMetrics) SetSubjects(n int) {
	m.subjects.Set(float64(n))
}

// ObserveServiceRequest matches httpclient.Hook and records one exchange
// with the analysis service.
func (m *AnalysisMetrics) ObserveServiceRequest(req *http.Request, resp *http.Response, err error, elapsed time.Duration) {
	code := "error"
	if err == nil && resp != nil {
		code = strconv.Itoa(resp.StatusCode)
	}
	m.serviceRequests.WithLabelValues(req.Method, req.URL.Path, code).Inc()
	m.serviceLatencies.WithLabelValues(req.Method, req.URL.Path).Observe(elapsed.Seconds())
}

var _ Recorder = (*AnalysisMetrics)(nil)
