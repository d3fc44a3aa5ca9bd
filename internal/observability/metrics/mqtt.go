package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics tracks the verdict publisher's broker connection.
type MQTTMetrics struct {
	registry *prometheus.Registry

	connectionStatus  prometheus.Gauge
	lastConnectTime   prometheus.Gauge
	messagesDelivered prometheus.Counter
	messagesDropped   prometheus.Counter
	errors            prometheus.Counter
	messageSize       prometheus.Histogram
	publishLatency    prometheus.Histogram
}

// NewMQTTMetrics creates the MQTT collectors and registers them.
func NewMQTTMetrics(registry *prometheus.Registry) (*MQTTMetrics, error) {
	m := &MQTTMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.connectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faunavision_mqtt_connection_status",
		Help: "MQTT broker connection status (1 connected, 0 disconnected)",
	})

	m.lastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "faunavision_mqtt_last_connect_time_seconds",
		Help: "Timestamp of the last successful MQTT connection",
	})

	m.messagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faunavision_mqtt_messages_delivered_total",
		Help: "Verdict messages delivered to the broker",
	})

	m.messagesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faunavision_mqtt_messages_dropped_total",
		Help: "Verdict messages dropped because the publish queue was full",
	})

	m.errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "faunavision_mqtt_errors_total",
		Help: "MQTT connection and publish errors",
	})

	m.messageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "faunavision_mqtt_message_size_bytes",
		Help:    "Size of published MQTT payloads",
		Buckets: prometheus.ExponentialBuckets(64, BucketFactor2, 10),
	})

	m.publishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "faunavision_mqtt_publish_latency_seconds",
		Help:    "Latency of MQTT publish operations",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, 10),
	})
}

// UpdateConnectionStatus records a connect or disconnect.
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
		m.lastConnectTime.SetToCurrentTime()
		return
	}
	m.connectionStatus.Set(0)
}

// RecordPublish records one publish attempt.
func (m *MQTTMetrics) RecordPublish(size int, elapsed time.Duration, err error) {
	m.publishLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.errors.Inc()
		return
	}
	m.messagesDelivered.Inc()
	m.messageSize.Observe(float64(size))
}

// IncrementErrors counts a connection level error.
func (m *MQTTMetrics) IncrementErrors() { m.errors.Inc() }

// IncrementDropped counts a message that never reached the broker.
func (m *MQTTMetrics) IncrementDropped() { m.messagesDropped.Inc() }

// Describe implements prometheus.Collector.
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.connectionStatus.Desc()
	ch <- m.lastConnectTime.Desc()
	ch <- m.messagesDelivered.Desc()
	ch <- m.messagesDropped.Desc()
	ch <- m.errors.Desc()
	ch <- m.messageSize.Desc()
	ch <- m.publishLatency.Desc()
}

// Collect implements prometheus.Collector.
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.connectionStatus
	ch <- m.lastConnectTime
	ch <- m.messagesDelivered
	ch <- m.messagesDropped
	ch <- m.errors
	ch <- m.messageSize
	ch <- m.publishLatency
}
