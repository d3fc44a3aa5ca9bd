// Package observability owns the Prometheus registry and the /metrics handler.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faunavision/faunavision-go/internal/observability/metrics"
)

// Metrics groups the application collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Analysis *metrics.AnalysisMetrics
	HTTP     *metrics.HTTPMetrics
	MQTT     *metrics.MQTTMetrics
	Alerts   *metrics.AlertMetrics
}

// NewMetrics creates a registry with process and Go runtime collectors plus
// the application collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	analysis, err := metrics.NewAnalysisMetrics(registry)
	if err != nil {
		return nil, err
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}
	mqttMetrics, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, err
	}
	alertMetrics, err := metrics.NewAlertMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		registry: registry,
		Analysis: analysis,
		HTTP:     httpMetrics,
		MQTT:     mqttMetrics,
		Alerts:   alertMetrics,
	}, nil
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
