package metrics

import "github.com/prometheus/client_golang/prometheus"

// AlertMetrics counts push notifications by reason and outcome.
type AlertMetrics struct {
	alerts *prometheus.CounterVec
}

// NewAlertMetrics creates the alert collectors and registers them.
func NewAlertMetrics(registry *prometheus.Registry) (*AlertMetrics, error) {
	m := &AlertMetrics{
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faunavision_alerts_total",
				Help: "Push notifications by reason and outcome",
			},
			[]string{"reason", "status"},
		),
	}
	if err := registry.Register(m.alerts); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordAlert counts one alert outcome.
func (m *AlertMetrics) RecordAlert(reason, status string) {
	m.alerts.WithLabelValues(reason, status).Inc()
}
