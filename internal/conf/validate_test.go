package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faunavision/faunavision-go/internal/logger"
)

func validSettings() *Settings {
	return &Settings{
		Analysis: AnalysisSettings{
			URL:            DefaultAnalysisURL,
			Timeout:        5 * time.Minute,
			HealthCacheTTL: 30 * time.Second,
		},
		WebServer: WebServerSettings{
			Listen:          DefaultListen,
			UploadDir:       "/tmp/uploads",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logger.LoggingConfig{DefaultLevel: "info"},
		Events:  EventsSettings{BufferSize: 16},
	}
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"relative url", func(s *Settings) { s.Analysis.URL = "localhost:5000" }, "analysis.url"},
		{"zero timeout", func(s *Settings) { s.Analysis.Timeout = 0 }, "analysis.timeout"},
		{"negative ttl", func(s *Settings) { s.Analysis.HealthCacheTTL = -time.Second }, "analysis.healthcachettl"},
		{"bad listen", func(s *Settings) { s.WebServer.Listen = "8080" }, "webserver.listen"},
		{"bad level", func(s *Settings) { s.Logging.DefaultLevel = "loud" }, "logging.defaultlevel"},
		{"bad module level", func(s *Settings) {
			s.Logging.ModuleLevels = map[string]string{"api": "verbose"}
		}, "logging.modulelevels.api"},
		{"file output without path", func(s *Settings) {
			s.Logging.FileOutput = &logger.FileOutput{Enabled: true}
		}, "logging.fileoutput.path"},
		{"empty buffer", func(s *Settings) { s.Events.BufferSize = 0 }, "events.buffersize"},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true }, "mqtt.broker"},
		{"mqtt bad qos", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://broker:1883", QoS: 3}
		}, "mqtt.qos"},
		{"mqtt wildcard topic", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://broker:1883", Topic: "barn/#"}
		}, "mqtt.topic"},
		{"mqtt disabled ignores broker", func(s *Settings) { s.MQTT.Broker = "" }, ""},
		{"telemetry without dsn", func(s *Settings) { s.Telemetry.Enabled = true }, "telemetry.dsn"},
		{"alerts without urls", func(s *Settings) { s.Alerts.Enabled = true }, "alerts.urls"},
		{"alerts bad url", func(s *Settings) {
			s.Alerts = AlertSettings{Enabled: true, URLs: []string{"ntfy://ntfy.sh/barn", "token-only"}}
		}, "alerts.urls[1]"},
		{"alerts disabled ignores urls", func(s *Settings) { s.Alerts.URLs = []string{"token-only"} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	t.Parallel()
	s := validSettings()
	s.Analysis.Timeout = 0
	s.Events.BufferSize = 0

	err := ValidateSettings(s)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}
