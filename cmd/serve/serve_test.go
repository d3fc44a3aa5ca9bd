package serve

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faunavision/faunavision-go/internal/conf"
	"github.com/faunavision/faunavision-go/internal/errors"
)

func testSettings(t *testing.T, listen string) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Analysis: conf.AnalysisSettings{
			URL:            "http://analysis.test:5000",
			Timeout:        time.Minute,
			HealthCacheTTL: time.Second,
		},
		WebServer: conf.WebServerSettings{
			Listen:          listen,
			UploadDir:       t.TempDir(),
			ShutdownTimeout: 2 * time.Second,
		},
		Events:  conf.EventsSettings{BufferSize: 16},
		Metrics: conf.MetricsSettings{Enabled: true},
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, testSettings(t, "127.0.0.1:0")) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReportsListenerFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	done := make(chan error, 1)
	go func() { done <- Run(t.Context(), testSettings(t, busy.Addr().String())) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after listener failure")
	}
}

func TestRunRejectsInvalidBroker(t *testing.T) {
	settings := testSettings(t, "127.0.0.1:0")
	settings.MQTT = conf.MQTTSettings{Enabled: true, Broker: "http://broker:1883"}

	err := Run(t.Context(), settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRunRejectsUnknownAlertService(t *testing.T) {
	settings := testSettings(t, "127.0.0.1:0")
	settings.Alerts = conf.AlertSettings{Enabled: true, URLs: []string{"nosuchservice://token@host"}}

	err := Run(t.Context(), settings)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.NotContains(t, err.Error(), "token@host")
}

func TestRunWithAlerts(t *testing.T) {
	settings := testSettings(t, "127.0.0.1:0")
	settings.Alerts = conf.AlertSettings{Enabled: true, URLs: []string{"logger://"}, Timeout: time.Second}

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, settings) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
