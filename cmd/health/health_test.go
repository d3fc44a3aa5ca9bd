package health

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faunavision/faunavision-go/internal/analyzer"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/mqtt"
)

const serviceURL = "http://analysis.test:5000"

func newMockedClient(t *testing.T, status int, body string) *analyzer.Client {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, serviceURL+"/health", httpmock.NewStringResponder(status, body))

	c, err := analyzer.New(analyzer.Config{BaseURL: serviceURL, Transport: transport},
		logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestCheckService(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  bool
		contains []string
	}{
		{
			name:     "healthy",
			status:   http.StatusOK,
			body:     `{"status":"healthy","vision_engine":"gpt-4o","openai_available":true}`,
			contains: []string{"reachable: yes", "status:    healthy", "engine:    gpt-4o", "openai:    true"},
		},
		{
			name:     "self-reported degraded",
			status:   http.StatusOK,
			body:     `{"status":"degraded","openai_available":false}`,
			wantErr:  true,
			contains: []string{"status:    degraded", "openai:    false"},
		},
		{
			name:     "server error",
			status:   http.StatusServiceUnavailable,
			body:     `{"error":"warming up"}`,
			wantErr:  true,
			contains: []string{"reachable: no", "warming up"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			err := CheckService(t.Context(), newMockedClient(t, tt.status, tt.body), &out)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out.String(), "Analysis service: "+serviceURL)
			for _, s := range tt.contains {
				assert.Contains(t, out.String(), s)
			}
		})
	}
}

// scriptedBroker replays results from TestConnection.
type scriptedBroker struct {
	results []mqtt.TestResult
}

func (b *scriptedBroker) Connect(context.Context) error                 { return nil }
func (b *scriptedBroker) Publish(context.Context, string, string) error { return nil }
func (b *scriptedBroker) IsConnected() bool                             { return true }
func (b *scriptedBroker) Disconnect()                                   {}

func (b *scriptedBroker) TestConnection(ctx context.Context, ch chan<- mqtt.TestResult) {
	for _, r := range b.results {
		select {
		case ch <- r:
		case <-ctx.Done():
			return
		}
	}
}

func TestCheckBroker(t *testing.T) {
	t.Parallel()

	t.Run("all stages pass", func(t *testing.T) {
		t.Parallel()
		broker := &scriptedBroker{results: []mqtt.TestResult{
			{Success: true, Stage: "TCP Connection", Message: "Running TCP Connection test...", IsProgress: true},
			{Success: true, Stage: "TCP Connection", Message: "Successfully completed TCP Connection"},
			{Success: true, Stage: "MQTT Connection", Message: "Successfully completed MQTT Connection"},
		}}
		var out bytes.Buffer
		require.NoError(t, CheckBroker(t.Context(), broker, &out))
		assert.NotContains(t, out.String(), "Running")
		assert.Contains(t, out.String(), "MQTT Connection")
	})

	t.Run("failed stage", func(t *testing.T) {
		t.Parallel()
		broker := &scriptedBroker{results: []mqtt.TestResult{
			{Success: true, Stage: "TCP Connection", Message: "Successfully completed TCP Connection"},
			{Success: false, Stage: "MQTT Connection", Message: "Failed to perform MQTT Connection", Error: "not authorized"},
		}}
		var out bytes.Buffer
		err := CheckBroker(t.Context(), broker, &out)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
		assert.Contains(t, err.Error(), "not authorized")
		assert.Contains(t, out.String(), "FAILED")
	})
}
