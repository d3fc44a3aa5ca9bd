package logger_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faunavision/faunavision-go/internal/logger"
)

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		level     logger.LogLevel
		emit      func(l logger.Logger)
		wantEmpty bool
	}{
		{"debug suppressed at info", logger.LogLevelInfo, func(l logger.Logger) { l.Debug("hidden") }, true},
		{"info emitted at info", logger.LogLevelInfo, func(l logger.Logger) { l.Info("shown") }, false},
		{"warn emitted at info", logger.LogLevelInfo, func(l logger.Logger) { l.Warn("shown") }, false},
		{"info suppressed at error", logger.LogLevelError, func(l logger.Logger) { l.Info("hidden") }, true},
		{"trace emitted at trace", logger.LogLevelTrace, func(l logger.Logger) { l.Trace("shown") }, false},
		{"trace suppressed at debug", logger.LogLevelDebug, func(l logger.Logger) { l.Trace("hidden") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			tt.emit(logger.NewSlogLogger(&buf, tt.level, time.UTC))
			if tt.wantEmpty {
				assert.Empty(t, buf.String())
			} else {
				assert.NotEmpty(t, buf.String())
			}
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelDebug, time.UTC).
		Module("subject").
		Module("controller").
		With(logger.Int("subject_id", 3))

	log.Info("submitted",
		logger.String("species", "lion"),
		logger.Duration("timeout", 5*time.Minute),
		logger.Error(errors.New("boom")))

	out := buf.String()
	assert.Contains(t, out, "module=subject.controller")
	assert.Contains(t, out, "subject_id=3")
	assert.Contains(t, out, "species=lion")
	assert.Contains(t, out, "timeout=5m0s")
	assert.Contains(t, out, "error=boom")
	assert.NotContains(t, out, "time=", "console output omits timestamps")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := logger.NewSlogLogger(&buf, logger.LogLevelInfo, time.UTC)

	log.WithContext(logger.WithTraceID(context.Background(), "req-42")).Info("hello")
	assert.Contains(t, buf.String(), "trace_id=req-42")

	buf.Reset()
	log.WithContext(context.Background()).Info("hello")
	assert.NotContains(t, buf.String(), "trace_id")
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "app.log")
	cl, err := logger.NewCentralLogger(&logger.LoggingConfig{
		DefaultLevel: "debug",
		Timezone:     "UTC",
		Console:      &logger.ConsoleOutput{Enabled: false},
		FileOutput:   &logger.FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"noisy": "error"},
	})
	require.NoError(t, err)

	cl.Module("analyzer").Info("request sent", logger.Int("status_code", 200))
	cl.Module("noisy").Info("dropped")
	require.NoError(t, cl.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 1)
	assert.Equal(t, "analyzer", records[0]["module"])
	assert.Equal(t, "request sent", records[0]["msg"])
	assert.InDelta(t, 200, records[0]["status_code"], 0)
}

func TestNewCentralLoggerRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := logger.NewCentralLogger(nil)
	require.Error(t, err)

	_, err = logger.NewCentralLogger(&logger.LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestBufferedFileWriterCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	w, err := logger.NewBufferedFileWriter(filepath.Join(t.TempDir(), "w.log"), 10*time.Millisecond)
	require.NoError(t, err)

	_, err = w.Write([]byte("line\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late\n"))
	require.Error(t, err)
}
