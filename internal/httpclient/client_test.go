package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, cfg *Config) *Client {
	t.Helper()
	client := New(cfg)
	t.Cleanup(client.Close)
	return client
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{UserAgent: "custom"}
	c := New(&cfg)
	defer c.Close()

	assert.Equal(t, DefaultTimeout, c.defaultTimeout)
	assert.Equal(t, "custom", c.userAgent)
	assert.Equal(t, Config{UserAgent: "custom"}, cfg, "caller config must not be mutated")

	c2 := New(nil)
	defer c2.Close()
	assert.Equal(t, defaultUserAgent, c2.userAgent)
}

func TestDoInjectsUserAgent(t *testing.T) {
	t.Parallel()

	var got atomic.Value
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	})

	client := newTestClient(t, &Config{UserAgent: "FaunaVision-Test"})
	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, "FaunaVision-Test", got.Load())
}

func TestDoAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := newTestClient(t, &Config{DefaultTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDoKeepsCallerDeadline(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = io.WriteString(w, "ok")
	})

	// a 10ms default must not override the caller's longer deadline
	client := newTestClient(t, &Config{DefaultTimeout: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestHooksObserveRequests(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://svc.test/health",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"healthy"}`))

	client := newTestClient(t, &Config{Transport: transport})

	var calls atomic.Int32
	var lastStatus atomic.Int32
	client.AddHook(func(req *http.Request, resp *http.Response, err error, _ time.Duration) {
		calls.Add(1)
		if err == nil {
			lastStatus.Store(int32(resp.StatusCode))
		}
	})

	resp, err := client.Get(t.Context(), "http://svc.test/health")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	_, err = client.Get(t.Context(), "http://svc.test/missing")
	require.Error(t, err)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int32(http.StatusOK), lastStatus.Load())
	assert.Equal(t, 1, transport.GetCallCountInfo()["GET http://svc.test/health"])
}

func TestDoRejectsNilRequest(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, nil)
	_, err := client.Do(t.Context(), nil)
	require.Error(t, err)
}
