package orchestrator

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/faunavision/faunavision-go/internal/analyzer"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/events"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
	"github.com/faunavision/faunavision-go/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const serviceURL = "http://analysis.test:5000"

var quietLog = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)

// capturePublisher records events synchronously.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) TryPublish(e events.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return true
}

func (p *capturePublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

func (p *capturePublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

func newServiceOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *httpmock.MockTransport, *capturePublisher) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	client, err := analyzer.New(analyzer.Config{BaseURL: serviceURL, Transport: transport}, quietLog)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	pub := &capturePublisher{}
	o := New(client, pub, append([]Option{WithLogger(quietLog)}, opts...)...)
	t.Cleanup(func() {
		require.NoError(t, o.Shutdown(context.Background()))
	})
	return o, transport, pub
}

func waitFor(t *testing.T, o *Orchestrator, id int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Wait(ctx, id))
}

func prepare(t *testing.T, o *Orchestrator, id int, species string) {
	t.Helper()
	require.NoError(t, o.SetParameter(id, model.FieldSpecies, species))
	require.NoError(t, o.SetVideo(id, model.NewBytesAttachment("pen.mp4", "", []byte("frames"))))
}

func TestAddAndRemovePublishEvents(t *testing.T) {
	t.Parallel()

	o, _, pub := newServiceOrchestrator(t)
	assert.True(t, o.Onboarding())

	s := o.AddSubject()
	assert.Equal(t, 1, s.ID)
	assert.False(t, o.Onboarding())
	assert.Equal(t, []events.Kind{events.KindSubjectAdded, events.KindOnboarding}, pub.kinds())
	assert.False(t, pub.last().Onboarding)

	require.True(t, o.RemoveSubject(1))
	assert.False(t, o.RemoveSubject(1))
	assert.True(t, o.Onboarding())

	last := pub.last()
	assert.Equal(t, events.KindOnboarding, last.Kind)
	assert.True(t, last.Onboarding)
	assert.Equal(t, uint64(2), last.CollectionVersion)
}

func TestIntentsForUnknownSubject(t *testing.T) {
	t.Parallel()

	o, _, _ := newServiceOrchestrator(t)

	checks := map[string]error{
		"set parameter": o.SetParameter(9, model.FieldSpecies, "Pig"),
		"set video":     o.SetVideo(9, model.NewBytesAttachment("a.mp4", "", nil)),
		"submit":        o.Submit(9),
		"cancel":        o.Cancel(9),
		"wait":          o.Wait(context.Background(), 9),
	}
	for name, err := range checks {
		require.Error(t, err, name)
		assert.True(t, errors.IsNotFound(err), name)
	}
	_, err := o.Subject(9)
	assert.True(t, errors.IsNotFound(err))
}

func TestSubjectsAreIndependent(t *testing.T) {
	t.Parallel()

	o, transport, _ := newServiceOrchestrator(t)
	transport.RegisterResponder(http.MethodPost, serviceURL+"/analyze",
		func(req *http.Request) (*http.Response, error) {
			if err := req.ParseMultipartForm(1 << 20); err != nil {
				return nil, err
			}
			defer req.MultipartForm.RemoveAll()
			if req.FormValue("species") == "Goat" {
				return httpmock.NewStringResponse(http.StatusServiceUnavailable, `{"error":"model overloaded"}`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"species":"Pig","is_healthy":true,"confidence":0.9}`), nil
		})

	pig := o.AddSubject()
	goat := o.AddSubject()
	prepare(t, o, pig.ID, "Yorkshire")
	prepare(t, o, goat.ID, "Goat")

	require.NoError(t, o.Submit(pig.ID))
	require.NoError(t, o.Submit(goat.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.WaitAll(ctx))

	first, err := o.Subject(pig.ID)
	require.NoError(t, err)
	second, err := o.Subject(goat.ID)
	require.NoError(t, err)

	assert.Equal(t, model.StatusSucceeded, first.Status)
	assert.Equal(t, model.StatusFailed, second.Status)
	assert.Equal(t, "model overloaded", second.LastError.Message)
	assert.Nil(t, first.LastError)
}

func TestChangesArePublished(t *testing.T) {
	t.Parallel()

	o, transport, pub := newServiceOrchestrator(t)
	transport.RegisterResponder(http.MethodPost, serviceURL+"/analyze",
		httpmock.NewStringResponder(http.StatusOK, `{"species":"Pig","is_healthy":false}`))

	s := o.AddSubject()
	prepare(t, o, s.ID, "Yorkshire")
	require.NoError(t, o.Submit(s.ID))
	waitFor(t, o, s.ID)

	// the final snapshot is published under the controller lock
	_, err := o.Subject(s.ID)
	require.NoError(t, err)

	last := pub.last()
	require.Equal(t, events.KindSubjectChanged, last.Kind)
	require.NotNil(t, last.Subject)
	assert.Equal(t, model.StatusSucceeded, last.Subject.Status)
	assert.True(t, last.Finished())
	assert.Equal(t, model.VerdictUnhealthy, last.Subject.Result.HealthVerdict())

	var statuses []model.Status
	pub.mu.Lock()
	for _, e := range pub.events {
		if e.Kind == events.KindSubjectChanged {
			statuses = append(statuses, e.Subject.Status)
		}
	}
	pub.mu.Unlock()
	assert.Equal(t, []model.Status{
		model.StatusIdle, model.StatusIdle, model.StatusAnalyzing, model.StatusSucceeded,
	}, statuses)
}

func TestRemoveCancelsInFlightRequest(t *testing.T) {
	t.Parallel()

	o, transport, _ := newServiceOrchestrator(t)
	entered := make(chan struct{}, 1)
	transport.RegisterResponder(http.MethodPost, serviceURL+"/analyze",
		func(req *http.Request) (*http.Response, error) {
			entered <- struct{}{}
			<-req.Context().Done()
			return nil, req.Context().Err()
		})

	s := o.AddSubject()
	prepare(t, o, s.ID, "Yorkshire")
	require.NoError(t, o.Submit(s.ID))
	<-entered

	require.True(t, o.RemoveSubject(s.ID))
	_, err := o.Subject(s.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestShutdownCancelsEverything(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	entered := make(chan struct{}, 2)
	transport.RegisterResponder(http.MethodPost, serviceURL+"/analyze",
		func(req *http.Request) (*http.Response, error) {
			entered <- struct{}{}
			<-req.Context().Done()
			return nil, req.Context().Err()
		})
	client, err := analyzer.New(analyzer.Config{BaseURL: serviceURL, Transport: transport}, quietLog)
	require.NoError(t, err)
	defer client.Close()

	rec := metrics.NewTestRecorder()
	o := New(client, nil, WithLogger(quietLog), WithRecorder(rec))
	for range 2 {
		s := o.AddSubject()
		prepare(t, o, s.ID, "Pig")
		require.NoError(t, o.Submit(s.ID))
		<-entered
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))

	assert.Len(t, o.Snapshot().Subjects, 2, "shutdown keeps subjects")
	assert.Equal(t, 2, rec.Operations(metrics.OpSubmit, metrics.StatusStarted))
	assert.True(t, errors.IsNotFound(o.Submit(1)))
}

func TestSizeObserver(t *testing.T) {
	t.Parallel()

	var sizes []int
	o, _, _ := newServiceOrchestrator(t, WithSizeObserver(func(n int) { sizes = append(sizes, n) }))
	o.AddSubject()
	o.AddSubject()
	o.RemoveSubject(1)
	assert.Equal(t, []int{1, 2, 1}, sizes)
}
