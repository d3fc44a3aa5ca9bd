package errors

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu      sync.Mutex
	enabled bool
	seen    []*EnhancedError
}

func (r *recordingReporter) ReportError(err *EnhancedError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, err)
}

func (r *recordingReporter) IsEnabled() bool { return r.enabled }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("boom")).Build()

	assert.Equal(t, "boom", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestCategoryMatching(t *testing.T) {
	base := fmt.Errorf("connection refused")
	ee := NetworkError(base, "http://localhost:5000/analyze", 5*time.Minute)

	wrapped := fmt.Errorf("submit: %w", ee)

	assert.True(t, IsCategory(wrapped, CategoryNetwork))
	assert.False(t, IsCategory(wrapped, CategoryTimeout))
	assert.Equal(t, CategoryNetwork, CategoryOf(wrapped))
	assert.True(t, Is(wrapped, base), "wrapped cause stays reachable")
	assert.True(t, Is(wrapped, &EnhancedError{Category: CategoryNetwork}))
	assert.False(t, IsCategory(nil, CategoryNetwork))

	url, ok := ee.ContextValue("url")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:5000/analyze", url)
}

func TestContextIsCopied(t *testing.T) {
	ee := New(fmt.Errorf("bad")).Context("field", "species").Build()

	ctx := ee.GetContext()
	ctx["field"] = "mutated"

	v, _ := ee.ContextValue("field")
	assert.Equal(t, "species", v)
}

func TestReporterReceivesBuiltErrors(t *testing.T) {
	rep := &recordingReporter{enabled: true}
	SetTelemetryReporter(rep)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	_ = ValidationError("Please enter the animal species")
	_ = Newf("status %d", 500).Category(CategoryHTTP).Build()

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.Len(t, rep.seen, 2)
	assert.Equal(t, CategoryValidation, rep.seen[0].Category)
	assert.Equal(t, CategoryHTTP, rep.seen[1].Category)

	SetTelemetryReporter(&recordingReporter{enabled: false})
	_ = ValidationError("ignored")
	assert.Len(t, rep.seen, 2)
}

func TestDisabledSentryReporter(t *testing.T) {
	rep, err := InitSentry("", "test")
	require.NoError(t, err)
	assert.False(t, rep.IsEnabled())

	ee := Newf("boom").Category(CategoryNetwork).Build()
	rep.ReportError(ee)
	assert.False(t, ee.IsReported())
}

func TestScrubURLs(t *testing.T) {
	got := scrubURLs("failed POST https://svc.example.com/analyze?token=abc: refused")
	assert.Equal(t, "failed POST https://svc.example.com/analyze?[REDACTED] refused", got)
}
