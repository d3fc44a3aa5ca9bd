package metrics

import (
	"fmt"
	"sync"
)

// TestRecorder is an in-memory Recorder for tests.
type TestRecorder struct {
	mu         sync.Mutex
	operations map[string]int
	durations  map[string][]float64
	errors     map[string]int
}

// NewTestRecorder creates an empty TestRecorder.
func NewTestRecorder() *TestRecorder {
	return &TestRecorder{
		operations: make(map[string]int),
		durations:  make(map[string][]float64),
		errors:     make(map[string]int),
	}
}

func (r *TestRecorder) RecordOperation(operation, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[key(operation, status)]++
}

func (r *TestRecorder) RecordDuration(operation string, seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] = append(r.durations[operation], seconds)
}

func (r *TestRecorder) RecordError(operation, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[key(operation, errorType)]++
}

// Operations returns how often operation was recorded with status.
func (r *TestRecorder) Operations(operation, status string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.operations[key(operation, status)]
}

// Durations returns a copy of the observed durations for operation.
func (r *TestRecorder) Durations(operation string) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.durations[operation]...)
}

// Errors returns how often operation failed with errorType.
func (r *TestRecorder) Errors(operation, errorType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors[key(operation, errorType)]
}

func key(a, b string) string {
	return fmt.Sprintf("%s:%s", a, b)
}

var _ Recorder = (*TestRecorder)(nil)
