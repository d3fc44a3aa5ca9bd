// Package metrics provides the Prometheus collectors for faunavision.
package metrics

// Recorder is the narrow interface components record through, so they can
// be tested without a Prometheus registry.
type Recorder interface {
	// RecordOperation counts an operation by outcome, e.g. ("analysis", "success").
	RecordOperation(operation, status string)

	// RecordDuration observes how long an operation took in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError counts a failure by kind, e.g. ("submit", "validation").
	RecordError(operation, errorType string)
}
