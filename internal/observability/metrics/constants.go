package metrics

// Operation labels.
const (
	// OpSubmit is a submission attempt, accepted or rejected.
	OpSubmit = "submit"
	// OpSetVideo is an attachment attempt.
	OpSetVideo = "set_video"
	// OpAnalysis is a completed, failed, canceled or discarded analysis.
	OpAnalysis = "analysis"
)

// Status labels.
const (
	StatusStarted   = "started"
	StatusSuccess   = "success"
	StatusFailure   = "failure"
	StatusCanceled  = "canceled"
	StatusDiscarded = "discarded"
)

// Histogram buckets for analysis durations: 0.5s doubling up to ~8.5 min,
// which spans the 5 minute request deadline.
const (
	BucketStart500ms = 0.5
	BucketFactor2    = 2
	BucketCount11    = 11

	// BucketStart1ms covers HTTP handler latencies.
	BucketStart1ms = 0.001
	BucketCount12  = 12
)
