package model

import "strings"

// HealthVerdict is the tri-state reading of AnalysisResult.IsHealthy
type HealthVerdict string

const (
	VerdictHealthy   HealthVerdict = "healthy"
	VerdictUnhealthy HealthVerdict = "unhealthy"
	VerdictUnknown   HealthVerdict = "unknown"
)

// AnalysisResult is the verdict returned by the analysis service, stored as
// received.
type AnalysisResult struct {
	Species          string  `json:"species"`
	BehaviorObserved string  `json:"behavior_observed"`
	LengthSeconds    float64 `json:"length_seconds"`
	LengthMinutes    float64 `json:"length_minutes"`
	IsRepeating      bool    `json:"is_repeating"`
	Confidence       float64 `json:"confidence"`
	// IsHealthy is nil when the service could not decide
	IsHealthy       *bool  `json:"is_healthy"`
	Reasoning       string `json:"reasoning"`
	Recommendations string `json:"recommendations"`
}

// HealthVerdict maps IsHealthy onto healthy, unhealthy or unknown.
func (r *AnalysisResult) HealthVerdict() HealthVerdict {
	switch {
	case r == nil || r.IsHealthy == nil:
		return VerdictUnknown
	case *r.IsHealthy:
		return VerdictHealthy
	default:
		return VerdictUnhealthy
	}
}

// RecommendationItems splits the newline-delimited recommendations into
// trimmed, non-empty items.
func (r *AnalysisResult) RecommendationItems() []string {
	if r == nil {
		return nil
	}
	var items []string
	for line := range strings.SplitSeq(r.Recommendations, "\n") {
		if item := strings.TrimSpace(line); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Clone returns a copy that does not share IsHealthy. A nil result clones
// to nil.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	if r.IsHealthy != nil {
		v := *r.IsHealthy
		out.IsHealthy = &v
	}
	return &out
}
