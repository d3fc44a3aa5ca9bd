package mqtt

import (
	"time"

	"github.com/faunavision/faunavision-go/internal/model"
)

// VerdictMessage is the payload published when a subject's analysis
// finishes. Failed analyses carry Error instead of the verdict fields.
type VerdictMessage struct {
	SubjectID   int    `json:"subjectId"`
	DisplayName string `json:"displayName"`
	Status      string `json:"status"`
	Generation  uint64 `json:"generation"`

	Species   string `json:"species"`
	Age       string `json:"age,omitempty"`
	Video     string `json:"video,omitempty"`
	Timestamp string `json:"timestamp"`
	Timezone  string `json:"timezone,omitempty"`

	Verdict         string   `json:"verdict,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
	Behavior        string   `json:"behavior,omitempty"`
	IsRepeating     bool     `json:"isRepeating,omitempty"`
	LengthSeconds   float64  `json:"lengthSeconds,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	Error *ErrorDTO `json:"error,omitempty"`
}

// ErrorDTO describes a failed analysis.
type ErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// NewVerdictMessage converts a finished subject snapshot.
func NewVerdictMessage(s *model.Subject, at time.Time) VerdictMessage {
	msg := VerdictMessage{
		SubjectID:   s.ID,
		DisplayName: s.DisplayName,
		Status:      s.Status.String(),
		Generation:  s.Generation,
		Species:     s.Parameters.Species,
		Age:         s.Parameters.Age,
		Timestamp:   at.Format(time.RFC3339),
		Timezone:    at.Location().String(),
	}
	if s.Video != nil {
		msg.Video = s.Video.Name
	}

	// a failure keeps the earlier result on the subject; it is not this run's
	if s.Status == model.StatusFailed {
		if s.LastError != nil {
			msg.Error = &ErrorDTO{
				Kind:    string(s.LastError.Kind),
				Message: s.LastError.Message,
				Field:   s.LastError.Field,
			}
		}
		return msg
	}

	if r := s.Result; r != nil {
		msg.Verdict = string(r.HealthVerdict())
		msg.Confidence = r.Confidence
		msg.Behavior = r.BehaviorObserved
		msg.IsRepeating = r.IsRepeating
		msg.LengthSeconds = r.LengthSeconds
		msg.Reasoning = r.Reasoning
		msg.Recommendations = r.RecommendationItems()
		if r.Species != "" {
			msg.Species = r.Species
		}
	}
	return msg
}
