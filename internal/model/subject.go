// Package model defines the subject data shared by the analysis pipeline:
// parameters, video attachments, lifecycle status and analysis results.
// Values in this package are plain data; behaviour lives in the controller
// packages.
package model

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a subject
type Status int

const (
	// StatusIdle means no analysis is running and no verdict is current
	StatusIdle Status = iota
	// StatusAnalyzing means exactly one request is in flight
	StatusAnalyzing
	// StatusSucceeded means Result holds the verdict for the current video
	StatusSucceeded
	// StatusFailed means LastError explains why the latest submission failed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAnalyzing:
		return "analyzing"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "idle":
		*s = StatusIdle
	case "analyzing":
		*s = StatusAnalyzing
	case "succeeded":
		*s = StatusSucceeded
	case "failed":
		*s = StatusFailed
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Field names a descriptive parameter. The values double as the multipart
// field names sent to the analysis service.
type Field string

const (
	FieldSpecies          Field = "species"
	FieldAge              Field = "age"
	FieldDiet             Field = "diet"
	FieldHealthConditions Field = "health_conditions"

	// FieldVideo is not a parameter; it identifies the attachment in
	// validation errors and in the multipart body.
	FieldVideo Field = "video"
)

// ParameterFields lists the editable parameters in form order.
var ParameterFields = []Field{FieldSpecies, FieldAge, FieldDiet, FieldHealthConditions}

// ParseField resolves a parameter name. It rejects FieldVideo.
func ParseField(name string) (Field, bool) {
	f := Field(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case FieldSpecies, FieldAge, FieldDiet, FieldHealthConditions:
		return f, true
	default:
		return "", false
	}
}

// Parameters are the operator-entered descriptors of a subject. Only Species
// is required for submission.
type Parameters struct {
	Species          string `json:"species" yaml:"species"`
	Age              string `json:"age" yaml:"age"`
	Diet             string `json:"diet" yaml:"diet"`
	HealthConditions string `json:"health_conditions" yaml:"health_conditions"`
}

// Get returns the value of f.
func (p Parameters) Get(f Field) string {
	switch f {
	case FieldSpecies:
		return p.Species
	case FieldAge:
		return p.Age
	case FieldDiet:
		return p.Diet
	case FieldHealthConditions:
		return p.HealthConditions
	default:
		return ""
	}
}

// Set assigns value to f and reports whether f is a parameter.
func (p *Parameters) Set(f Field, value string) bool {
	switch f {
	case FieldSpecies:
		p.Species = value
	case FieldAge:
		p.Age = value
	case FieldDiet:
		p.Diet = value
	case FieldHealthConditions:
		p.HealthConditions = value
	default:
		return false
	}
	return true
}

// ErrorKind classifies a subject failure
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTimeout    ErrorKind = "timeout"
	KindNetwork    ErrorKind = "network"
	KindServer     ErrorKind = "server"
	KindParse      ErrorKind = "parse"
	KindUnknown    ErrorKind = "unknown"
)

// SubjectError is the per-subject record of the last failure
type SubjectError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	// Field names the missing input for validation failures
	Field string `json:"field,omitempty"`
}

func (e *SubjectError) Error() string {
	return e.Message
}

// Subject is an immutable snapshot of one animal under observation.
type Subject struct {
	ID          int              `json:"id"`
	DisplayName string           `json:"display_name"`
	Parameters  Parameters       `json:"parameters"`
	Video       *VideoAttachment `json:"video,omitempty"`
	Result      *AnalysisResult  `json:"result,omitempty"`
	Status      Status           `json:"status"`
	LastError   *SubjectError    `json:"last_error,omitempty"`

	// LastValidation is the most recent submission refused before any
	// request was sent. It never changes Status and is cleared by the next
	// accepted edit or submission.
	LastValidation *SubjectError `json:"last_validation,omitempty"`

	// Generation identifies the latest submission
	Generation uint64 `json:"generation"`
	// Version increases on every observable change
	Version uint64 `json:"version"`
}

// DisplayNameFor returns the label shown for a subject id.
func DisplayNameFor(id int) string {
	return fmt.Sprintf("Animal %d", id)
}

// NewSubject returns an idle subject with empty parameters.
func NewSubject(id int) Subject {
	return Subject{
		ID:          id,
		DisplayName: DisplayNameFor(id),
		Status:      StatusIdle,
	}
}

// Clone returns a deep copy so snapshots never share mutable state.
func (s Subject) Clone() Subject {
	out := s
	out.Result = s.Result.Clone()
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	if s.LastValidation != nil {
		e := *s.LastValidation
		out.LastValidation = &e
	}
	// attachments are immutable once built
	return out
}
