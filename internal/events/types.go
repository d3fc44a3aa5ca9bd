// Package events provides an asynchronous event bus that decouples subject
// state changes from the adapters presenting them (SSE, MQTT, CLI).
package events

import (
	"time"

	"github.com/faunavision/faunavision-go/internal/model"
)

// Kind identifies what changed.
type Kind string

const (
	// KindSubjectAdded is published when a subject joins the collection.
	KindSubjectAdded Kind = "subject.added"
	// KindSubjectChanged carries a new snapshot of an existing subject.
	KindSubjectChanged Kind = "subject.changed"
	// KindSubjectRemoved is published after a subject left the collection.
	KindSubjectRemoved Kind = "subject.removed"
	// KindOnboarding reports a change of the onboarding signal.
	KindOnboarding Kind = "collection.onboarding"
)

// Event is an immutable notification. Subject is set for added and changed
// events; Onboarding is meaningful for every kind.
type Event struct {
	Kind              Kind           `json:"kind"`
	SubjectID         int            `json:"subject_id,omitempty"`
	Subject           *model.Subject `json:"subject,omitempty"`
	Onboarding        bool           `json:"onboarding"`
	CollectionVersion uint64         `json:"collection_version"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Finished reports whether the event carries a subject that just reached a
// terminal state.
func (e Event) Finished() bool {
	if e.Kind != KindSubjectChanged || e.Subject == nil {
		return false
	}
	return e.Subject.Status == model.StatusSucceeded || e.Subject.Status == model.StatusFailed
}

// EventConsumer processes events delivered by the bus.
type EventConsumer interface {
	// Name identifies the consumer in logs; it must be unique per bus.
	Name() string

	// ProcessEvent handles one event. It runs on the bus worker and should
	// not block for long.
	ProcessEvent(event Event) error
}

// ConsumerFunc adapts a function to EventConsumer.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(Event) error
}

func (c ConsumerFunc) Name() string                 { return c.ConsumerName }
func (c ConsumerFunc) ProcessEvent(event Event) error { return c.Fn(event) }

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
