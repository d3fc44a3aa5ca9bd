// Package orchestrator is the composition root of the subject lifecycle. It
// maps operator intents onto the collection and its controllers, addressed
// by subject id, and forwards every state change to the event bus.
package orchestrator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faunavision/faunavision-go/internal/collection"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/events"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
	"github.com/faunavision/faunavision-go/internal/observability/metrics"
	"github.com/faunavision/faunavision-go/internal/subject"
)

const component = "orchestrator"

// Publisher accepts events without blocking. *events.EventBus implements it.
type Publisher interface {
	TryPublish(event events.Event) bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger; the default is the global "orchestrator" module.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRecorder is handed to every controller.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithTimeout bounds each analysis.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// WithSizeObserver reports the collection size after every add or remove.
func WithSizeObserver(fn func(int)) Option {
	return func(o *Orchestrator) {
		o.sizeObserver = fn
	}
}

// Orchestrator owns the collection. It holds no validation or network logic
// of its own.
type Orchestrator struct {
	analyzer     subject.Analyzer
	publisher    Publisher
	log          logger.Logger
	recorder     metrics.Recorder
	timeout      time.Duration
	sizeObserver func(int)

	subjects *collection.Collection
}

// New wires a collection whose controllers use a and whose changes are
// published on p. p may be nil.
func New(a subject.Analyzer, p Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		analyzer:  a,
		publisher: p,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logger.Global().Module(component)
	}

	o.subjects = collection.New(o.newController,
		collection.WithListener(o.collectionChanged),
		collection.WithSizeObserver(o.sizeObserver),
		collection.WithLogger(o.log.Module("collection")))
	return o
}

func (o *Orchestrator) newController(id int) *subject.Controller {
	return subject.New(id, o.analyzer,
		subject.WithLogger(o.log.Module("subject")),
		subject.WithRecorder(o.recorder),
		subject.WithTimeout(o.timeout),
		subject.WithObserver(o.subjectChanged))
}

// subjectChanged runs under the controller lock.
func (o *Orchestrator) subjectChanged(s model.Subject) {
	o.publish(events.Event{
		Kind:      events.KindSubjectChanged,
		SubjectID: s.ID,
		Subject:   &s,
	})
}

// collectionChanged runs under the collection lock.
func (o *Orchestrator) collectionChanged(ch collection.Change) {
	e := events.Event{
		SubjectID:         ch.SubjectID,
		Subject:           ch.Subject,
		Onboarding:        ch.Onboarding,
		CollectionVersion: ch.Version,
	}
	switch ch.Kind {
	case collection.Added:
		e.Kind = events.KindSubjectAdded
	case collection.Removed:
		e.Kind = events.KindSubjectRemoved
	}
	o.publish(e)

	if ch.OnboardingChanged {
		o.publish(events.Event{
			Kind:              events.KindOnboarding,
			Onboarding:        ch.Onboarding,
			CollectionVersion: ch.Version,
		})
	}
}

func (o *Orchestrator) publish(e events.Event) {
	if o.publisher == nil {
		return
	}
	if !o.publisher.TryPublish(e) {
		o.log.Trace("event not delivered",
			logger.String("kind", string(e.Kind)),
			logger.Int("subject_id", e.SubjectID))
	}
}

// AddSubject appends a new idle subject.
func (o *Orchestrator) AddSubject() model.Subject {
	return o.subjects.Create()
}

// RemoveSubject removes the subject and cancels its analysis. Unknown ids
// return false.
func (o *Orchestrator) RemoveSubject(id int) bool {
	return o.subjects.Remove(id)
}

// Snapshot returns the whole collection.
func (o *Orchestrator) Snapshot() collection.Snapshot {
	return o.subjects.Snapshot()
}

// Subject returns one subject's snapshot.
func (o *Orchestrator) Subject(id int) (model.Subject, error) {
	ctrl, err := o.controller(id)
	if err != nil {
		return model.Subject{}, err
	}
	return ctrl.Snapshot(), nil
}

// Onboarding reports whether the collection is empty and should show the
// onboarding view.
func (o *Orchestrator) Onboarding() bool {
	return o.subjects.Onboarding()
}

func (o *Orchestrator) SetParameter(id int, field model.Field, value string) error {
	ctrl, err := o.controller(id)
	if err != nil {
		return err
	}
	return ctrl.SetParameter(field, value)
}

func (o *Orchestrator) SetVideo(id int, v *model.VideoAttachment) error {
	ctrl, err := o.controller(id)
	if err != nil {
		return err
	}
	return ctrl.SetVideo(v)
}

func (o *Orchestrator) Submit(id int) error {
	ctrl, err := o.controller(id)
	if err != nil {
		return err
	}
	return ctrl.Submit()
}

func (o *Orchestrator) Cancel(id int) error {
	ctrl, err := o.controller(id)
	if err != nil {
		return err
	}
	return ctrl.Cancel()
}

// Wait blocks until subject id has no analysis running.
func (o *Orchestrator) Wait(ctx context.Context, id int) error {
	ctrl, err := o.controller(id)
	if err != nil {
		return err
	}
	return ctrl.Wait(ctx)
}

// WaitAll blocks until no subject has an analysis running.
func (o *Orchestrator) WaitAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, ctrl := range o.subjects.Controllers() {
		g.Go(func() error {
			return ctrl.Wait(ctx)
		})
	}
	return g.Wait()
}

// Shutdown cancels every running analysis and waits for the goroutines to
// exit, or for ctx to end. Subjects are kept but reject further changes.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.subjects.Close()
		close(done)
	}()

	select {
	case <-done:
		o.log.Info("orchestrator stopped", logger.Int("subjects", o.subjects.Len()))
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component(component).
			Category(errors.CategoryTimeout).
			Build()
	}
}

func (o *Orchestrator) controller(id int) (*subject.Controller, error) {
	ctrl, ok := o.subjects.Get(id)
	if !ok {
		return nil, errors.Newf("subject %d not found", id).
			Component(component).
			Category(errors.CategoryNotFound).
			Context("subject_id", id).
			Build()
	}
	return ctrl, nil
}
