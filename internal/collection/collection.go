// Package collection holds the ordered set of subjects under observation and
// the onboarding signal raised whenever the set becomes empty.
package collection

import (
	"sync"

	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
	"github.com/faunavision/faunavision-go/internal/subject"
)

// Factory builds the controller for a newly allocated id.
type Factory func(id int) *subject.Controller

// ChangeKind tells a listener what happened to the collection.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
)

// Change describes one add or remove. OnboardingChanged is set when the
// onboarding signal flipped as part of it.
type Change struct {
	Kind              ChangeKind
	SubjectID         int
	Subject           *model.Subject
	Onboarding        bool
	OnboardingChanged bool
	Version           uint64
}

// Listener is notified of every change with the collection lock held; it
// must not block or call back into the collection.
type Listener func(Change)

// Snapshot is a consistent view of the whole collection.
type Snapshot struct {
	Version    uint64          `json:"version"`
	Onboarding bool            `json:"onboarding"`
	Subjects   []model.Subject `json:"subjects"`
}

// Option configures a Collection
type Option func(*Collection)

// WithListener registers fn for add and remove notifications.
func WithListener(fn Listener) Option {
	return func(c *Collection) {
		c.listener = fn
	}
}

// WithSizeObserver reports the number of subjects after every change.
func WithSizeObserver(fn func(int)) Option {
	return func(c *Collection) {
		c.sizeObserver = fn
	}
}

// WithLogger sets the logger; the default is the global "collection" module.
func WithLogger(l logger.Logger) Option {
	return func(c *Collection) {
		if l != nil {
			c.log = l
		}
	}
}

// Collection is an insertion-ordered set of subject controllers.
type Collection struct {
	factory      Factory
	listener     Listener
	sizeObserver func(int)
	log          logger.Logger

	mu          sync.RWMutex
	order       []int
	controllers map[int]*subject.Controller
	highWater   int
	onboarding  bool
	version     uint64
}

// New returns an empty collection with the onboarding signal asserted.
func New(factory Factory, opts ...Option) *Collection {
	c := &Collection{
		factory:     factory,
		controllers: make(map[int]*subject.Controller),
		onboarding:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("collection")
	}
	return c
}

// Create appends a new idle subject and returns its snapshot. Ids are never
// reused, even after the subject with the highest id was removed.
func (c *Collection) Create() model.Subject {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextIDLocked()
	ctrl := c.factory(id)
	c.controllers[id] = ctrl
	c.order = append(c.order, id)
	c.version++

	flipped := c.onboarding
	c.onboarding = false

	snap := ctrl.Snapshot()
	c.log.Info("subject created", logger.Int("subject_id", id), logger.Int("count", len(c.order)))
	c.notifyLocked(Change{
		Kind:              Added,
		SubjectID:         id,
		Subject:           &snap,
		OnboardingChanged: flipped,
	})
	return snap
}

func (c *Collection) nextIDLocked() int {
	maxID := c.highWater
	for _, id := range c.order {
		maxID = max(maxID, id)
	}
	c.highWater = maxID + 1
	return c.highWater
}

// Remove drops the subject and cancels its analysis, if any. Unknown ids
// are a no-op and return false.
func (c *Collection) Remove(id int) bool {
	c.mu.Lock()
	ctrl, ok := c.controllers[id]
	if !ok {
		c.mu.Unlock()
		return false
	}

	delete(c.controllers, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.version++

	flipped := len(c.order) == 0
	if flipped {
		c.onboarding = true
	}

	c.log.Info("subject removed", logger.Int("subject_id", id), logger.Int("count", len(c.order)))
	c.notifyLocked(Change{
		Kind:              Removed,
		SubjectID:         id,
		OnboardingChanged: flipped,
	})
	c.mu.Unlock()

	// Close waits for the analysis goroutine, which may need the
	// controller lock, so it runs outside the collection lock.
	ctrl.Close()
	return true
}

func (c *Collection) notifyLocked(ch Change) {
	ch.Onboarding = c.onboarding
	ch.Version = c.version
	if c.listener != nil {
		c.listener(ch)
	}
	if c.sizeObserver != nil {
		c.sizeObserver(len(c.order))
	}
}

// Get returns the controller for id.
func (c *Collection) Get(id int) (*subject.Controller, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ctrl, ok := c.controllers[id]
	return ctrl, ok
}

// List returns snapshots of all subjects in insertion order.
func (c *Collection) List() []model.Subject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listLocked()
}

func (c *Collection) listLocked() []model.Subject {
	out := make([]model.Subject, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.controllers[id].Snapshot())
	}
	return out
}

// Controllers returns the controllers in insertion order.
func (c *Collection) Controllers() []*subject.Controller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*subject.Controller, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.controllers[id])
	}
	return out
}

// Len returns the number of subjects.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Onboarding reports whether the onboarding signal is asserted.
func (c *Collection) Onboarding() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.onboarding
}

// Snapshot returns the version, onboarding flag and subjects atomically with
// respect to adds and removes.
func (c *Collection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Version:    c.version,
		Onboarding: c.onboarding,
		Subjects:   c.listLocked(),
	}
}

// Close closes every controller, canceling running analyses. Subjects stay
// listed, but their controllers reject further mutations.
func (c *Collection) Close() {
	for _, ctrl := range c.Controllers() {
		ctrl.Close()
	}
}
