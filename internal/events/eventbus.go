package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
)

// DefaultBufferSize is the queue length used when none is configured.
const DefaultBufferSize = 1024

// ErrShutdownTimeout is returned when the worker does not drain in time.
var ErrShutdownTimeout = errors.NewStd("event bus shutdown timeout exceeded")

// Config holds event bus configuration
type Config struct {
	BufferSize int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{BufferSize: DefaultBufferSize}
}

// EventBus provides asynchronous event processing with non-blocking
// publishing. A single worker delivers events in publish order, so consumers
// see each subject's snapshots in the order they were produced.
type EventBus struct {
	eventChan chan Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []EventConsumer

	stats EventBusStats

	logger logger.Logger
}

// New creates a bus and starts its worker.
func New(cfg Config, log logger.Logger) *EventBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if log == nil {
		log = logger.Global().Module("events")
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		eventChan: make(chan Event, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log,
	}

	eb.running.Store(true)
	eb.wg.Add(1)
	go eb.worker()

	eb.logger.Debug("event bus started", logger.Int("buffer_size", cfg.BufferSize))
	return eb
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	eb.logger.Info("registered event consumer", logger.String("consumer", consumer.Name()))
	return nil
}

// UnregisterConsumer removes the consumer with the given name. It reports
// whether one was found.
func (eb *EventBus) UnregisterConsumer(name string) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, existing := range eb.consumers {
		if existing.Name() == name {
			eb.consumers = append(eb.consumers[:i], eb.consumers[i+1:]...)
			return true
		}
	}
	return false
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped.
func (eb *EventBus) TryPublish(event Event) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		eb.logger.Debug("event dropped due to full buffer",
			logger.String("kind", string(event.Kind)),
			logger.Int("subject_id", event.SubjectID))
		return false
	}
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.ctx.Done():
			eb.drain()
			return
		case event := <-eb.eventChan:
			eb.processEvent(event)
		}
	}
}

// drain delivers what was queued before shutdown.
func (eb *EventBus) drain() {
	for {
		select {
		case event := <-eb.eventChan:
			eb.processEvent(event)
		default:
			return
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event Event) {
	eb.mu.Lock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					eb.logger.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("kind", string(event.Kind)))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				eb.logger.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("kind", string(event.Kind)),
					logger.Error(err))
				return
			}
			atomic.AddUint64(&eb.stats.EventsProcessed, 1)
		}()
	}
}

// Shutdown stops accepting events, delivers the queued ones and waits for
// the worker up to timeout.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb == nil || !eb.running.Swap(false) {
		return nil
	}

	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.logger.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	if eb == nil {
		return EventBusStats{}
	}
	return EventBusStats{
		EventsReceived:  atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsProcessed: atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:   atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:  atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}
