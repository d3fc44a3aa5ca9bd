package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/faunavision/faunavision-go/internal/events"
	"github.com/faunavision/faunavision-go/internal/logger"
)

const (
	defaultQueueSize = 128
	// connectRetryInterval paces reconnect attempts from the publish worker
	connectRetryInterval = 10 * time.Second
)

// DropCounter counts verdicts that never reached the broker.
type DropCounter interface {
	IncrementDropped()
}

type message struct {
	topic   string
	payload string
}

// Publisher turns finished subjects into VerdictMessages. Each submission
// generation is published at most once.
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
	queue   chan message
	dropped DropCounter
	logger  logger.Logger

	mu        sync.Mutex
	published map[int]uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithDropCounter records verdicts lost to a full queue or a failed publish.
func WithDropCounter(d DropCounter) PublisherOption {
	return func(p *Publisher) { p.dropped = d }
}

// WithPublisherLogger overrides the package logger.
func WithPublisherLogger(l logger.Logger) PublisherOption {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithQueueSize sets how many verdicts may wait for the broker.
func WithQueueSize(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan message, n)
		}
	}
}

// NewPublisher creates a publisher for the given client and base topic.
// Start must be called before events are delivered.
func NewPublisher(c Client, cfg Config, opts ...PublisherOption) *Publisher {
	topic := strings.Trim(cfg.Topic, "/")
	if topic == "" {
		topic = DefaultTopic
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().PublishTimeout
	}

	p := &Publisher{
		client:    c,
		topic:     topic,
		timeout:   timeout,
		queue:     make(chan message, defaultQueueSize),
		logger:    GetLogger(),
		published: make(map[int]uint64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements events.EventConsumer.
func (p *Publisher) Name() string { return "mqtt" }

// VerdictTopic returns the topic a subject's verdicts are published on.
func (p *Publisher) VerdictTopic(subjectID int) string {
	return p.topic + "/subjects/" + strconv.Itoa(subjectID) + "/verdict"
}

// ProcessEvent implements events.EventConsumer. It never blocks: when the
// queue is full the verdict is dropped.
func (p *Publisher) ProcessEvent(e events.Event) error {
	if e.Kind == events.KindSubjectRemoved {
		p.mu.Lock()
		delete(p.published, e.SubjectID)
		p.mu.Unlock()
		return nil
	}
	if !e.Finished() {
		return nil
	}

	p.mu.Lock()
	if gen, ok := p.published[e.SubjectID]; ok && gen == e.Subject.Generation {
		p.mu.Unlock()
		return nil
	}
	p.published[e.SubjectID] = e.Subject.Generation
	p.mu.Unlock()

	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	payload, err := json.Marshal(NewVerdictMessage(e.Subject, at))
	if err != nil {
		return err
	}

	select {
	case p.queue <- message{topic: p.VerdictTopic(e.SubjectID), payload: string(payload)}:
	default:
		p.drop("publish queue full", e.SubjectID)
	}
	return nil
}

// Start connects in the background and begins publishing queued verdicts.
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Go(func() { p.run(ctx) })
}

// Stop ends the worker, dropping anything still queued, and disconnects.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.client.Disconnect()
}

func (p *Publisher) run(ctx context.Context) {
	p.ensureConnected(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-p.queue:
			if !p.ensureConnected(ctx) {
				p.drop("broker unavailable", 0)
				continue
			}
			pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
			err := p.client.Publish(pubCtx, msg.topic, msg.payload)
			cancel()
			if err != nil {
				p.drop("publish failed", 0)
				p.logger.Warn("verdict not published",
					logger.String("topic", msg.topic),
					logger.Error(err))
			}
		}
	}
}

// ensureConnected reports whether the client is usable, attempting one
// connect if it is not. Connect enforces its own cooldown.
func (p *Publisher) ensureConnected(ctx context.Context) bool {
	if p.client.IsConnected() {
		return true
	}
	connCtx, cancel := context.WithTimeout(ctx, connectRetryInterval)
	defer cancel()
	if err := p.client.Connect(connCtx); err != nil {
		p.logger.Debug("MQTT connect failed", logger.Error(err))
		return false
	}
	return true
}

func (p *Publisher) drop(reason string, subjectID int) {
	if p.dropped != nil {
		p.dropped.IncrementDropped()
	}
	fields := []logger.Field{logger.String("reason", reason)}
	if subjectID > 0 {
		fields = append(fields, logger.Int("subject_id", subjectID))
	}
	p.logger.Debug("verdict dropped", fields...)
}
