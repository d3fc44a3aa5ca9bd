// Package alert sends push notifications through shoutrrr when an analysis
// finds an animal unhealthy or, optionally, when an analysis fails.
package alert

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	"golang.org/x/time/rate"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/events"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
)

const (
	defaultQueueSize = 32
	defaultTimeout   = 10 * time.Second
	maxReasoningLen  = 500

	defaultRequestsPerMinute = 60
	defaultBurstSize         = 10
)

// Sender delivers one message to every configured service.
// *router.ServiceRouter from shoutrrr implements it.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Config controls which outcomes raise an alert.
type Config struct {
	// URLs are shoutrrr service URLs, e.g. telegram://token@telegram?chats=123
	URLs []string
	// OnFailure also alerts when an analysis fails
	OnFailure bool
	Timeout   time.Duration

	// RequestsPerMinute and BurstSize bound delivery; zero uses 60 and 10
	RequestsPerMinute int
	BurstSize         int
}

func (c Config) limiter() *rate.Limiter {
	rpm, burst := c.RequestsPerMinute, c.BurstSize
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}
	if burst <= 0 {
		burst = defaultBurstSize
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
}

// NewShoutrrrSender builds a router for urls. Credentials in the URLs never
// appear in returned errors.
func NewShoutrrrSender(cfg Config) (Sender, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.Newf("at least one alert URL is required").
			Component("alert").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(cfg.URLs...)
	if err != nil {
		return nil, errors.New(redactError(err, cfg.URLs)).
			Component("alert").
			Category(errors.CategoryConfiguration).
			Context("services", strings.Join(schemes(cfg.URLs), ",")).
			Build()
	}
	sender.Timeout = cfg.Timeout
	if sender.Timeout <= 0 {
		sender.Timeout = defaultTimeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return sender, nil
}

// Counter receives alert outcomes. *metrics.AlertMetrics implements it.
type Counter interface {
	RecordAlert(reason, status string)
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the notifier logger.
func WithLogger(l logger.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithCounter records alert outcomes.
func WithCounter(c Counter) Option {
	return func(n *Notifier) { n.counter = c }
}

// Reasons an alert is raised.
const (
	ReasonUnhealthy = "unhealthy"
	ReasonFailed    = "failed"
)

// Alert outcome labels.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
	StatusLimited = "limited"
)

// Alert is one rendered notification.
type Alert struct {
	SubjectID int
	Reason    string
	Title     string
	Message   string
}

// Notifier is an events consumer that turns finished subjects into alerts.
// Delivery happens on its own worker so a slow service never blocks the bus.
type Notifier struct {
	sender Sender
	cfg    Config
	queue  chan Alert
	limit  *rate.Limiter

	mu      sync.Mutex
	alerted map[int]uint64

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	counter Counter
}

// New creates a notifier. Call Start before events arrive.
func New(sender Sender, cfg Config, opts ...Option) *Notifier {
	n := &Notifier{
		sender:  sender,
		cfg:     cfg,
		queue:   make(chan Alert, defaultQueueSize),
		limit:   cfg.limiter(),
		alerted: make(map[int]uint64),
		logger:  logger.Global().Module("alert"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements events.EventConsumer.
func (n *Notifier) Name() string { return "alert" }

// ProcessEvent implements events.EventConsumer. Each submission alerts at
// most once.
func (n *Notifier) ProcessEvent(e events.Event) error {
	if e.Kind == events.KindSubjectRemoved {
		n.mu.Lock()
		delete(n.alerted, e.SubjectID)
		n.mu.Unlock()
		return nil
	}
	if !e.Finished() {
		return nil
	}

	a, ok := n.Render(e.Subject)
	if !ok {
		return nil
	}

	n.mu.Lock()
	if gen, seen := n.alerted[e.SubjectID]; seen && gen == e.Subject.Generation {
		n.mu.Unlock()
		return nil
	}
	n.alerted[e.SubjectID] = e.Subject.Generation
	n.mu.Unlock()

	select {
	case n.queue <- a:
	default:
		n.record(a.Reason, StatusDropped)
		n.logger.Warn("alert queue full, alert dropped", logger.Int("subject_id", a.SubjectID))
	}
	return nil
}

// Render builds the alert for s, if its outcome warrants one.
func (n *Notifier) Render(s *model.Subject) (Alert, bool) {
	name := s.DisplayName
	if species := strings.TrimSpace(s.Parameters.Species); species != "" {
		name += " (" + species + ")"
	}

	switch {
	case s.Status == model.StatusSucceeded && s.Result.HealthVerdict() == model.VerdictUnhealthy:
		var b strings.Builder
		r := s.Result
		fmt.Fprintf(&b, "Confidence: %s%%\n", strconv.FormatFloat(r.Confidence*100, 'f', 0, 64))
		if r.BehaviorObserved != "" {
			fmt.Fprintf(&b, "Behavior: %s\n", r.BehaviorObserved)
		}
		if r.Reasoning != "" {
			fmt.Fprintf(&b, "Reasoning: %s\n", clip(r.Reasoning, maxReasoningLen))
		}
		if items := r.RecommendationItems(); len(items) > 0 {
			b.WriteString("Recommendations:\n")
			for _, item := range items {
				fmt.Fprintf(&b, "- %s\n", item)
			}
		}
		return Alert{
			SubjectID: s.ID,
			Reason:    ReasonUnhealthy,
			Title:     name + " may be unhealthy",
			Message:   strings.TrimRight(b.String(), "\n"),
		}, true

	case s.Status == model.StatusFailed && n.cfg.OnFailure && s.LastError != nil:
		return Alert{
			SubjectID: s.ID,
			Reason:    ReasonFailed,
			Title:     "Analysis of " + name + " failed",
			Message:   fmt.Sprintf("%s (%s)", s.LastError.Message, s.LastError.Kind),
		}, true
	}
	return Alert{}, false
}

// Start begins delivering queued alerts.
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.wg.Go(func() { n.run(ctx) })
}

// Stop ends the worker; queued alerts are dropped.
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}

func (n *Notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-n.queue:
			n.send(a)
		}
	}
}

func (n *Notifier) send(a Alert) {
	if !n.limit.Allow() {
		n.record(a.Reason, StatusLimited)
		n.logger.Warn("alert rate limit reached, alert dropped", logger.Int("subject_id", a.SubjectID))
		return
	}

	params := stypes.Params{}
	params.SetTitle(a.Title)

	var failures []error
	for _, err := range n.sender.Send(a.Message, &params) {
		if err != nil {
			failures = append(failures, redactError(err, n.cfg.URLs))
		}
	}
	if len(failures) > 0 {
		n.record(a.Reason, StatusFailed)
		n.logger.Warn("alert delivery failed",
			logger.Int("subject_id", a.SubjectID),
			logger.String("reason", a.Reason),
			logger.Int("failed_services", len(failures)),
			logger.Error(errors.Join(failures...)))
		return
	}
	n.record(a.Reason, StatusSent)
	n.logger.Info("alert sent",
		logger.Int("subject_id", a.SubjectID),
		logger.String("reason", a.Reason))
}

func (n *Notifier) record(reason, status string) {
	if n.counter != nil {
		n.counter.RecordAlert(reason, status)
	}
}

// redactError replaces every configured URL in err with its scheme.
func redactError(err error, urls []string) error {
	msg := err.Error()
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, raw, redactURL(raw))
	}
	return errors.NewStd(msg)
}

func redactURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return u.Scheme + "://[redacted]"
	}
	return "[redacted]"
}

func schemes(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
			out = append(out, u.Scheme)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func clip(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
