// Package subject implements the per-subject analysis lifecycle:
//
//	Idle --Submit--> Analyzing --success--> Succeeded
//	                 Analyzing --failure/Cancel/timeout--> Failed
//	Succeeded|Failed --SetVideo--> Idle
//
// Every mutation is applied atomically under the controller's lock. The only
// asynchronous work is the analyzer call, which runs in its own goroutine and
// reports back tagged with the generation it was started under; completions
// from superseded generations are dropped.
package subject

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faunavision/faunavision-go/internal/analyzer"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
	"github.com/faunavision/faunavision-go/internal/observability/metrics"
	"github.com/faunavision/faunavision-go/internal/validation"
)

const component = "subject"

// Analyzer performs one remote analysis. *analyzer.Client implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req analyzer.Request) (*model.AnalysisResult, error)
}

// Observer receives a snapshot after every state change. It is called with
// the controller lock held, so it must not block or call back into the
// controller.
type Observer func(model.Subject)

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger; the default is the global "subject" module.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder reports submissions and outcomes to r.
func WithRecorder(r metrics.Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

// WithObserver registers fn for state-change notifications.
func WithObserver(fn Observer) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// WithTimeout bounds each analysis. The default is analyzer.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Controller owns one subject's state
type Controller struct {
	analyzer Analyzer
	log      logger.Logger
	recorder metrics.Recorder
	observer Observer
	timeout  time.Duration

	mu    sync.Mutex
	state model.Subject

	// videoRev counts attachment replacements; an outcome computed for an
	// older recording is not applied.
	videoRev    uint64
	inflightRev uint64
	cancel      context.CancelFunc
	started     time.Time
	idle        chan struct{}
	closed      bool

	wg sync.WaitGroup
}

// New returns an idle controller for subject id.
func New(id int, a Analyzer, opts ...Option) *Controller {
	c := &Controller{
		analyzer: a,
		timeout:  analyzer.DefaultTimeout,
		state:    model.NewSubject(id),
		idle:     closedChan(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module(component)
	}
	c.log = c.log.With(logger.Int("subject_id", id))
	return c
}

// ID returns the subject id.
func (c *Controller) ID() int {
	return c.state.ID
}

// Snapshot returns an immutable copy of the current state.
func (c *Controller) Snapshot() model.Subject {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// SetParameter updates one descriptive field. Status, result and last error
// are left as they are, including while an analysis runs: the in-flight
// request keeps the parameters captured at submission.
func (c *Controller) SetParameter(field model.Field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if !c.state.Parameters.Set(field, value) {
		return errors.Newf("unknown parameter %q", field).
			Component(component).
			Category(errors.CategoryValidation).
			Context("field", string(field)).
			Build()
	}

	c.state.LastValidation = nil
	c.changedLocked()
	return nil
}

// SetVideo validates and attaches v. A rejected video leaves the previous
// attachment and result untouched. An accepted one clears the result and
// last error and returns a finished subject to Idle. While analyzing, the
// status is kept and the running request's eventual outcome is dropped.
func (c *Controller) SetVideo(v *model.VideoAttachment) error {
	if err := validation.ValidateVideo(v); err != nil {
		c.recordError(metrics.OpSetVideo, err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenLocked(); err != nil {
		return err
	}

	c.state.Video = v
	c.state.Result = nil
	c.state.LastError = nil
	c.state.LastValidation = nil
	c.videoRev++
	if c.state.Status == model.StatusSucceeded || c.state.Status == model.StatusFailed {
		c.state.Status = model.StatusIdle
	}

	c.log.Debug("video attached",
		logger.String("video", v.Name),
		logger.Int64("video_size", v.Size))
	c.changedLocked()
	return nil
}

// Submit starts an analysis of the current parameters and video. It fails
// without contacting the service when an analysis is already running or
// when the subject is not submittable.
func (c *Controller) Submit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenLocked(); err != nil {
		return err
	}

	if c.state.Status == model.StatusAnalyzing {
		err := errors.New(errors.NewStd("analysis already in progress")).
			Component(component).
			Category(errors.CategoryValidation).
			Context("status", c.state.Status.String()).
			Build()
		c.recordError(metrics.OpSubmit, err)
		return err
	}

	if err := validation.CheckSubmittable(&c.state); err != nil {
		c.recordError(metrics.OpSubmit, err)
		c.state.LastValidation = toSubjectError(err)
		c.changedLocked()
		return err
	}

	c.state.Status = model.StatusAnalyzing
	c.state.LastError = nil
	c.state.LastValidation = nil
	c.state.Generation++

	gen := c.state.Generation
	req := analyzer.Request{
		SubjectID:  c.state.ID,
		Parameters: c.state.Parameters,
		Video:      c.state.Video,
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	c.cancel = cancel
	c.inflightRev = c.videoRev
	c.started = time.Now()
	c.idle = make(chan struct{})

	c.log.Info("analysis submitted",
		logger.Uint64("generation", gen),
		logger.String("species", req.Parameters.Species))
	if c.recorder != nil {
		c.recorder.RecordOperation(metrics.OpSubmit, metrics.StatusStarted)
	}

	c.wg.Go(func() {
		c.run(ctx, gen, req)
	})

	c.changedLocked()
	return nil
}

// Cancel aborts the running analysis and marks the subject Failed. It fails
// when nothing is running.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkOpenLocked(); err != nil {
		return err
	}
	if c.state.Status != model.StatusAnalyzing {
		return errors.New(errors.NewStd("no analysis in progress")).
			Component(component).
			Category(errors.CategoryValidation).
			Context("status", c.state.Status.String()).
			Build()
	}

	c.stopLocked()
	c.state.Status = model.StatusFailed
	c.state.LastError = &model.SubjectError{
		Kind:    model.KindTimeout,
		Message: "analysis was canceled",
	}

	c.log.Info("analysis canceled", logger.Uint64("generation", c.state.Generation))
	c.recordOutcome(metrics.StatusCanceled, model.KindTimeout)
	c.changedLocked()
	return nil
}

// Wait blocks until no analysis is running or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any running analysis, drops its outcome and waits for its
// goroutine to exit. The controller rejects further mutations.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	if c.state.Status == model.StatusAnalyzing {
		c.log.Debug("canceling analysis of removed subject")
		c.stopLocked()
	}
	c.mu.Unlock()

	c.wg.Wait()
}

type outcome struct {
	result *model.AnalysisResult
	err    error
}

// run calls the analyzer and applies its outcome. The deadline is enforced
// here as well, so an analyzer that ignores ctx still yields a timeout on
// schedule; its late answer is then discarded.
func (c *Controller) run(ctx context.Context, gen uint64, req analyzer.Request) {
	done := make(chan outcome, 1)
	go func() {
		result, err := c.analyzer.Analyze(ctx, req)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if errors.Is(out.err, context.DeadlineExceeded) && !errors.IsCategory(out.err, errors.CategoryTimeout) {
			out.err = c.timeoutError()
		}
		c.complete(gen, out)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.complete(gen, outcome{err: c.timeoutError()})
		}
		<-done
	}
}

func (c *Controller) complete(gen uint64, out outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.state.Generation || c.state.Status != model.StatusAnalyzing {
		c.log.Debug("discarding stale analysis outcome", logger.Uint64("generation", gen))
		return
	}

	elapsed := time.Since(c.started)
	c.stopLocked()

	if c.inflightRev != c.videoRev {
		// the recording changed while it was being analysed
		c.state.Status = model.StatusIdle
		c.log.Info("discarding outcome for replaced video", logger.Uint64("generation", gen))
		c.recordOutcome(metrics.StatusDiscarded, "")
		c.changedLocked()
		return
	}

	if out.err == nil && out.result == nil {
		out.err = errors.New(errors.NewStd("analysis service returned no result")).
			Component(component).
			Category(errors.CategoryParsing).
			Build()
	}

	if out.err != nil {
		subjErr := toSubjectError(out.err)
		c.state.Status = model.StatusFailed
		c.state.LastError = subjErr
		c.log.Warn("analysis failed",
			logger.Uint64("generation", gen),
			logger.String("kind", string(subjErr.Kind)),
			logger.Duration("elapsed", elapsed),
			logger.Error(out.err))
		c.recordOutcome(metrics.StatusFailure, subjErr.Kind)
	} else {
		c.state.Status = model.StatusSucceeded
		c.state.Result = out.result
		c.state.LastError = nil
		c.log.Info("analysis succeeded",
			logger.Uint64("generation", gen),
			logger.String("verdict", string(out.result.HealthVerdict())),
			logger.Duration("elapsed", elapsed))
		c.recordOutcome(metrics.StatusSuccess, "")
	}

	if c.recorder != nil {
		c.recorder.RecordDuration(metrics.OpAnalysis, elapsed.Seconds())
	}
	c.changedLocked()
}

// stopLocked cancels the in-flight request and releases Wait callers.
func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	select {
	case <-c.idle:
	default:
		close(c.idle)
	}
}

func (c *Controller) changedLocked() {
	c.state.Version++
	if c.observer != nil {
		c.observer(c.state.Clone())
	}
}

func (c *Controller) checkOpenLocked() error {
	if c.closed {
		return errors.Newf("subject %d has been removed", c.state.ID).
			Component(component).
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

func (c *Controller) timeoutError() error {
	return errors.New(fmt.Errorf("analysis timed out after %s", c.timeout)).
		Component(component).
		Category(errors.CategoryTimeout).
		Build()
}

func (c *Controller) recordOutcome(status string, kind model.ErrorKind) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordOperation(metrics.OpAnalysis, status)
	if kind != "" {
		c.recorder.RecordError(metrics.OpAnalysis, string(kind))
	}
}

func (c *Controller) recordError(op string, err error) {
	if c.recorder != nil {
		c.recorder.RecordError(op, string(KindOf(err)))
	}
}

// KindOf maps an error onto the subject error taxonomy.
func KindOf(err error) model.ErrorKind {
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return model.KindValidation
	case errors.CategoryTimeout:
		return model.KindTimeout
	case errors.CategoryNetwork:
		return model.KindNetwork
	case errors.CategoryHTTP:
		return model.KindServer
	case errors.CategoryParsing:
		return model.KindParse
	default:
		return model.KindUnknown
	}
}

func toSubjectError(err error) *model.SubjectError {
	return &model.SubjectError{
		Kind:    KindOf(err),
		Message: err.Error(),
		Field:   validation.FieldOf(err),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
