// Package analyzer talks to the remote animal video analysis service. It
// uploads a subject's recording and parameters as a multipart form and maps
// every failure onto the validation, timeout, network, server and parse
// categories of the errors package.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/httpclient"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
)

const (
	// DefaultTimeout is the hard deadline for one analysis request.
	DefaultTimeout = 5 * time.Minute
	// DefaultHealthTimeout bounds a health probe.
	DefaultHealthTimeout = 10 * time.Second

	analyzePath = "/analyze"
	healthPath  = "/health"

	// RequestIDHeader carries a per-request correlation id
	RequestIDHeader = "X-Request-ID"

	maxErrorBodySize  = 64 << 10
	maxResultBodySize = 4 << 20

	component = "analyzer"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:5000
	BaseURL string
	// Timeout is the hard deadline per analysis; zero means DefaultTimeout
	Timeout   time.Duration
	UserAgent string
	// Transport overrides the HTTP transport, mainly for tests
	Transport http.RoundTripper
}

// Request is the payload captured at submission time.
type Request struct {
	SubjectID  int
	Parameters model.Parameters
	Video      *model.VideoAttachment
}

// HealthStatus is the service's self-reported state.
type HealthStatus struct {
	Status          string `json:"status"`
	VisionEngine    string `json:"vision_engine"`
	OpenAIAvailable bool   `json:"openai_available"`
}

// Healthy reports whether the service declared itself healthy.
func (h *HealthStatus) Healthy() bool {
	return h != nil && strings.EqualFold(h.Status, "healthy")
}

// Client is safe for concurrent use; every Analyze call is independent.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *httpclient.Client
	logger  logger.Logger
}

// New validates cfg and builds a client. log may be nil.
func New(cfg Config, log logger.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.Newf("invalid analysis service URL %q", cfg.BaseURL).
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if log == nil {
		log = logger.Global().Module(component)
	}

	return &Client{
		baseURL: base,
		timeout: timeout,
		http: httpclient.New(&httpclient.Config{
			DefaultTimeout: timeout,
			UserAgent:      cfg.UserAgent,
			Transport:      cfg.Transport,
		}),
		logger: log,
	}, nil
}

// BaseURL returns the normalised service root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Timeout returns the per-analysis deadline.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Observe registers a hook called after every HTTP exchange.
func (c *Client) Observe(h httpclient.Hook) {
	c.http.AddHook(h)
}

// Close releases pooled connections.
func (c *Client) Close() {
	c.http.Close()
}

// Analyze uploads req and returns the parsed verdict. The call is bounded by
// the configured timeout and by ctx; either ending it yields a timeout error.
func (c *Client) Analyze(ctx context.Context, req Request) (*model.AnalysisResult, error) {
	if req.Video == nil {
		return nil, errors.New(errors.NewStd("no video attached")).
			Component(component).
			Category(errors.CategoryValidation).
			Context("field", string(model.FieldVideo)).
			Build()
	}

	video, err := req.Video.Open()
	if err != nil {
		return nil, errors.New(fmt.Errorf("video could not be read: %w", err)).
			Component(component).
			Category(errors.CategoryValidation).
			Context("field", string(model.FieldVideo)).
			FileContext(req.Video.Name, req.Video.Size).
			Build()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.NewString()
	log := c.logger.With(
		logger.Int("subject_id", req.SubjectID),
		logger.String("request_id", requestID))

	body, contentType, finish := streamForm(req, video)
	defer finish()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzePath, body)
	if err != nil {
		return nil, errors.New(err).
			Component(component).
			Category(errors.CategoryConfiguration).
			Build()
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(RequestIDHeader, requestID)

	log.Info("submitting video for analysis",
		logger.String("species", req.Parameters.Species),
		logger.String("video", req.Video.Name),
		logger.Int64("video_size", req.Video.Size))

	start := time.Now()
	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		classified := c.classifyTransportError(ctx, err, time.Since(start))
		log.Warn("analysis request failed",
			logger.String("category", string(errors.CategoryOf(classified))),
			logger.Error(err))
		return nil, classified
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serverErr := c.serverError(resp)
		log.Warn("analysis service rejected request",
			logger.Int("status_code", resp.StatusCode),
			logger.Error(serverErr))
		return nil, serverErr
	}

	var result model.AnalysisResult
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBodySize))
	if err != nil && ctx.Err() != nil {
		return nil, c.contextError(ctx, time.Since(start))
	}
	if err == nil {
		err = decodeResult(data, &result)
	}
	if err != nil {
		log.Warn("analysis response could not be parsed", logger.Error(err))
		return nil, errors.New(fmt.Errorf("invalid response from analysis service: %w", err)).
			Component(component).
			Category(errors.CategoryParsing).
			Context("status_code", resp.StatusCode).
			Build()
	}

	log.Info("analysis completed",
		logger.String("verdict", string(result.HealthVerdict())),
		logger.Float64("confidence", result.Confidence),
		logger.Duration("elapsed", time.Since(start)))

	return &result, nil
}

// decodeResult accepts exactly one JSON object. Trailing data, a second
// value or a bare null are rejected.
func decodeResult(data []byte, result *model.AnalysisResult) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errors.NewStd("response body is not a JSON object")
	}
	return json.Unmarshal(trimmed, result)
}

// Health probes GET {baseURL}/health.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.Get(ctx, c.baseURL+healthPath)
	if err != nil {
		return nil, c.classifyTransportError(ctx, err, time.Since(start))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.serverError(resp)
	}

	var status HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBodySize)).Decode(&status); err != nil {
		return nil, errors.New(fmt.Errorf("invalid health response: %w", err)).
			Component(component).
			Category(errors.CategoryParsing).
			Build()
	}
	return &status, nil
}

// streamForm writes the multipart body from a goroutine so the video is
// never buffered whole. finish unblocks and waits for that goroutine; it must
// run after the response has been consumed.
func streamForm(req Request, video io.ReadCloser) (body *io.PipeReader, contentType string, finish func()) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer video.Close()
		pw.CloseWithError(writeForm(mw, req, video))
	}()

	finish = func() {
		_ = pr.Close()
		<-done
	}
	return pr, mw.FormDataContentType(), finish
}

func writeForm(mw *multipart.Writer, req Request, video io.Reader) error {
	part, err := mw.CreatePart(videoPartHeader(req.Video))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, video); err != nil {
		return err
	}

	for _, f := range model.ParameterFields {
		if err := mw.WriteField(string(f), req.Parameters.Get(f)); err != nil {
			return err
		}
	}
	return mw.Close()
}

func videoPartHeader(v *model.VideoAttachment) map[string][]string {
	name := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v.Name)
	mimeType := v.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="%s"; filename="%s"`, model.FieldVideo, name)},
		"Content-Type":        {mimeType},
	}
}

// classifyTransportError separates deadline and cancellation from genuine
// transport failures.
func (c *Client) classifyTransportError(ctx context.Context, err error, elapsed time.Duration) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return c.contextError(ctx, elapsed)
	}

	return errors.New(fmt.Errorf("analysis service unreachable: %w; check that the service is running at %s", err, c.baseURL)).
		Component(component).
		Category(errors.CategoryNetwork).
		NetworkContext(c.baseURL, c.timeout).
		Context("base_url", c.baseURL).
		Timing("analyze", elapsed).
		Build()
}

func (c *Client) contextError(ctx context.Context, elapsed time.Duration) error {
	msg := fmt.Sprintf("analysis timed out after %s", c.timeout)
	if errors.Is(ctx.Err(), context.Canceled) {
		msg = "analysis was canceled"
	}
	return errors.New(errors.NewStd(msg)).
		Component(component).
		Category(errors.CategoryTimeout).
		Context("base_url", c.baseURL).
		Timing("analyze", elapsed).
		Build()
}

// serverError prefers the service's {"error": "..."} message and falls back
// to the status line.
func (c *Client) serverError(resp *http.Response) error {
	msg := fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil && strings.TrimSpace(payload.Error) != "" {
		msg = payload.Error
	}

	return errors.New(errors.NewStd(msg)).
		Component(component).
		Category(errors.CategoryHTTP).
		Context("status_code", resp.StatusCode).
		Context("base_url", c.baseURL).
		Build()
}
