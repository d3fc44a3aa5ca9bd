package api

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	mw "github.com/faunavision/faunavision-go/internal/api/middleware"
	"github.com/faunavision/faunavision-go/internal/analyzer"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/events"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/observability"
	"github.com/faunavision/faunavision-go/internal/orchestrator"
)

// HealthChecker probes the remote analysis service. *analyzer.Client
// implements it.
type HealthChecker interface {
	Health(ctx context.Context) (*analyzer.HealthStatus, error)
	BaseURL() string
}

// Server is the HTTP front end of an Orchestrator.
type Server struct {
	echo   *echo.Echo
	config Config
	log    logger.Logger

	orch    *orchestrator.Orchestrator
	health  HealthChecker
	bus     *events.EventBus
	metrics *observability.Metrics

	sse         *SSEManager
	healthCache *cache.Cache

	// videoMu orders attaching a video with recording or discarding its file
	videoMu sync.Mutex

	// uploads maps subject id to the spooled video file
	uploadsMu sync.Mutex
	uploads   map[int]string

	startTime time.Time
	serveErr  chan error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger; the default is the global "api" module.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithHealthChecker enables the remote probe in GET /api/v1/health.
func WithHealthChecker(h HealthChecker) ServerOption {
	return func(s *Server) {
		s.health = h
	}
}

// WithEventBus streams bus events to /api/v1/events clients.
func WithEventBus(bus *events.EventBus) ServerOption {
	return func(s *Server) {
		s.bus = bus
	}
}

// WithMetrics records request metrics and serves /metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates the server and registers its routes. It does not listen
// until Start is called.
func New(cfg Config, orch *orchestrator.Orchestrator, opts ...ServerOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o750); err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Context("upload_dir", cfg.UploadDir).
			Build()
	}

	s := &Server{
		config:      cfg,
		orch:        orch,
		uploads:     make(map[int]string),
		// one key, expired on read; no janitor goroutine
		healthCache: cache.New(cfg.HealthCacheTTL, 0),
		startTime:   time.Now(),
		serveErr:    make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.sse = NewSSEManager(s.log.Module("sse"))
	if s.metrics != nil {
		s.sse.metrics = s.metrics.HTTP
	}
	if s.bus != nil {
		if err := s.bus.RegisterConsumer(s.sse); err != nil {
			return nil, err
		}
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = cfg.Debug
	s.echo.HTTPErrorHandler = s.errorHandler
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("listen", cfg.Listen),
		logger.Bool("metrics", s.metrics != nil),
		logger.Bool("events", s.bus != nil))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/metrics"
	}))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/api/v1")

	v1.GET("/health", s.getHealth)
	v1.GET("/events", s.streamEvents)

	v1.GET("/subjects", s.listSubjects)
	v1.POST("/subjects", s.createSubject)
	v1.GET("/subjects/:id", s.getSubject)
	v1.DELETE("/subjects/:id", s.deleteSubject)
	v1.PATCH("/subjects/:id/parameters", s.updateParameters)
	v1.PUT("/subjects/:id/video", s.uploadVideo)
	v1.POST("/subjects/:id/analyze", s.analyze)
	v1.POST("/subjects/:id/cancel", s.cancel)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// Start begins serving in a background goroutine and returns immediately.
// A listener failure is reported by Done.
func (s *Server) Start() {
	go func() {
		s.log.Info("starting HTTP server", logger.String("listen", s.config.Listen))
		err := s.echo.Start(s.config.Listen)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", logger.Error(err))
			s.serveErr <- err
		}
		close(s.serveErr)
	}()
}

// Done yields the listener error, if any, and is closed when serving stops.
func (s *Server) Done() <-chan error {
	return s.serveErr
}

// Shutdown stops the listener, disconnects event stream clients and removes
// spooled uploads.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if s.bus != nil {
		s.bus.UnregisterConsumer(s.sse.Name())
	}
	s.sse.Close()

	err := s.echo.Shutdown(ctx)
	s.removeUploads()

	if err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return err
	}
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// ServeHTTP lets the server be mounted in tests or another mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
