// Package serve implements the serve command: the HTTP API with its event
// stream, metrics, optional MQTT verdict publishing and push alerts.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/faunavision/faunavision-go/internal/alert"
	"github.com/faunavision/faunavision-go/internal/analyzer"
	"github.com/faunavision/faunavision-go/internal/api"
	"github.com/faunavision/faunavision-go/internal/conf"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/events"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/mqtt"
	"github.com/faunavision/faunavision-go/internal/observability"
	"github.com/faunavision/faunavision-go/internal/orchestrator"
)

const busShutdownTimeout = 5 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	var listen, uploadDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serve the subject API under /api/v1 with a live event stream, Prometheus metrics and, if enabled, MQTT verdict publishing.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("listen") {
				settings.WebServer.Listen = listen
			}
			if cmd.Flags().Changed("upload-dir") {
				settings.WebServer.UploadDir = uploadDir
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, settings)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", conf.DefaultListen, "Listen address of the HTTP API")
	cmd.Flags().StringVar(&uploadDir, "upload-dir", "", "Directory for uploaded videos")
	return cmd
}

// Run serves until ctx ends or the listener fails, then shuts everything
// down in reverse order of construction.
func Run(ctx context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")

	var m *observability.Metrics
	if settings.Metrics.Enabled {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return err
		}
	}

	client, err := analyzer.New(analyzer.Config{
		BaseURL:   settings.Analysis.URL,
		Timeout:   settings.Analysis.Timeout,
		UserAgent: settings.Analysis.UserAgent,
	}, logger.Global().Module("analyzer"))
	if err != nil {
		return err
	}
	defer client.Close()

	bus := events.New(events.Config{BufferSize: settings.Events.BufferSize}, logger.Global().Module("events"))
	defer func() {
		if err := bus.Shutdown(busShutdownTimeout); err != nil {
			log.Warn("event bus did not drain", logger.Error(err))
		}
	}()

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger.Global().Module("orchestrator")),
		orchestrator.WithTimeout(settings.Analysis.Timeout),
	}
	if m != nil {
		client.Observe(m.Analysis.ObserveServiceRequest)
		orchOpts = append(orchOpts,
			orchestrator.WithRecorder(m.Analysis),
			orchestrator.WithSizeObserver(m.Analysis.SetSubjects))
	}
	orch := orchestrator.New(client, bus, orchOpts...)

	if settings.MQTT.Enabled {
		publisher, err := startPublisher(ctx, settings.MQTT, bus, m)
		if err != nil {
			return err
		}
		defer publisher.Stop()
	}

	if settings.Alerts.Enabled {
		notifier, err := startNotifier(ctx, settings.Alerts, bus, m)
		if err != nil {
			return err
		}
		defer notifier.Stop()
	}

	apiCfg := api.DefaultConfig()
	apiCfg.Listen = settings.WebServer.Listen
	apiCfg.Debug = settings.WebServer.Debug
	apiCfg.AllowedOrigins = settings.WebServer.AllowedOrigins
	apiCfg.UploadDir = settings.WebServer.UploadDir
	apiCfg.HealthCacheTTL = settings.Analysis.HealthCacheTTL
	if settings.WebServer.BodyLimit != "" {
		apiCfg.BodyLimit = settings.WebServer.BodyLimit
	}
	if settings.WebServer.ShutdownTimeout > 0 {
		apiCfg.ShutdownTimeout = settings.WebServer.ShutdownTimeout
	}

	serverOpts := []api.ServerOption{
		api.WithLogger(logger.Global().Module("api")),
		api.WithHealthChecker(client),
		api.WithEventBus(bus),
	}
	if m != nil {
		serverOpts = append(serverOpts, api.WithMetrics(m))
	}
	server, err := api.New(apiCfg, orch, serverOpts...)
	if err != nil {
		return err
	}
	server.Start()

	log.Info("FaunaVision-Go ready",
		logger.String("listen", apiCfg.Listen),
		logger.String("analysis_url", client.BaseURL()),
		logger.Duration("analysis_timeout", client.Timeout()),
		logger.Bool("mqtt", settings.MQTT.Enabled),
		logger.Bool("alerts", settings.Alerts.Enabled),
		logger.Bool("metrics", m != nil))

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err, ok := <-server.Done():
		if ok && err != nil {
			serveErr = errors.New(err).
				Component("serve").
				Category(errors.CategoryNetwork).
				Context("listen", apiCfg.Listen).
				Build()
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), apiCfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn("analyses still running at shutdown", logger.Error(err))
	}
	return serveErr
}

func startPublisher(ctx context.Context, s conf.MQTTSettings, bus *events.EventBus, m *observability.Metrics) (*mqtt.Publisher, error) {
	cfg := mqtt.DefaultConfig()
	cfg.Broker = s.Broker
	cfg.Username = s.Username
	cfg.Password = s.Password
	cfg.Retain = s.Retain
	cfg.QoS = byte(s.QoS)
	if s.ClientID != "" {
		cfg.ClientID = s.ClientID
	}
	if s.Topic != "" {
		cfg.Topic = s.Topic
	}

	log := mqtt.GetLogger()
	var clientMetrics mqtt.ClientMetrics
	opts := []mqtt.PublisherOption{mqtt.WithPublisherLogger(log)}
	if m != nil {
		clientMetrics = m.MQTT
		opts = append(opts, mqtt.WithDropCounter(m.MQTT))
	}

	client, err := mqtt.NewClient(cfg, clientMetrics, log)
	if err != nil {
		return nil, err
	}
	publisher := mqtt.NewPublisher(client, cfg, opts...)
	if err := bus.RegisterConsumer(publisher); err != nil {
		return nil, err
	}
	publisher.Start(ctx)
	return publisher, nil
}

func startNotifier(ctx context.Context, s conf.AlertSettings, bus *events.EventBus, m *observability.Metrics) (*alert.Notifier, error) {
	cfg := alert.Config{
		URLs:              s.URLs,
		OnFailure:         s.OnFailure,
		Timeout:           s.Timeout,
		RequestsPerMinute: s.RateLimit,
	}
	sender, err := alert.NewShoutrrrSender(cfg)
	if err != nil {
		return nil, err
	}

	opts := []alert.Option{alert.WithLogger(logger.Global().Module("alert"))}
	if m != nil {
		opts = append(opts, alert.WithCounter(m.Alerts))
	}
	notifier := alert.New(sender, cfg, opts...)
	if err := bus.RegisterConsumer(notifier); err != nil {
		return nil, err
	}
	notifier.Start(ctx)
	return notifier, nil
}
