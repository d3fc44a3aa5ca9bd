// Package api exposes the subject lifecycle over HTTP: a JSON API under
// /api/v1, a server-sent event stream of state changes and, optionally,
// Prometheus metrics.
package api

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 5 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHealthCacheTTL  = 30 * time.Second

	// DefaultBodyLimit leaves room above the 100 MiB video cap so an
	// oversized upload is reported as a validation failure, not a 413.
	DefaultBodyLimit = "128M"

	// SSEHeartbeatInterval keeps idle event streams alive through proxies.
	SSEHeartbeatInterval = 30 * time.Second
	sseClientBuffer      = 64
	sseWriteTimeout      = 10 * time.Second
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen string

	// ReadTimeout must cover a full video upload.
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit      string
	AllowedOrigins []string

	// UploadDir holds accepted videos until they are replaced or their
	// subject is removed.
	UploadDir string

	HealthCacheTTL time.Duration

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Listen:          DefaultListen,
		ReadTimeout:     DefaultReadTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       DefaultBodyLimit,
		AllowedOrigins:  []string{"*"},
		UploadDir:       filepath.Join(os.TempDir(), "faunavision-uploads"),
		HealthCacheTTL:  DefaultHealthCacheTTL,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return configError("listen address is required")
	}
	if c.ReadTimeout <= 0 {
		return configError("read timeout must be positive")
	}
	if c.UploadDir == "" {
		return configError("upload directory is required")
	}
	if c.HealthCacheTTL < 0 {
		return configError("health cache ttl must not be negative")
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: listen=%s, uploads=%s, debug=%v", c.Listen, c.UploadDir, c.Debug)
}

func configError(msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}
