// Package mqtt publishes finished analysis verdicts to an MQTT broker. The
// Publisher consumes the event bus and hands messages to a Client on its own
// goroutine, so a slow broker never holds up the bus.
package mqtt

import (
	"context"
	"time"

	"github.com/faunavision/faunavision-go/internal/logger"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic string, payload string) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()

	// TestConnection runs the staged connection diagnostics and streams
	// each result to resultChan. It does not close the channel.
	TestConnection(ctx context.Context, resultChan chan<- TestResult)
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Topic is the base topic; verdicts go to <Topic>/subjects/<id>/verdict
	Topic  string
	Retain bool
	QoS    byte

	ReconnectCooldown time.Duration
	// MaxReconnectInterval caps the broker reconnect backoff
	MaxReconnectInterval time.Duration
	ConnectTimeout       time.Duration
	PublishTimeout       time.Duration
	DisconnectTimeout    time.Duration
}

// DefaultTopic is used when no base topic is configured.
const DefaultTopic = "faunavision"

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		ClientID:             "faunavision",
		Topic:                DefaultTopic,
		ReconnectCooldown:    5 * time.Second,
		MaxReconnectInterval: 5 * time.Minute,
		ConnectTimeout:       30 * time.Second,
		PublishTimeout:       10 * time.Second,
		DisconnectTimeout:    250 * time.Millisecond,
	}
}

// GetLogger returns the mqtt package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mqtt")
}
