// testing.go: staged broker diagnostics used by the health command
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
)

// TestResult is one step of a connection test. Progress results announce a
// stage; the result that follows reports its outcome.
type TestResult struct {
	Success    bool   `json:"success"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
	IsProgress bool   `json:"isProgress,omitempty"`
	State      string `json:"state,omitempty"` // running, completed, failed, timeout
	Timestamp  string `json:"timestamp,omitempty"`
}

// TestStage is a step of the connection test.
type TestStage int

const (
	DNSResolution TestStage = iota
	TCPConnection
	MQTTConnection
	MessagePublish
)

var stageNames = map[TestStage]string{
	DNSResolution:  "DNS Resolution",
	TCPConnection:  "TCP Connection",
	MQTTConnection: "MQTT Connection",
	MessagePublish: "Message Publishing",
}

func (s TestStage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "Unknown Stage"
}

const defaultBrokerPort = "1883"

// probe is one diagnostic step bounded by its own deadline.
type probe struct {
	stage   TestStage
	timeout time.Duration
	run     func(context.Context) error
}

// runNetworkTest runs fn and reports its outcome. A probe that outlives ctx
// is reported as a timeout even if fn has not returned yet.
func runNetworkTest(ctx context.Context, stage TestStage, fn func(context.Context) error) TestResult {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-done:
	}

	switch {
	case ctx.Err() != nil:
		return TestResult{
			Stage:   stage.String(),
			Message: stage.String() + " timed out",
			Error:   "operation timeout",
			State:   "timeout",
		}
	case err != nil:
		return TestResult{
			Stage:   stage.String(),
			Message: "Failed to perform " + stage.String(),
			Error:   err.Error(),
		}
	}
	return TestResult{
		Success: true,
		Stage:   stage.String(),
		Message: "Successfully completed " + stage.String(),
	}
}

// probes lists the diagnostic steps for the configured broker. A broker
// given as an IP literal skips the lookup.
func (c *client) probes() []probe {
	host := extractHost(c.config.Broker)
	var steps []probe
	if net.ParseIP(host) == nil {
		steps = append(steps, probe{DNSResolution, 5 * time.Second, func(ctx context.Context) error {
			_, err := net.DefaultResolver.LookupHost(ctx, host)
			return err
		}})
	}
	return append(steps,
		probe{TCPConnection, 5 * time.Second, func(ctx context.Context) error {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", extractHostPort(c.config.Broker))
			if err != nil {
				return err
			}
			return conn.Close()
		}},
		probe{MQTTConnection, 10 * time.Second, func(ctx context.Context) error {
			if c.IsConnected() {
				return nil
			}
			return c.Connect(ctx)
		}},
		probe{MessagePublish, 5 * time.Second, func(ctx context.Context) error {
			payload, err := json.Marshal(sampleVerdict(time.Now()))
			if err != nil {
				return fmt.Errorf("encode test message: %w", err)
			}
			return c.Publish(ctx, constructTestTopic(c.config.Topic), string(payload))
		}},
	)
}

// sampleVerdict is the message published by the diagnostics.
func sampleVerdict(at time.Time) VerdictMessage {
	healthy := true
	s := model.NewSubject(1)
	s.Parameters.Species = "Pig"
	s.Status = model.StatusSucceeded
	s.Result = &model.AnalysisResult{
		Species:          "Pig",
		BehaviorObserved: "MQTT connection test",
		Confidence:       1,
		IsHealthy:        &healthy,
	}
	return NewVerdictMessage(&s, at)
}

// TestConnection runs each probe in turn, streaming a progress result and
// an outcome per stage. It stops at the first failing stage.
func (c *client) TestConnection(ctx context.Context, resultChan chan<- TestResult) {
	emit := func(r TestResult) {
		if r.State == "" {
			switch {
			case r.Error != "":
				r.State = "failed"
			case r.IsProgress:
				r.State = "running"
			default:
				r.State = "completed"
			}
		}
		r.Timestamp = time.Now().Format(time.RFC3339)

		if r.Error != "" {
			c.logger.Warn("MQTT test stage failed", logger.String("stage", r.Stage), logger.String("error", r.Error))
		} else if !r.IsProgress {
			c.logger.Debug("MQTT test stage passed", logger.String("stage", r.Stage))
		}

		select {
		case <-ctx.Done():
		case resultChan <- r:
		}
	}

	if err := ctx.Err(); err != nil {
		emit(TestResult{Stage: "Test Setup", Message: "Test cancelled", Error: err.Error(), State: "timeout"})
		return
	}

	for _, p := range c.probes() {
		emit(TestResult{
			Success:    true,
			Stage:      p.stage.String(),
			Message:    "Running " + p.stage.String() + " test...",
			IsProgress: true,
		})

		stageCtx, cancel := context.WithTimeout(ctx, p.timeout)
		result := runNetworkTest(stageCtx, p.stage, p.run)
		cancel()

		emit(result)
		if !result.Success {
			return
		}
	}
}

// constructTestTopic returns <base>/test, falling back to the default topic.
func constructTestTopic(baseTopic string) string {
	baseTopic = strings.Trim(baseTopic, "/")
	if baseTopic == "" {
		baseTopic = DefaultTopic
	}
	return baseTopic + "/test"
}

// extractHost returns the broker host without brackets or port.
func extractHost(broker string) string {
	if u, err := url.Parse(broker); err == nil && u.Host != "" {
		return u.Hostname()
	}
	if host, _, err := net.SplitHostPort(broker); err == nil {
		return host
	}
	return strings.Trim(broker, "[]")
}

// extractHostPort returns host:port, defaulting to the standard MQTT port.
func extractHostPort(broker string) string {
	port := defaultBrokerPort
	if u, err := url.Parse(broker); err == nil && u.Host != "" {
		if u.Port() != "" {
			port = u.Port()
		}
	} else if _, p, err := net.SplitHostPort(broker); err == nil && p != "" {
		port = p
	}
	return net.JoinHostPort(extractHost(broker), port)
}
