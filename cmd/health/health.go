// Package health implements the health command.
package health

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/faunavision/faunavision-go/internal/analyzer"
	"github.com/faunavision/faunavision-go/internal/conf"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/mqtt"
)

// mqttTestTimeout bounds the whole staged broker test.
const mqttTestTimeout = 30 * time.Second

// Checker is the part of the analyzer client the command uses.
type Checker interface {
	Health(ctx context.Context) (*analyzer.HealthStatus, error)
	BaseURL() string
}

// Command creates the health command.
func Command(settings *conf.Settings) *cobra.Command {
	var withMQTT bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the analysis service",
		Long:  "Probe GET /health on the analysis service and, with --mqtt, run a staged connection test against the configured broker.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := analyzer.New(analyzer.Config{
				BaseURL:   settings.Analysis.URL,
				UserAgent: settings.Analysis.UserAgent,
			}, logger.Global().Module("analyzer"))
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			serviceErr := CheckService(cmd.Context(), client, out)
			if !withMQTT {
				return serviceErr
			}

			cfg := mqtt.DefaultConfig()
			cfg.Broker = settings.MQTT.Broker
			cfg.Username = settings.MQTT.Username
			cfg.Password = settings.MQTT.Password
			cfg.Topic = settings.MQTT.Topic
			cfg.QoS = byte(settings.MQTT.QoS)
			if settings.MQTT.ClientID != "" {
				cfg.ClientID = settings.MQTT.ClientID + "-healthcheck"
			}
			broker, err := mqtt.NewClient(cfg, nil, mqtt.GetLogger())
			if err != nil {
				return errors.Join(serviceErr, err)
			}
			defer broker.Disconnect()

			return errors.Join(serviceErr, CheckBroker(cmd.Context(), broker, out))
		},
	}

	cmd.Flags().BoolVar(&withMQTT, "mqtt", false, "Also test the MQTT broker connection")
	return cmd
}

// CheckService probes the service once and prints the outcome. It returns
// an error when the service is unreachable or reports itself unhealthy.
func CheckService(ctx context.Context, c Checker, out io.Writer) error {
	fmt.Fprintf(out, "Analysis service: %s\n", c.BaseURL())

	status, err := c.Health(ctx)
	if err != nil {
		fmt.Fprintf(out, "  reachable: no\n  error:     %v\n", err)
		return err
	}

	fmt.Fprintf(out, "  reachable: yes\n  status:    %s\n", status.Status)
	if status.VisionEngine != "" {
		fmt.Fprintf(out, "  engine:    %s\n", status.VisionEngine)
	}
	fmt.Fprintf(out, "  openai:    %t\n", status.OpenAIAvailable)

	if !status.Healthy() {
		return errors.Newf("analysis service reports status %q", status.Status).
			Component("health").
			Category(errors.CategoryHTTP).
			Context("url", c.BaseURL()).
			Build()
	}
	return nil
}

// CheckBroker runs the staged broker test and prints each stage. It returns
// an error when any stage fails.
func CheckBroker(ctx context.Context, c mqtt.Client, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, mqttTestTimeout)
	defer cancel()

	results := make(chan mqtt.TestResult)
	go func() {
		defer close(results)
		c.TestConnection(ctx, results)
	}()

	fmt.Fprintln(out, "MQTT broker:")
	var failed *mqtt.TestResult
	for r := range results {
		if r.IsProgress {
			continue
		}
		mark := "ok"
		if !r.Success {
			mark = "FAILED"
			failed = &r
		}
		fmt.Fprintf(out, "  %-20s %s  %s\n", r.Stage, mark, r.Message)
		if r.Error != "" {
			fmt.Fprintf(out, "  %-20s error: %s\n", "", r.Error)
		}
	}

	if failed != nil {
		return errors.Newf("MQTT %s failed: %s", failed.Stage, failed.Error).
			Component("health").
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}
