// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/faunavision/faunavision-go/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FAUNAVISION"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "FAUNAVISION_DEBUG", validateEnvBool},

		// Analysis service
		{"analysis.url", "FAUNAVISION_ANALYSIS_URL", validateEnvURL},
		{"analysis.timeout", "FAUNAVISION_ANALYSIS_TIMEOUT", validateEnvDuration},
		{"analysis.useragent", "FAUNAVISION_ANALYSIS_USERAGENT", nil},
		{"analysis.healthcachettl", "FAUNAVISION_ANALYSIS_HEALTHCACHETTL", validateEnvDuration},

		// HTTP API
		{"webserver.listen", "FAUNAVISION_WEBSERVER_LISTEN", nil},
		{"webserver.debug", "FAUNAVISION_WEBSERVER_DEBUG", validateEnvBool},
		{"webserver.uploaddir", "FAUNAVISION_WEBSERVER_UPLOADDIR", nil},

		// Logging
		{"logging.defaultlevel", "FAUNAVISION_LOGGING_DEFAULTLEVEL", validateEnvLogLevel},
		{"logging.fileoutput.enabled", "FAUNAVISION_LOGGING_FILEOUTPUT_ENABLED", validateEnvBool},
		{"logging.fileoutput.path", "FAUNAVISION_LOGGING_FILEOUTPUT_PATH", nil},

		{"events.buffersize", "FAUNAVISION_EVENTS_BUFFERSIZE", validateEnvPositiveInt},

		// MQTT
		{"mqtt.enabled", "FAUNAVISION_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "FAUNAVISION_MQTT_BROKER", nil},
		{"mqtt.username", "FAUNAVISION_MQTT_USERNAME", nil},
		{"mqtt.password", "FAUNAVISION_MQTT_PASSWORD", nil},
		{"mqtt.topic", "FAUNAVISION_MQTT_TOPIC", nil},

		// Telemetry and metrics
		{"telemetry.enabled", "FAUNAVISION_TELEMETRY_ENABLED", validateEnvBool},
		{"telemetry.dsn", "FAUNAVISION_TELEMETRY_DSN", nil},
		{"metrics.enabled", "FAUNAVISION_METRICS_ENABLED", validateEnvBool},

		// Alerts
		{"alerts.enabled", "FAUNAVISION_ALERTS_ENABLED", validateEnvBool},
		{"alerts.onfailure", "FAUNAVISION_ALERTS_ONFAILURE", validateEnvBool},
		{"alerts.timeout", "FAUNAVISION_ALERTS_TIMEOUT", validateEnvDuration},
	}
}

// bindEnvVars binds each variable to its key and validates values that are
// set, reporting every problem at once.
func bindEnvVars(v *viper.Viper) error {
	var problems []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			problems = append(problems, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				problems = append(problems, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(problems) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(problems, "\n  - ")).
			Component("config").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 30s or 5m")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvURL(value string) error {
	return validateServiceURL(value)
}

func validateEnvLogLevel(value string) error {
	if !isLogLevel(value) {
		return fmt.Errorf("must be one of trace, debug, info, warn, error")
	}
	return nil
}

// validateServiceURL accepts an absolute http or https URL.
func validateServiceURL(value string) error {
	u, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
