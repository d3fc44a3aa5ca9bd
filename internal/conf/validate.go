// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

func isLogLevel(level string) bool {
	return slices.Contains(logLevels, strings.ToLower(strings.TrimSpace(level)))
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) []string{
		validateAnalysisSettings,
		validateWebServerSettings,
		validateLoggingSettings,
		validateEventsSettings,
		validateMQTTSettings,
		validateTelemetrySettings,
		validateAlertSettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateAnalysisSettings(s *Settings) []string {
	var errs []string
	if err := validateServiceURL(s.Analysis.URL); err != nil {
		errs = append(errs, fmt.Sprintf("analysis.url %q: %v", s.Analysis.URL, err))
	}
	if s.Analysis.Timeout <= 0 {
		errs = append(errs, "analysis.timeout must be positive")
	}
	if s.Analysis.HealthCacheTTL < 0 {
		errs = append(errs, "analysis.healthcachettl must not be negative")
	}
	return errs
}

func validateWebServerSettings(s *Settings) []string {
	var errs []string
	if _, _, err := net.SplitHostPort(s.WebServer.Listen); err != nil {
		errs = append(errs, fmt.Sprintf("webserver.listen %q: %v", s.WebServer.Listen, err))
	}
	if s.WebServer.ShutdownTimeout <= 0 {
		errs = append(errs, "webserver.shutdowntimeout must be positive")
	}
	return errs
}

func validateLoggingSettings(s *Settings) []string {
	var errs []string
	if s.Logging.DefaultLevel != "" && !isLogLevel(s.Logging.DefaultLevel) {
		errs = append(errs, fmt.Sprintf("logging.defaultlevel %q is not a log level", s.Logging.DefaultLevel))
	}
	if c := s.Logging.Console; c != nil && c.Level != "" && !isLogLevel(c.Level) {
		errs = append(errs, fmt.Sprintf("logging.console.level %q is not a log level", c.Level))
	}
	if f := s.Logging.FileOutput; f != nil && f.Enabled {
		if f.Path == "" {
			errs = append(errs, "logging.fileoutput.path is required when file output is enabled")
		}
		if f.Level != "" && !isLogLevel(f.Level) {
			errs = append(errs, fmt.Sprintf("logging.fileoutput.level %q is not a log level", f.Level))
		}
	}
	for module, level := range s.Logging.ModuleLevels {
		if !isLogLevel(level) {
			errs = append(errs, fmt.Sprintf("logging.modulelevels.%s %q is not a log level", module, level))
		}
	}
	return errs
}

func validateEventsSettings(s *Settings) []string {
	if s.Events.BufferSize <= 0 {
		return []string{"events.buffersize must be positive"}
	}
	return nil
}

func validateMQTTSettings(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}
	var errs []string
	if s.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when MQTT is enabled")
	} else if u, err := url.Parse(s.MQTT.Broker); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q is not a broker URL", s.MQTT.Broker))
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1 or 2")
	}
	if strings.ContainsAny(s.MQTT.Topic, "+#") {
		errs = append(errs, "mqtt.topic must not contain wildcards")
	}
	return errs
}

func validateTelemetrySettings(s *Settings) []string {
	if s.Telemetry.Enabled && strings.TrimSpace(s.Telemetry.DSN) == "" {
		return []string{"telemetry.dsn is required when telemetry is enabled"}
	}
	return nil
}

func validateAlertSettings(s *Settings) []string {
	if !s.Alerts.Enabled {
		return nil
	}
	var errs []string
	if len(s.Alerts.URLs) == 0 {
		errs = append(errs, "alerts.urls is required when alerts are enabled")
	}
	for i, raw := range s.Alerts.URLs {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" {
			// the value may hold a token, so only its position is reported
			errs = append(errs, fmt.Sprintf("alerts.urls[%d] is not a service URL", i))
		}
	}
	if s.Alerts.RateLimit < 0 {
		errs = append(errs, "alerts.ratelimit must not be negative")
	}
	if s.Alerts.Timeout < 0 {
		errs = append(errs, "alerts.timeout must not be negative")
	}
	return errs
}
