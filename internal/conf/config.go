// config.go: settings for FaunaVision-Go and the functions that load them.
package conf

import (
	"embed"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
)

//go:embed default_config.yaml
var configFiles embed.FS

// AnalysisSettings configures the remote analysis service client.
type AnalysisSettings struct {
	URL            string        `yaml:"url"`            // service root, e.g. http://localhost:5000
	Timeout        time.Duration `yaml:"timeout"`        // hard deadline per analysis
	UserAgent      string        `yaml:"useragent"`      // User-Agent header sent to the service
	HealthCacheTTL time.Duration `yaml:"healthcachettl"` // how long a health probe result is reused
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Listen          string        `yaml:"listen"`
	Debug           bool          `yaml:"debug"`
	AllowedOrigins  []string      `yaml:"allowedorigins"`
	UploadDir       string        `yaml:"uploaddir"`
	BodyLimit       string        `yaml:"bodylimit"`
	ShutdownTimeout time.Duration `yaml:"shutdowntimeout"`
}

// EventsSettings configures the event bus.
type EventsSettings struct {
	BufferSize int `yaml:"buffersize"`
}

// MQTTSettings configures verdict publishing.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientid"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	Retain   bool   `yaml:"retain"`
	QoS      int    `yaml:"qos"`
}

// TelemetrySettings configures Sentry error reporting.
type TelemetrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool `yaml:"enabled"`
}

// AlertSettings configures push notifications for unhealthy verdicts.
type AlertSettings struct {
	Enabled   bool          `yaml:"enabled"`
	URLs      []string      `yaml:"urls"`      // shoutrrr service URLs
	OnFailure bool          `yaml:"onfailure"` // also alert when an analysis fails
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"ratelimit"` // alerts per minute
}

// Settings contains all configuration options.
type Settings struct {
	Debug bool `yaml:"debug"`

	Analysis  AnalysisSettings     `yaml:"analysis"`
	WebServer WebServerSettings    `yaml:"webserver"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	Events    EventsSettings       `yaml:"events"`
	MQTT      MQTTSettings         `yaml:"mqtt"`
	Telemetry TelemetrySettings    `yaml:"telemetry"`
	Metrics   MetricsSettings      `yaml:"metrics"`
	Alerts    AlertSettings        `yaml:"alerts"`

	// ConfigFile is the file the settings were read from, if any
	ConfigFile string `yaml:"-" mapstructure:"-"`
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, then the config file, then FAUNAVISION_* environment
// variables, and validates the result. An empty configFile searches the
// default paths; finding nothing there is not an error.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	setDefaultConfig(v)

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		paths, err := GetDefaultConfigPaths()
		if err != nil {
			return nil, err
		}
		for _, path := range paths {
			v.AddConfigPath(path)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, errors.New(err).
				Component("config").
				Category(errors.CategoryConfiguration).
				Context("config_file", configFile).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("config").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}
	settings.ConfigFile = v.ConfigFileUsed()
	if strings.TrimSpace(settings.WebServer.UploadDir) == "" {
		settings.WebServer.UploadDir = defaultUploadDir()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, errors.New(err).
			Component("config").
			Category(errors.CategoryValidation).
			Build()
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()
	return settings, nil
}

// GetSettings returns the settings from the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Redacted returns a copy with secrets masked, for display.
func (s *Settings) Redacted() Settings {
	out := *s
	out.WebServer.AllowedOrigins = slices.Clone(s.WebServer.AllowedOrigins)
	if out.MQTT.Password != "" {
		out.MQTT.Password = redactedValue
	}
	if out.Telemetry.DSN != "" {
		out.Telemetry.DSN = redactedValue
	}
	// service URLs embed tokens
	if len(s.Alerts.URLs) > 0 {
		out.Alerts.URLs = make([]string, len(s.Alerts.URLs))
		for i := range out.Alerts.URLs {
			out.Alerts.URLs[i] = redactedValue
		}
	}
	return out
}

const redactedValue = "[redacted]"

// WriteYAML writes the settings as YAML with secrets masked.
func (s *Settings) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	redacted := s.Redacted()
	if err := enc.Encode(&redacted); err != nil {
		return errors.New(err).
			Component("config").
			Category(errors.CategoryParsing).
			Build()
	}
	return enc.Close()
}

// DefaultConfig returns the commented default configuration file.
func DefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "default_config.yaml")
	if err != nil {
		// embedded at build time, so this cannot fail at run time
		panic(err)
	}
	return data
}

// WriteDefaultConfig writes the default configuration to path. It refuses
// to overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.New(err).
			Component("config").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.New(err).
			Component("config").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if _, err := f.Write(DefaultConfig()); err != nil {
		_ = f.Close()
		return errors.New(err).
			Component("config").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return f.Close()
}
