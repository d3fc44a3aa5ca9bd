// conf/defaults.go default values for settings
package conf

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/faunavision/faunavision-go/internal/logger"
)

// Default values shared with the embedded default_config.yaml.
const (
	DefaultAnalysisURL = "http://localhost:5000"
	DefaultListen      = ":8080"
	DefaultTopic       = "faunavision"
)

// setDefaultConfig sets default values for every key.
func setDefaultConfig(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("analysis.url", DefaultAnalysisURL)
	v.SetDefault("analysis.timeout", 5*time.Minute)
	v.SetDefault("analysis.useragent", "faunavision-go")
	v.SetDefault("analysis.healthcachettl", 30*time.Second)

	v.SetDefault("webserver.listen", DefaultListen)
	v.SetDefault("webserver.debug", false)
	v.SetDefault("webserver.allowedorigins", []string{"*"})
	v.SetDefault("webserver.uploaddir", defaultUploadDir())
	v.SetDefault("webserver.bodylimit", "128M")
	v.SetDefault("webserver.shutdowntimeout", 10*time.Second)

	v.SetDefault("logging.defaultlevel", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.fileoutput.enabled", false)
	v.SetDefault("logging.fileoutput.path", logger.DefaultLogPath)
	v.SetDefault("logging.fileoutput.level", "debug")
	v.SetDefault("logging.modulelevels", map[string]string{})

	v.SetDefault("events.buffersize", 1024)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientid", "faunavision")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", DefaultTopic)
	v.SetDefault("mqtt.retain", false)
	v.SetDefault("mqtt.qos", 0)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dsn", "")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.urls", []string{})
	v.SetDefault("alerts.onfailure", false)
	v.SetDefault("alerts.timeout", 10*time.Second)
	v.SetDefault("alerts.ratelimit", 60)
}

func defaultUploadDir() string {
	return filepath.Join(os.TempDir(), "faunavision-uploads")
}
