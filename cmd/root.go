package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/faunavision/faunavision-go/cmd/analyze"
	configcmd "github.com/faunavision/faunavision-go/cmd/config"
	"github.com/faunavision/faunavision-go/cmd/health"
	"github.com/faunavision/faunavision-go/cmd/serve"
	"github.com/faunavision/faunavision-go/internal/buildinfo"
	"github.com/faunavision/faunavision-go/internal/conf"
	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(bi *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configFile string
		debug      bool
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "faunavision",
		Short:         "FaunaVision-Go animal video analysis",
		Long:          "Describe animals, attach a video of each, and have a remote vision service judge their health and behavior.",
		Version:       fmt.Sprintf("%s (built %s)", bi.GetVersion(), bi.GetBuildDate()),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/faunavision, /etc/faunavision)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	serveCmd := serve.Command(settings)
	analyzeCmd := analyze.Command(settings)
	healthCmd := health.Command(settings)
	configCmd := configcmd.Command(settings)
	rootCmd.AddCommand(serveCmd, analyzeCmd, healthCmd, configCmd)

	// commands whose stdout is their result keep the console log to errors
	quiet := map[*cobra.Command]bool{analyzeCmd: true, healthCmd: true, configCmd: true}

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// writing a fresh config must work when the current one is broken
		if cmd.Parent() == configCmd && cmd.Name() == configcmd.InitCommandName {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		if settings.Analysis.UserAgent == "" {
			settings.Analysis.UserAgent = bi.UserAgent()
		}
		if debug {
			settings.Debug = true
			settings.WebServer.Debug = true
			settings.Logging.DefaultLevel = "debug"
			if settings.Logging.Console != nil {
				settings.Logging.Console.Level = "debug"
			}
		} else if quiet[cmd] && settings.Logging.Console != nil {
			settings.Logging.Console.Level = "error"
		}

		central, err = initialize(settings, bi)
		return err
	}

	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if settings.Telemetry.Enabled {
			errors.FlushSentry(sentryFlushTimeout)
		}
		if central != nil {
			return central.Close()
		}
		return nil
	}

	return rootCmd
}

// initialize installs the global logger and, when enabled, the Sentry
// reporter. It runs before every command that loads settings.
func initialize(settings *conf.Settings, bi *buildinfo.Context) (*logger.CentralLogger, error) {
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)

	log := conf.GetLogger()
	if settings.ConfigFile != "" {
		log.Debug("configuration loaded", logger.String("file", settings.ConfigFile))
	} else {
		log.Debug("no config file found, using defaults and environment")
	}

	if settings.Telemetry.Enabled {
		reporter, err := errors.InitSentry(settings.Telemetry.DSN, bi.Release())
		if err != nil {
			log.Warn("error reporting disabled", logger.Error(err))
			return central, nil
		}
		errors.SetTelemetryReporter(reporter)
		log.Info("error reporting enabled", logger.String("release", bi.Release()))
	}
	return central, nil
}
