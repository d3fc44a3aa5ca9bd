// Package config implements the config command.
package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/faunavision/faunavision-go/internal/conf"
)

// InitCommandName is the subcommand that writes a default config file.
const InitCommandName = "init"

// Command creates the config command, which prints the effective settings.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the settings after defaults, config file and FAUNAVISION_* environment variables are applied. Secrets are masked.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if settings.ConfigFile != "" {
				fmt.Fprintf(out, "# loaded from %s\n", settings.ConfigFile)
			}
			return settings.WriteYAML(out)
		},
	}

	cmd.AddCommand(initCommand())
	return cmd
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:   InitCommandName + " [path]",
		Short: "Write the default configuration file",
		Long:  "Write a commented default config.yaml to path, or to the per-user config directory. An existing file is never overwritten.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				var err error
				if path, err = conf.UserConfigPath(); err != nil {
					return err
				}
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
