package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/livelaunch/platform/pkg/common/config"
	"github.com/livelaunch/platform/pkg/common/logger"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigFile string
	LogLevel   string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "livelaunch",
		Short:         "LiveLaunch reconciliation service",
		Long:          "Mirrors upcoming launches and events into workspace calendars and dispatches status and stream notifications.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogLevel != "" {
				logger.Configure(os.Stdout, opts.LogLevel)
			}
			cfg, err := config.LoadFile(opts.ConfigFile)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", os.Getenv("CONFIG_FILE"), "YAML file overlaid on the environment configuration")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newReconcileCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	return cmd
}
