package main

import (
	"github.com/spf13/cobra"

	"scholarq/internal/daemonrun"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var logFile bool
	var development bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the worker daemon in the foreground",
		Long: "Run the worker daemon until interrupted. It recovers tasks left processing by a\n" +
			"previous run, loads the configured workflow files and executes tasks with the\n" +
			"built-in echo and sleep handlers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				LogFile:     logFile,
				Development: development,
				Register:    registerBuiltins,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&logFile, "log-file", true, "Append JSON logs to the data directory")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log records")
	return cmd
}
