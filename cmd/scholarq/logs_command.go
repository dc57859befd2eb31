package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"scholarq/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var filter logs.Filter

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show worker log records",
		Long:  "Show records from the worker's JSON log file, optionally filtered by task, workflow run, target or level.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return logs.Tail(cmd.Context(), ctx.config.LogPath(), logs.TailOptions{
				Lines:  lines,
				Follow: follow,
				Poll:   500 * time.Millisecond,
				Filter: filter,
			}, func(line string) error {
				_, err := fmt.Fprintln(out, line)
				return err
			})
		},
	}

	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing records to show (-1 for all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing records as they are written")
	cmd.Flags().StringVar(&filter.TaskID, "task", "", "Only records for this task id or prefix")
	cmd.Flags().StringVar(&filter.WorkflowID, "workflow", "", "Only records for this workflow run id or prefix")
	cmd.Flags().StringVarP(&filter.Target, "target", "t", "", "Only records for this target")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level: debug, info, warn or error")
	return cmd
}
