package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"scholarq/internal/queue"
	"scholarq/internal/workflow"
)

func newWorkflowCommand(ctx *commandContext) *cobra.Command {
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Validate workflow definitions and inspect runs",
	}

	workflowCmd.AddCommand(newWorkflowValidateCommand(ctx))
	workflowCmd.AddCommand(newWorkflowListCommand(ctx))
	workflowCmd.AddCommand(newWorkflowRunsCommand(ctx))
	workflowCmd.AddCommand(newWorkflowShowCommand(ctx))

	return workflowCmd
}

func newWorkflowValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate <file>...",
		Short:       "Check workflow definition files for errors and cycles",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				defs, err := workflow.LoadDefinitions(path)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					if err := writeJSON(cmd, defs); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%s: %d workflow(s) valid\n", path, len(defs))
				for _, def := range defs {
					writeDefinitionSummary(out, def)
				}
			}
			return nil
		},
	}
}

func writeDefinitionSummary(w io.Writer, def workflow.Definition) {
	order, err := def.Validate()
	if err != nil {
		fmt.Fprintf(w, "%s%s: %v\n", statusIndent, def.Name, err)
		return
	}
	names := make([]string, len(order))
	for i, step := range order {
		names[i] = step.Name
	}
	fmt.Fprintf(w, "%s%s: %s\n", statusIndent, def.Name, strings.Join(names, " -> "))
}

func newWorkflowListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows from the configured definition files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.config
			var defs []workflow.Definition
			for _, path := range cfg.Workflow.Definitions {
				loaded, err := workflow.LoadDefinitions(path)
				if err != nil {
					return err
				}
				defs = append(defs, loaded...)
			}
			sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
			if ctx.jsonOutput() {
				return writeJSON(cmd, defs)
			}
			if len(defs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workflows configured")
				return nil
			}
			for _, def := range defs {
				writeDefinitionSummary(cmd.OutOrStdout(), def)
			}
			return nil
		},
	}
}

func newWorkflowRunsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, runs)
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No workflow runs")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Workflow", "Status", "Steps", "Started", "Error"},
					buildRunRows(runs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return cmd
}

func newWorkflowShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a workflow run with its step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				run, err := store.GetRun(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, run)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Run "+run.ID, colorize) {
					fmt.Fprintln(out, line)
				}
				kind := statusWarn
				switch run.Status {
				case queue.RunCompleted:
					kind = statusOK
				case queue.RunFailed:
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine("Status", kind, statusLabel(run.Status), colorize))
				fmt.Fprintln(out, renderField("Workflow", run.Definition))
				fmt.Fprintln(out, renderField("Started", formatTimestamp(run.CreatedAt)))
				fmt.Fprintln(out, renderField("Finished", formatOptionalTimestamp(run.FinishedAt)))
				if run.Error != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, run.Error, colorize))
				}

				steps := make([]string, 0, len(run.StepTasks))
				for step := range run.StepTasks {
					steps = append(steps, step)
				}
				sort.Strings(steps)
				rows := make([][]string, 0, len(steps))
				for _, step := range steps {
					result := "-"
					if raw, ok := run.StepResults[step]; ok {
						result = string(raw)
					}
					rows = append(rows, []string{step, shortID(run.StepTasks[step]), result})
				}
				if len(rows) > 0 {
					fmt.Fprintln(out, renderTable([]string{"Step", "Task", "Result"}, rows, nil))
				}
				return nil
			})
		},
	}
}
