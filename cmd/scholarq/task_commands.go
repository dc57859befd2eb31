package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scholarq/internal/orchestrator"
	"scholarq/internal/queue"
	"scholarq/internal/services"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var method string
	var priorityFlag string
	var maxRetries int
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "submit <target> [payload|-]",
		Short: "Submit a task for a handler target",
		Long: "Submit a task. The payload is taken from the second argument, or read from stdin when it is \"-\".\n" +
			"With --wait the command blocks until a running worker finishes the task or the timeout elapses.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := queue.ParsePriority(priorityFlag)
			if err != nil {
				return err
			}
			payload, err := readPayload(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator) error {
				var opts []orchestrator.SubmitOption
				if cmd.Flags().Changed("max-retries") {
					opts = append(opts, orchestrator.WithMaxRetries(maxRetries))
				}
				id, err := orch.Submit(cmd.Context(), args[0], method, payload, priority, opts...)
				if err != nil {
					return err
				}
				if wait <= 0 {
					if ctx.jsonOutput() {
						return writeJSON(cmd, map[string]string{"id": id})
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				}

				tasks, err := orch.WaitForCompletion(cmd.Context(), []string{id}, wait)
				if err != nil {
					return err
				}
				task := tasks[id]
				if ctx.jsonOutput() {
					return writeJSON(cmd, task)
				}
				renderTaskDetail(cmd.OutOrStdout(), task, shouldColorize(cmd.OutOrStdout()))
				if !task.Status.IsTerminal() {
					fmt.Fprintf(cmd.OutOrStdout(), "Task still %s after %s\n", task.Status, wait)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", "", "Method name passed to the handler")
	cmd.Flags().StringVarP(&priorityFlag, "priority", "p", "normal", "Priority: low, normal, high or urgent")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget (defaults to queue.max_retries)")
	cmd.Flags().DurationVarP(&wait, "wait", "w", 0, "Wait up to this long for the task to finish")
	return cmd
}

func readPayload(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if args[0] != "-" {
		return []byte(args[0]), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read payload from stdin: %w", err)
	}
	return data, nil
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var target string
	var workflowID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.Filter{Target: target, WorkflowID: workflowID, Limit: limit}
			for _, raw := range statusFlags {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStore(func(store *queue.Store) error {
				tasks, err := store.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, tasks)
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Target", "Method", "Priority", "Status", "Attempts", "Created"},
					buildTaskListRows(tasks),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "Filter by target")
	cmd.Flags().StringVar(&workflowID, "workflow", "", "Filter by workflow run id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of tasks to show")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				task, err := resolveTask(cmd, store, args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, task)
				}
				renderTaskDetail(cmd.OutOrStdout(), task, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
}

// resolveTask accepts a full id or an unambiguous prefix as printed by list.
func resolveTask(cmd *cobra.Command, store *queue.Store, ref string) (*queue.Task, error) {
	ref = strings.TrimSpace(ref)
	task, err := store.Get(cmd.Context(), ref)
	if err == nil || !errors.Is(err, queue.ErrTaskNotFound) {
		return task, err
	}
	tasks, listErr := store.List(cmd.Context(), queue.Filter{})
	if listErr != nil {
		return nil, listErr
	}
	var match *queue.Task
	for _, candidate := range tasks {
		if !strings.HasPrefix(candidate.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("task id prefix %q is ambiguous", ref)
		}
		match = candidate
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}

func renderTaskDetail(w io.Writer, task *queue.Task, colorize bool) {
	for _, line := range renderSectionHeader("Task "+task.ID, colorize) {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w, renderStatusLine("Status", taskStatusKind(task.Status), statusLabel(task.Status), colorize))
	rows := [][2]string{
		{"Target", task.Target},
		{"Method", orDash(task.Method)},
		{"Priority", task.Priority.String()},
		{"Attempts", attemptsLabel(task)},
		{"Created", formatTimestamp(task.CreatedAt)},
		{"Leased", formatOptionalTimestamp(task.LeasedAt)},
		{"Leased by", orDash(task.LeasedBy)},
		{"Not before", formatOptionalTimestamp(task.NotBefore)},
		{"Finished", formatOptionalTimestamp(task.FinishedAt)},
	}
	if task.WorkflowID != "" {
		rows = append(rows, [2]string{"Workflow", task.WorkflowID + " (" + task.StepName + ")"})
	}
	for _, row := range rows {
		fmt.Fprintln(w, renderField(row[0], row[1]))
	}
	if task.ErrorMessage != "" {
		fmt.Fprintln(w, renderStatusLine("Error", statusError, task.ErrorMessage, colorize))
	}
	if len(task.Payload) > 0 {
		fmt.Fprintln(w, renderField("Payload", string(task.Payload)))
	}
	if len(task.Result) > 0 {
		fmt.Fprintln(w, renderField("Result", string(task.Result)))
	}
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show task counts by status and target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, stats)
				}
				if stats.Total == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				aligns := []columnAlignment{alignLeft}
				for range queue.AllStatuses() {
					aligns = append(aligns, alignRight)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(statsHeaders(), buildStatsRows(stats), aligns))
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [target]",
		Short: "Cancel pending tasks of a target",
		Long:  "Cancel pending tasks of a target, or of every target with --all. Tasks already processing finish normally.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return services.Wrap(services.ErrValidation, "cli", "cancel", "specify a target or --all", nil)
			}
			var target string
			if len(args) == 1 {
				target = args[0]
			}
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator) error {
				count, err := orch.Cancel(cmd.Context(), target)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"cancelled": count})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d pending task(s)\n", count)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Cancel pending tasks of every target")
	return cmd
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [task-id...]",
		Short: "Requeue failed tasks with a fresh retry budget",
		Long:  "Requeue the given failed tasks, or every failed task when no id is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				ids := make([]string, 0, len(args))
				for _, ref := range args {
					task, err := resolveTask(cmd, store, ref)
					if err != nil {
						return err
					}
					ids = append(ids, task.ID)
				}
				count, err := store.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, map[string]int64{"retried": count})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed task(s)\n", count)
				return nil
			})
		},
	}
}

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished tasks and workflow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			age := olderThan
			if !cmd.Flags().Changed("older-than") {
				age = ctx.config.Queue.CleanupAge()
			}
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator) error {
				result, err := orch.Cleanup(cmd.Context(), age)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d task(s) and %d workflow run(s) finished more than %s ago\n",
					result.Tasks, result.Runs, age)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Minimum age of finished records (defaults to queue.cleanup_age_hours)")
	return cmd
}

