package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"scholarq/internal/queue"
)

const shortIDLength = 8

func shortID(id string) string {
	if len(id) <= shortIDLength {
		return id
	}
	return id[:shortIDLength]
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalTimestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTimestamp(*t)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func attemptsLabel(task *queue.Task) string {
	return fmt.Sprintf("%d/%d", task.AttemptCount, task.MaxRetries+1)
}

func buildTaskListRows(tasks []*queue.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, []string{
			shortID(task.ID),
			task.Target,
			orDash(task.Method),
			task.Priority.String(),
			statusLabel(task.Status),
			attemptsLabel(task),
			formatTimestamp(task.CreatedAt),
		})
	}
	return rows
}

func buildStatsRows(stats queue.Stats) [][]string {
	targets := make([]string, 0, len(stats.ByTarget))
	for target := range stats.ByTarget {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	rows := make([][]string, 0, len(targets)+1)
	for _, target := range targets {
		counts := stats.ByTarget[target]
		rows = append(rows, statsRow(target, counts))
	}
	rows = append(rows, statsRow("total", stats.Overall))
	return rows
}

func statsRow(label string, counts map[queue.Status]int) []string {
	row := []string{label}
	for _, status := range queue.AllStatuses() {
		row = append(row, strconv.Itoa(counts[status]))
	}
	return row
}

func statsHeaders() []string {
	headers := []string{"Target"}
	for _, status := range queue.AllStatuses() {
		headers = append(headers, statusLabel(status))
	}
	return headers
}

func buildRunRows(runs []*queue.WorkflowRun) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			run.Definition,
			statusLabel(run.Status),
			strconv.Itoa(len(run.StepResults)) + "/" + strconv.Itoa(len(run.StepTasks)),
			formatTimestamp(run.CreatedAt),
			orDash(run.Error),
		})
	}
	return rows
}
