package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"scholarq/internal/services"
)

const taskColumns = "seq, id, target, method, payload, priority, status, attempt_count, max_retries, result, error_message, created_at, leased_at, finished_at, not_before, leased_by, workflow_id, step_name"

const runColumns = "id, definition, status, input, step_results, step_tasks, error_message, created_at, updated_at, finished_at"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task        Task
		method      sql.NullString
		statusStr   string
		errorMsg    sql.NullString
		createdRaw  string
		leasedRaw   sql.NullString
		finishedRaw sql.NullString
		notBefore   sql.NullString
		leasedBy    sql.NullString
		workflowID  sql.NullString
		stepName    sql.NullString
	)

	if err := scanner.Scan(
		&task.Seq,
		&task.ID,
		&task.Target,
		&method,
		&task.Payload,
		&task.Priority,
		&statusStr,
		&task.AttemptCount,
		&task.MaxRetries,
		&task.Result,
		&errorMsg,
		&createdRaw,
		&leasedRaw,
		&finishedRaw,
		&notBefore,
		&leasedBy,
		&workflowID,
		&stepName,
	); err != nil {
		return nil, err
	}

	task.Method = method.String
	task.Status = Status(statusStr)
	task.ErrorMessage = errorMsg.String
	task.LeasedBy = leasedBy.String
	task.WorkflowID = workflowID.String
	task.StepName = stepName.String
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	task.LeasedAt = parseNullableTime(leasedRaw)
	task.FinishedAt = parseNullableTime(finishedRaw)
	task.NotBefore = parseNullableTime(notBefore)
	return &task, nil
}

func scanRun(scanner rowScanner) (*WorkflowRun, error) {
	var (
		run         WorkflowRun
		statusStr   string
		input       []byte
		resultsRaw  string
		tasksRaw    string
		errorMsg    sql.NullString
		createdRaw  string
		updatedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Definition,
		&statusStr,
		&input,
		&resultsRaw,
		&tasksRaw,
		&errorMsg,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	run.Status = RunStatus(statusStr)
	if len(input) > 0 {
		run.Input = json.RawMessage(input)
	}
	run.Error = errorMsg.String
	run.StepResults = map[string]json.RawMessage{}
	run.StepTasks = map[string]string{}
	if err := json.Unmarshal([]byte(resultsRaw), &run.StepResults); err != nil {
		return nil, fmt.Errorf("decode step results for run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(tasksRaw), &run.StepTasks); err != nil {
		return nil, fmt.Errorf("decode step tasks for run %s: %w", run.ID, err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		run.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		run.UpdatedAt = updated
	}
	run.FinishedAt = parseNullableTime(finishedRaw)
	return &run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

// jsonEachIn is an IN operand bound to a single JSON array parameter, so a
// membership test costs one SQL variable however many values it carries.
const jsonEachIn = "(SELECT value FROM json_each(?))"

func jsonList(values []string) (string, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode id list: %w", err)
	}
	return string(data), nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func taskNotFound(operation, id string) error {
	return services.Wrap(services.ErrNotFound, "queue", operation, "task "+id, ErrTaskNotFound)
}

func notProcessing(operation, id string, status Status) error {
	return services.Wrap(services.ErrValidation, "queue", operation, fmt.Sprintf("task %s is %s", id, status), ErrNotProcessing)
}
