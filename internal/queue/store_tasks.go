package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"scholarq/internal/services"
)

const insertTaskSQL = `INSERT INTO tasks (id, target, method, payload, priority, status, attempt_count, max_retries, created_at, workflow_id, step_name)
    VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`

func validateNewTask(task NewTask) error {
	if strings.TrimSpace(task.Target) == "" {
		return services.Wrap(services.ErrValidation, "queue", "enqueue", "target is required", nil)
	}
	if !task.Priority.Valid() {
		return services.Wrap(services.ErrValidation, "queue", "enqueue", fmt.Sprintf("invalid priority %d", int(task.Priority)), nil)
	}
	if task.MaxRetries < 0 {
		return services.Wrap(services.ErrValidation, "queue", "enqueue", "max retries must be >= 0", nil)
	}
	return nil
}

func insertArgs(id string, task NewTask, now time.Time) []any {
	return []any{
		id,
		task.Target,
		task.Method,
		task.Payload,
		int(task.Priority),
		StatusPending,
		task.MaxRetries,
		formatTime(now),
		nullableString(task.WorkflowID),
		nullableString(task.StepName),
	}
}

// Enqueue persists a pending task and returns its identifier. The target is
// not checked against registered handlers.
func (s *Store) Enqueue(ctx context.Context, task NewTask) (string, error) {
	if err := validateNewTask(task); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.execWithRetry(ctx, insertTaskSQL, insertArgs(id, task, time.Now())...); err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

// EnqueueBatch persists all tasks in one transaction. Either every task is
// stored or none is.
func (s *Store) EnqueueBatch(ctx context.Context, tasks []NewTask) ([]string, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	for _, task := range tasks {
		if err := validateNewTask(task); err != nil {
			return nil, err
		}
	}

	ctx = ensureContext(ctx)
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, insertTaskSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()

		ids = make([]string, 0, len(tasks))
		now := time.Now()
		for _, task := range tasks {
			id := uuid.NewString()
			if _, err := stmt.ExecContext(ctx, insertArgs(id, task, now)...); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert task batch: %w", err)
	}
	return ids, nil
}

// Get fetches a task by identifier.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taskNotFound("get", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetMany fetches the tasks with the given identifiers keyed by id. Unknown ids
// are absent from the result.
func (s *Store) GetMany(ctx context.Context, ids []string) (map[string]*Task, error) {
	tasks := make(map[string]*Task, len(ids))
	if len(ids) == 0 {
		return tasks, nil
	}
	list, err := jsonList(ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+taskColumns+` FROM tasks WHERE id IN `+jsonEachIn, list)
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks[task.ID] = task
	}
	return tasks, rows.Err()
}

// List returns tasks matching the filter in insertion order.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Task, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Target != "" {
		clauses = append(clauses, "target = ?")
		args = append(args, filter.Target)
	}
	if filter.WorkflowID != "" {
		clauses = append(clauses, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}
