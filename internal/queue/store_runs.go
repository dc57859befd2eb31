package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"scholarq/internal/services"
)

// CreateRun persists a new workflow run, assigning an ID and timestamps when unset.
func (s *Store) CreateRun(ctx context.Context, run *WorkflowRun) error {
	if run == nil || run.Definition == "" {
		return services.Wrap(services.ErrValidation, "queue", "create run", "definition is required", nil)
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	results, tasks, err := encodeRunMaps(run)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Definition,
		run.Status,
		[]byte(run.Input),
		results,
		tasks,
		nullableString(run.Error),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
		nullableTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}
	return nil
}

// UpdateRun writes the mutable state of a workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *WorkflowRun) error {
	if run == nil || run.ID == "" {
		return services.Wrap(services.ErrValidation, "queue", "update run", "run id is required", nil)
	}
	run.UpdatedAt = time.Now().UTC()
	results, tasks, err := encodeRunMaps(run)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE workflow_runs
        SET status = ?, step_results = ?, step_tasks = ?, error_message = ?, updated_at = ?, finished_at = ?
        WHERE id = ?`,
		run.Status,
		results,
		tasks,
		nullableString(run.Error),
		formatTime(run.UpdatedAt),
		nullableTime(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("update workflow run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "update run", "run "+run.ID, ErrRunNotFound)
	}
	return nil
}

// GetRun fetches a workflow run by identifier.
func (s *Store) GetRun(ctx context.Context, id string) (*WorkflowRun, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get run", "run "+id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow run: %w", err)
	}
	return run, nil
}

// ListRuns returns workflow runs newest first. A limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []*WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func encodeRunMaps(run *WorkflowRun) (string, string, error) {
	results := run.StepResults
	if results == nil {
		results = map[string]json.RawMessage{}
	}
	tasks := run.StepTasks
	if tasks == nil {
		tasks = map[string]string{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return "", "", fmt.Errorf("encode step results: %w", err)
	}
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return "", "", fmt.Errorf("encode step tasks: %w", err)
	}
	return string(resultsJSON), string(tasksJSON), nil
}
