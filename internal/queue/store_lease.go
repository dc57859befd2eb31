package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LeaseNext atomically claims the highest-priority eligible pending task,
// oldest first within a priority. Only tasks whose target is in targets are
// considered; a nil targets slice matches every target. It returns nil, nil
// when nothing is eligible.
func (s *Store) LeaseNext(ctx context.Context, workerID string, targets []string) (*Task, error) {
	ctx = ensureContext(ctx)
	if targets != nil && len(targets) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	args := []any{now, nullableString(workerID), StatusProcessing, StatusPending, now}
	targetClause := ""
	if len(targets) > 0 {
		list, err := jsonList(targets)
		if err != nil {
			return nil, err
		}
		targetClause = " AND target IN " + jsonEachIn
		args = append(args, list)
	}
	args = append(args, StatusPending)

	query := `UPDATE tasks
        SET leased_at = ?, leased_by = ?, status = ?, attempt_count = attempt_count + 1
        WHERE seq = (
            SELECT seq FROM tasks
            WHERE status = ? AND (not_before IS NULL OR not_before <= ?)` + targetClause + `
            ORDER BY priority DESC, seq ASC
            LIMIT 1
        ) AND status = ?
        RETURNING ` + taskColumns

	var task *Task
	err := retryOnBusy(ctx, func() error {
		var scanErr error
		task, scanErr = scanTask(s.db.QueryRowContext(ctx, query, args...))
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease task: %w", err)
	}
	return task, nil
}

// Complete records a successful result for a leased task.
func (s *Store) Complete(ctx context.Context, id string, result []byte) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE tasks SET status = ?, result = ?, error_message = NULL, finished_at = ?, not_before = NULL
        WHERE id = ? AND status = ?`,
		StatusCompleted, result, formatTime(time.Now()), id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.transitionError(ctx, "complete", id)
}

// Fail records a handler failure. While attempts remain within the retry
// budget the task returns to pending after the backoff delay; otherwise it
// becomes terminally failed. The updated task is returned.
func (s *Store) Fail(ctx context.Context, id string, message string) (*Task, error) {
	ctx = ensureContext(ctx)
	var (
		status     Status
		attempts   int
		maxRetries int
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT status, attempt_count, max_retries FROM tasks WHERE id = ?`, id)
		if err := row.Scan(&status, &attempts, &maxRetries); err != nil {
			return err
		}
		if status != StatusProcessing {
			return nil
		}
		now := time.Now()
		if attempts <= maxRetries {
			notBefore := now.Add(s.retry.Delay(attempts))
			_, err := tx.ExecContext(ctx,
				`UPDATE tasks SET status = ?, error_message = ?, not_before = ? WHERE id = ?`,
				StatusPending, message, formatTime(notBefore), id)
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, error_message = ?, finished_at = ?, not_before = NULL WHERE id = ?`,
			StatusFailed, message, formatTime(now), id)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taskNotFound("fail", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fail task: %w", err)
	}
	if status != StatusProcessing {
		return nil, notProcessing("fail", id, status)
	}
	return s.Get(ctx, id)
}

// Cancel marks pending tasks for target as failed with CancelledReason. An
// empty target cancels pending tasks of every target. Processing tasks are
// left to finish.
func (s *Store) Cancel(ctx context.Context, target string) (int64, error) {
	query := `UPDATE tasks SET status = ?, error_message = ?, finished_at = ?, not_before = NULL WHERE status = ?`
	args := []any{StatusFailed, CancelledReason, formatTime(time.Now()), StatusPending}
	if target != "" {
		query += " AND target = ?"
		args = append(args, target)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel tasks: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) transitionError(ctx context.Context, operation, id string) error {
	var status Status
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT status FROM tasks WHERE id = ?`, id)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return taskNotFound(operation, id)
		}
		return fmt.Errorf("%s task: %w", operation, err)
	}
	return notProcessing(operation, id, status)
}
