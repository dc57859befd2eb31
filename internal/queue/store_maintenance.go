package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scholarq/internal/services"
)

// Stats returns task counts grouped by status, overall and per target.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT target, status, COUNT(1) FROM tasks GROUP BY target, status`)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{
		Overall:  make(map[Status]int),
		ByTarget: make(map[string]map[Status]int),
	}
	for rows.Next() {
		var (
			target string
			status Status
			count  int
		)
		if err := rows.Scan(&target, &status, &count); err != nil {
			return Stats{}, err
		}
		stats.Overall[status] += count
		if stats.ByTarget[target] == nil {
			stats.ByTarget[target] = make(map[Status]int)
		}
		stats.ByTarget[target][status] += count
		stats.Total += count
	}
	return stats, rows.Err()
}

// Cleanup deletes terminal tasks and finished workflow runs whose finish time
// is older than olderThan.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupResult, error) {
	if olderThan < 0 {
		return CleanupResult{}, services.Wrap(services.ErrValidation, "queue", "cleanup", "age must be >= 0", nil)
	}
	ctx = ensureContext(ctx)
	cutoff := formatTime(time.Now().Add(-olderThan))

	var result CleanupResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM tasks WHERE status IN (?, ?) AND finished_at IS NOT NULL AND finished_at < ?`,
			StatusCompleted, StatusFailed, cutoff)
		if err != nil {
			return err
		}
		if result.Tasks, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`DELETE FROM workflow_runs WHERE status <> ? AND finished_at IS NOT NULL AND finished_at < ?`,
			RunRunning, cutoff)
		if err != nil {
			return err
		}
		result.Runs, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return CleanupResult{}, fmt.Errorf("cleanup: %w", err)
	}
	return result, nil
}

// RecoverInterrupted returns tasks left in processing by a previous process to
// pending when their retry budget allows it, and fails them otherwise. Runs
// still marked running are failed since their coordinator is gone. Call it
// only while no worker of this store is running.
func (s *Store) RecoverInterrupted(ctx context.Context) (RecoveryResult, error) {
	ctx = ensureContext(ctx)
	var result RecoveryResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, error_message = ?, not_before = NULL
            WHERE status = ? AND attempt_count <= max_retries`,
			StatusPending, InterruptedReason, StatusProcessing)
		if err != nil {
			return err
		}
		if result.Requeued, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, error_message = ?, finished_at = ?
            WHERE status = ?`,
			StatusFailed, InterruptedReason, now, StatusProcessing)
		if err != nil {
			return err
		}
		if result.Failed, err = res.RowsAffected(); err != nil {
			return err
		}
		res, err = tx.ExecContext(ctx,
			`UPDATE workflow_runs SET status = ?, error_message = ?, finished_at = ?, updated_at = ?
            WHERE status = ?`,
			RunFailed, InterruptedReason, now, now, RunRunning)
		if err != nil {
			return err
		}
		result.Runs, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return RecoveryResult{}, fmt.Errorf("recover interrupted tasks: %w", err)
	}
	return result, nil
}

// RetryFailed moves terminally failed tasks back to pending with a fresh retry
// budget. Without ids every failed task is retried. This operator action is
// the only path out of a terminal state; tasks removed by Cancel are never
// revived.
func (s *Store) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	query := `UPDATE tasks
        SET status = ?, attempt_count = 0, error_message = NULL, result = NULL,
            finished_at = NULL, not_before = NULL, leased_at = NULL
        WHERE status = ? AND (error_message IS NULL OR error_message != ?)`
	args := []any{StatusPending, StatusFailed, CancelledReason}
	if len(ids) > 0 {
		list, err := jsonList(ids)
		if err != nil {
			return 0, err
		}
		query += " AND id IN " + jsonEachIn
		args = append(args, list)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth returns diagnostic information about the task database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if free, ok := freeDiskBytes(filepath.Dir(s.path)); ok {
		health.FreeBytes = free
	}

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	if health.SchemaVersion, err = s.schemaVersion(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("schema version: %w", err)
	}

	row := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM tasks")
	if err := row.Scan(&health.TotalTasks); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count tasks: %w", err)
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
