// Package queue persists tasks and workflow runs in SQLite and exposes the
// queue manager operations that drive their lifecycle.
//
// The Store owns database connections, goose schema migrations, the atomic
// lease that hands one pending task to exactly one worker, retry accounting
// with exponential backoff, statistics, cleanup of finished work, and recovery
// of tasks interrupted by a crash. Workers share no state beyond this store;
// SQLite's single-writer guarantee provides lease mutual exclusion.
//
// Treat this package as the single source of truth for task semantics: a task
// moves pending → processing → completed | failed, a retryable failure returns
// it to pending, and a failed row is always terminal.
package queue
