package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// CancelledReason is the error message stamped on pending tasks removed by Cancel.
const CancelledReason = "Cancelled"

// InterruptedReason is the error message stamped on tasks recovered after a crash.
const InterruptedReason = "Interrupted while processing"

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition will happen automatically.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Priority orders pending tasks; higher values are leased first.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the four defined levels.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority accepts the lowercase names or their numeric values.
func ParsePriority(value string) (Priority, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for p, name := range priorityNames {
		if name == normalized || fmt.Sprint(int(p)) == normalized {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q (use low, normal, high or urgent)", value)
}

func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Task is a single unit of work persisted in SQLite.
type Task struct {
	ID           string     `json:"id"`
	Seq          int64      `json:"seq"`
	Target       string     `json:"target"`
	Method       string     `json:"method,omitempty"`
	Payload      []byte     `json:"payload,omitempty"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	MaxRetries   int        `json:"max_retries"`
	Result       []byte     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LeasedAt     *time.Time `json:"leased_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	NotBefore    *time.Time `json:"not_before,omitempty"`
	LeasedBy     string     `json:"leased_by,omitempty"`
	WorkflowID   string     `json:"workflow_id,omitempty"`
	StepName     string     `json:"step_name,omitempty"`
}

// RetriesRemaining reports whether another failure would return the task to pending.
func (t Task) RetriesRemaining() bool {
	return t.AttemptCount <= t.MaxRetries
}

// NewTask describes a task to enqueue.
type NewTask struct {
	Target     string
	Method     string
	Payload    []byte
	Priority   Priority
	MaxRetries int
	WorkflowID string
	StepName   string
}

// Stats aggregates task counts by status overall and per target.
type Stats struct {
	Overall  map[Status]int            `json:"overall"`
	ByTarget map[string]map[Status]int `json:"by_target"`
	Total    int                       `json:"total"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Statuses   []Status
	Target     string
	WorkflowID string
	Limit      int
}

// CleanupResult reports rows removed by Cleanup.
type CleanupResult struct {
	Tasks int64 `json:"tasks"`
	Runs  int64 `json:"runs"`
}

// RecoveryResult reports tasks found in processing at startup.
type RecoveryResult struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
	Runs     int64 `json:"runs"`
}

// RunStatus represents the lifecycle of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// WorkflowRun is the persisted state of one workflow execution.
type WorkflowRun struct {
	ID          string                     `json:"id"`
	Definition  string                     `json:"definition"`
	Status      RunStatus                  `json:"status"`
	Input       json.RawMessage            `json:"input,omitempty"`
	StepResults map[string]json.RawMessage `json:"step_results"`
	StepTasks   map[string]string          `json:"step_tasks"`
	Error       string                     `json:"error,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	UpdatedAt   time.Time                  `json:"updated_at"`
	FinishedAt  *time.Time                 `json:"finished_at,omitempty"`
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	SchemaVersion    int64  `json:"schema_version"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalTasks       int    `json:"total_tasks"`
	FreeBytes        uint64 `json:"free_bytes"`
	Error            string `json:"error,omitempty"`
}
