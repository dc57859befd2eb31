package queue

import "errors"

var (
	// ErrTaskNotFound reports an unknown task identifier.
	ErrTaskNotFound = errors.New("task not found")
	// ErrRunNotFound reports an unknown workflow run identifier.
	ErrRunNotFound = errors.New("workflow run not found")
	// ErrNotProcessing reports a completion or failure for a task that is not leased.
	ErrNotProcessing = errors.New("task is not processing")
)
