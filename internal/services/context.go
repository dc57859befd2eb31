package services

import "context"

type contextKey string

const (
	taskIDKey     contextKey = "task_id"
	targetKey     contextKey = "target"
	workerKey     contextKey = "worker"
	workflowIDKey contextKey = "workflow_id"
	stepKey       contextKey = "step"
	requestIDKey  contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTaskID annotates context with the task identifier.
func WithTaskID(ctx context.Context, id string) context.Context {
	return withString(ctx, taskIDKey, id)
}

// TaskIDFromContext extracts the task identifier if present.
func TaskIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, taskIDKey)
}

// WithTarget annotates context with the handler target name.
func WithTarget(ctx context.Context, target string) context.Context {
	return withString(ctx, targetKey, target)
}

// TargetFromContext returns the handler target if present.
func TargetFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, targetKey)
}

// WithWorker annotates context with the worker loop identifier.
func WithWorker(ctx context.Context, worker string) context.Context {
	return withString(ctx, workerKey, worker)
}

// WorkerFromContext returns the worker identifier if present.
func WorkerFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, workerKey)
}

// WithWorkflowID annotates context with the workflow run identifier.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withString(ctx, workflowIDKey, id)
}

// WorkflowIDFromContext returns the workflow run identifier if present.
func WorkflowIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, workflowIDKey)
}

// WithStep annotates context with the workflow step name.
func WithStep(ctx context.Context, step string) context.Context {
	return withString(ctx, stepKey, step)
}

// StepFromContext returns the workflow step name if present.
func StepFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, stepKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
