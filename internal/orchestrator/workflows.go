package orchestrator

import (
	"context"
	"encoding/json"

	"scholarq/internal/queue"
	"scholarq/internal/workflow"
)

// RegisterWorkflow validates def and makes it executable. Cyclic or otherwise
// invalid definitions are rejected before any task is created.
func (o *Orchestrator) RegisterWorkflow(def workflow.Definition) error {
	return o.engine.Register(def)
}

// LoadWorkflows registers every definition found in the TOML file at path.
func (o *Orchestrator) LoadWorkflows(path string) ([]string, error) {
	defs, err := workflow.LoadDefinitions(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		if err := o.engine.Register(def); err != nil {
			return names, err
		}
		names = append(names, def.Name)
	}
	return names, nil
}

// Workflows returns the registered workflow names.
func (o *Orchestrator) Workflows() []string {
	return o.engine.Names()
}

// ExecuteWorkflow runs the named workflow and blocks until it finishes. The
// worker pool must be running for steps to make progress.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, name string, input json.RawMessage) (*queue.WorkflowRun, error) {
	return o.engine.Execute(ctx, name, input)
}

// WorkflowRun fetches a persisted run by id.
func (o *Orchestrator) WorkflowRun(ctx context.Context, id string) (*queue.WorkflowRun, error) {
	return o.engine.Run(ctx, id)
}
