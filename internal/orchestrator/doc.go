// Package orchestrator is the facade applications use to drive the task
// queue. It owns the handler registry, the worker pool, the workflow engine
// and the progress bus, and wires them to one queue store.
//
// Construct a single Orchestrator at process start and pass it to the code
// that submits work. Start recovers tasks interrupted by a previous process,
// starts the worker loops and a janitor that purges old terminal records.
package orchestrator
