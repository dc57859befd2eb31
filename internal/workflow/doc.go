// Package workflow runs small DAGs of named steps on top of the task queue.
//
// A Definition lists steps, each bound to a handler target and method, with
// depends_on edges between them. Definitions are validated once when
// registered: names must be unique, every dependency must name a declared
// step, and the graph must be acyclic. The Engine executes a registered
// definition by submitting each step as an ordinary task once all of its
// dependencies have results, merging those results into the step payload.
// Run state is persisted as a queue.WorkflowRun after every change.
//
// A step that exhausts its retries fails the whole run. No further steps are
// submitted and results from siblings already in flight are discarded.
package workflow
