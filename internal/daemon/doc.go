// Package daemon coordinates the long-running scholarq worker process.
//
// It wires configuration, the queue store and the orchestrator into a single
// lifecycle with flock-based locking so only one worker process drains a
// given queue database. Interrupted-task recovery at start relies on that
// lock: no other process can be holding leases when it runs.
//
// Keep scheduling logic in the orchestrator and its collaborators; the daemon
// focuses on startup, shutdown and high level coordination.
package daemon
