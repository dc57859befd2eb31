// Package services defines shared utilities consumed by the queue, worker, and
// workflow packages.
//
// Key responsibilities:
//   - Context helpers that stamp task IDs, targets, worker names, workflow runs,
//     and correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified with errors.Is at the API boundary.
//
// Use these helpers when wiring new components so operational behaviour stays
// uniform across the scheduler.
package services
