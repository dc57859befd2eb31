// Package worker runs the pool of loops that lease tasks from the queue store,
// dispatch them to registered handlers, and record the outcome.
//
// Each loop leases only targets that currently have a handler, so tasks for
// unknown targets stay pending until one is registered. Handler calls are
// detached from the pool's cancellation: Stop stops leasing and waits for
// in-flight calls to finish and persist. A panicking handler is recovered and
// recorded as a failure. Every call runs inside an OpenTelemetry span.
package worker
