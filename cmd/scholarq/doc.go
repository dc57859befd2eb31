// Command scholarq runs the task queue worker and inspects or edits the queue
// database from the command line.
//
// The worker subcommand is the long-running process that leases and executes
// tasks; every other subcommand opens the queue database directly, so they
// work whether or not a worker is running.
package main
