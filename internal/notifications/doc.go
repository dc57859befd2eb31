// Package notifications delivers ntfy alerts for queue outcomes.
//
// A Dispatcher subscribes to the progress bus, turns workflow completions,
// workflow failures and exhausted task retries into messages and sends them
// from a background goroutine so slow notification endpoints never hold up a
// worker. When no ntfy topic is configured the service is a no-op.
package notifications
