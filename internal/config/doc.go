// Package config loads, normalizes, and validates scholarq configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// SCHOLARQ_DATA_DIR. The Config type centralizes every knob the worker daemon
// and CLI need so the queue store, worker pool, and logger are tuned in one
// pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
