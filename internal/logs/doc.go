// Package logs reads the worker's JSON log file for the CLI.
//
// It keeps memory bounded when showing the last N records of a large file,
// filters records by task, workflow run, target or level, and follows the file
// as the worker appends to it. Callers supply a context so follow mode shuts
// down cleanly when the CLI exits.
package logs
