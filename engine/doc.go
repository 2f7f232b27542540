// Package engine implements an in-memory asynchronous task execution engine.
// It admits units of deferred work under a bounded queue, runs them with a
// bounded degree of parallelism, enforces per-attempt timeouts, retries
// failures with configurable backoff, and tracks every task through an
// explicit lifecycle so callers can poll, wait, or cancel.
//
// The primary components are:
//   - Manager: the public entry point owning the record store, admission
//     control, runner goroutines, and the cleanup sweeper
//   - Task: the unit of deferred work submitted by callers
//   - TaskRecord: the lifecycle snapshot returned by status queries
//   - Batch: scoped grouping with ordered waits and leftover cancellation
//
// A Manager is an explicit dependency: construct one, inject it where work
// is submitted, and Stop it on shutdown. Multiple Managers in one process
// are fully isolated.
package engine
