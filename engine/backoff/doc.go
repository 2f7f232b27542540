// Package backoff provides retry delay strategies for failed task attempts.
//
// A Strategy computes the pause before each retry. Linear backoff is the
// engine default; exponential, jittered, and decorrelated variants are
// available for workloads that contend on shared resources.
package backoff
