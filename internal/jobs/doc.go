// Package jobs runs the background job engine.
//
// A [Queue] admits jobs (rejecting duplicates of a non-terminal job) and wakes idle workers.
// An [Executor] runs a fixed pool of workers, each looping over:
//
//  1. claim the oldest pending job (pending -> running)
//  2. run its task, retrying transient failures with capped exponential backoff
//  3. record the terminal state (completed, or failed with the last error)
//
// Cancelling a running job cancels its context; tasks check it between external calls.
// The [Scheduler] submits library syncs and download polls on a timer.
package jobs
