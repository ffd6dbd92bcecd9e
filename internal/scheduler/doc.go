// Package scheduler implements the deferred task runner that concludes rounds.
//
// The scheduler:
//   - Stores one task per (kind, round) so registering twice is harmless
//   - Polls the task store and runs due tasks with bounded concurrency
//   - Retries failed tasks with exponential backoff
//   - Drops tasks whose error is permanent (see model.IsPermanent)
//
// Delivery is at-least-once: a task that ran but whose deletion failed runs
// again, so handlers must be idempotent.
package scheduler
