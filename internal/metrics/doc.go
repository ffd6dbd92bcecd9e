// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Round starts, conclusions and matches produced
//   - Order submissions and rejections by side
//   - Scheduler task outcomes and backlog
//   - Notification queue depth, publish results and drops
//   - Connected round event stream clients
//
// All recording methods are safe on a nil *Metrics.
package metrics
