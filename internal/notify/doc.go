// Package notify delivers user notifications outside the request path.
//
// Callers hand a notification to the Dispatcher, which queues it and
// returns at once. A consumer goroutine drains the queue in batches and
// hands each batch to a Publisher: Kafka in production, the log otherwise.
// Delivery failures are logged and counted, never returned to the caller.
package notify
