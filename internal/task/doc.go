// Package task implements the durable review queue: AITask rows partitioned
// by apiKeyHash, the queue service that enqueues, dequeues and retires them,
// and the worker manager that runs exactly one processing loop per hash so
// that calls against one external credential are never concurrent.
package task
