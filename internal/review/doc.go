// Package review executes dequeued review tasks. For each task it acquires
// document content (fresh extraction or the target's cache on retry),
// partitions the checklist, runs the small or large review strategy, writes
// one result per checklist item atomically and moves the review target to
// completed or error.
package review
