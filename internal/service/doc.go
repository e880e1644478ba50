// Package service contains the review use cases that sit in front of the
// task queue: starting a review, planning a retry and cleaning up after
// cascading deletes.
//
// Services receive their collaborators through constructor injection and
// depend only on ports (internal/store, internal/task), never on a concrete
// database or model backend.
//
// Domain errors (internal/domain) pass through unchanged so callers can read
// their stable codes with domain.CodeOf. Infrastructure failures are wrapped
// in ServiceError.
package service
