package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/store"
)

// CacheDirFunc maps a review target to its document cache directory.
type CacheDirFunc func(targetID uuid.UUID) string

// CleanupFailure records one swallowed teardown error.
type CleanupFailure struct {
	Step           string
	ReviewTargetID uuid.UUID
	Err            error
}

// CleanupResult reports what the best-effort part of a cascading delete did.
// Teardown failures never fail the delete; they are collected here instead.
type CleanupResult struct {
	TargetsCleaned int
	TasksCancelled int
	TasksRemoved   int
	Failures       []CleanupFailure
}

// HasFailures reports whether any teardown step failed.
func (r *CleanupResult) HasFailures() bool {
	return len(r.Failures) > 0
}

// Err joins the recorded failures, or returns nil.
func (r *CleanupResult) Err() error {
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s %s: %w", f.Step, f.ReviewTargetID, f.Err))
	}
	return errors.Join(errs...)
}

func (r *CleanupResult) fail(step string, targetID uuid.UUID, err error) {
	r.Failures = append(r.Failures, CleanupFailure{Step: step, ReviewTargetID: targetID, Err: err})
}

// CleanupService deletes targets, spaces and projects. Before rows go it
// cancels the bound task, removes it from the queue and deletes the target's
// document caches.
type CleanupService struct {
	reviews  store.ReviewStore
	spaces   store.SpaceStore
	tasks    TaskRemover
	cancels  Canceller
	blobs    BlobRemover
	cacheDir CacheDirFunc
	logger   *slog.Logger
}

// NewCleanupService creates a CleanupService.
func NewCleanupService(
	reviews store.ReviewStore,
	spaces store.SpaceStore,
	tasks TaskRemover,
	cancels Canceller,
	blobs BlobRemover,
	cacheDir CacheDirFunc,
	logger *slog.Logger,
) (*CleanupService, error) {
	if reviews == nil || spaces == nil || tasks == nil || cancels == nil || blobs == nil || cacheDir == nil {
		return nil, &ServiceError{Operation: "create_service", Message: "cleanup dependencies cannot be nil"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{
		reviews:  reviews,
		spaces:   spaces,
		tasks:    tasks,
		cancels:  cancels,
		blobs:    blobs,
		cacheDir: cacheDir,
		logger:   logger.With("component", "cleanup_service"),
	}, nil
}

// DeleteReviewTarget tears down and deletes one target. Only the row delete
// can fail the call.
func (s *CleanupService) DeleteReviewTarget(ctx context.Context, targetID uuid.UUID) (*CleanupResult, error) {
	res := &CleanupResult{}
	s.teardown(ctx, targetID, res)
	if err := s.reviews.DeleteReviewTarget(ctx, targetID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return res, NewServiceError("delete_review_target", "failed to delete review target", err)
	}
	s.report("review target deleted", res, "review_target_id", targetID)
	return res, nil
}

// DeleteReviewSpace tears down every target of a space and deletes the space.
func (s *CleanupService) DeleteReviewSpace(ctx context.Context, spaceID uuid.UUID) (*CleanupResult, error) {
	res := &CleanupResult{}
	if err := s.teardownSpace(ctx, spaceID, res); err != nil {
		return res, NewServiceError("delete_review_space", "failed to list review targets", err)
	}
	if err := s.spaces.DeleteReviewSpace(ctx, spaceID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return res, NewServiceError("delete_review_space", "failed to delete review space", err)
	}
	s.report("review space deleted", res, "review_space_id", spaceID)
	return res, nil
}

// DeleteProject tears down every target of every space of a project and
// deletes the project.
func (s *CleanupService) DeleteProject(ctx context.Context, projectID uuid.UUID) (*CleanupResult, error) {
	res := &CleanupResult{}
	spaceIDs, err := s.spaces.FindSpaceIDsByProject(ctx, projectID)
	if err != nil {
		return res, NewServiceError("delete_project", "failed to list review spaces", err)
	}
	for _, spaceID := range spaceIDs {
		if err := s.teardownSpace(ctx, spaceID, res); err != nil {
			return res, NewServiceError("delete_project", "failed to list review targets", err)
		}
	}
	if err := s.spaces.DeleteProject(ctx, projectID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return res, NewServiceError("delete_project", "failed to delete project", err)
	}
	s.report("project deleted", res, "project_id", projectID)
	return res, nil
}

func (s *CleanupService) teardownSpace(ctx context.Context, spaceID uuid.UUID, res *CleanupResult) error {
	targets, err := s.reviews.FindReviewTargetsBySpace(ctx, spaceID)
	if err != nil {
		return err
	}
	for _, t := range targets {
		s.teardown(ctx, t.ID, res)
	}
	return nil
}

// teardown cancels and removes the task bound to a target and deletes its
// caches. Every failure is recorded and swallowed.
func (s *CleanupService) teardown(ctx context.Context, targetID uuid.UUID, res *CleanupResult) {
	t, err := s.tasks.FindTaskByReviewTarget(ctx, targetID)
	switch {
	case err != nil && !errors.Is(err, store.ErrNotFound):
		res.fail("find_task", targetID, err)
	case t != nil:
		if s.cancels.Cancel(t.ID) {
			res.TasksCancelled++
		}
		if err := s.tasks.RemoveTask(ctx, t.ID); err != nil {
			res.fail("remove_task", targetID, err)
		} else {
			res.TasksRemoved++
		}
	}

	if err := s.blobs.RemoveAll(ctx, s.cacheDir(targetID)); err != nil {
		res.fail("remove_cache", targetID, err)
	}
	res.TargetsCleaned++
}

func (s *CleanupService) report(msg string, res *CleanupResult, key string, id uuid.UUID) {
	if res.HasFailures() {
		s.logger.Warn(msg+" with cleanup failures",
			key, id,
			"failures", len(res.Failures),
			"error", res.Err())
		return
	}
	s.logger.Info(msg,
		key, id,
		"targets", res.TargetsCleaned,
		"tasks_cancelled", res.TasksCancelled)
}
