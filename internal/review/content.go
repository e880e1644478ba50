package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/extract"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/phrazzld/docreview-api/internal/task"
)

// CacheDir is the blob directory holding the document caches of a target.
// Caches live outside task directories so they outlive the task.
func CacheDir(targetID uuid.UUID) string {
	return "review-cache/" + targetID.String()
}

// acquireContent produces the documents to review. A retry reuses the
// caches written by the first run; a fresh run extracts the task files and
// writes caches for later retries.
func (e *Engine) acquireContent(
	ctx context.Context,
	target *domain.ReviewTarget,
	p *task.ReviewPayload,
	files []task.FileRecord,
) ([]generation.Document, error) {
	if p.IsRetry {
		return e.loadCaches(ctx, target.ID)
	}
	if len(files) == 0 {
		return nil, domain.NewError(domain.CodeFilesEmpty, "review task has no files", domain.ErrFilesEmpty)
	}

	docs := make([]generation.Document, 0, len(files))
	for _, f := range files {
		doc, err := e.extractor.Extract(ctx, extract.Source{
			Name:        f.FileName,
			ProcessMode: f.ProcessMode,
			Path:        f.FilePath,
			ImageCount:  f.ConvertedImageCount,
		})
		if err != nil {
			return nil, fmt.Errorf("extract documents: %w", err)
		}
		docs = append(docs, doc)
	}

	existing, err := e.reviews.FindDocumentCaches(ctx, target.ID)
	if err != nil {
		return nil, fmt.Errorf("load document caches: %w", err)
	}
	if len(existing) > 0 {
		// A resumed run already cached these files.
		return docs, nil
	}
	if err := e.saveCaches(ctx, target.ID, docs); err != nil {
		// The review still runs; only a later retry loses its content.
		logger.FromContextOrDefault(ctx, e.logger).Error("failed to save document caches",
			slog.Any("error", err))
	}
	return docs, nil
}

func (e *Engine) loadCaches(ctx context.Context, targetID uuid.UUID) ([]generation.Document, error) {
	caches, err := e.reviews.FindDocumentCaches(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("load document caches: %w", err)
	}
	if len(caches) == 0 {
		return nil, domain.NewError(domain.CodeRetryNoCache,
			fmt.Sprintf("review target %s has no document cache", targetID), domain.ErrRetryNoCache)
	}
	docs := make([]generation.Document, 0, len(caches))
	for _, c := range caches {
		doc, err := e.extractor.Extract(ctx, extract.Source{
			Name:        c.FileName,
			ProcessMode: c.ProcessMode,
			Path:        c.CachePath,
			ImageCount:  c.ImageCount,
		})
		if err != nil {
			return nil, fmt.Errorf("read document cache: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// saveCaches writes every document below CacheDir and records the cache
// rows. A partial write is rolled back so no row points at missing blobs.
func (e *Engine) saveCaches(ctx context.Context, targetID uuid.UUID, docs []generation.Document) error {
	dir := CacheDir(targetID)
	now := time.Now().UTC()
	caches := make([]*domain.ReviewDocumentCache, 0, len(docs))
	for _, d := range docs {
		c := &domain.ReviewDocumentCache{
			ID:             uuid.New(),
			ReviewTargetID: targetID,
			FileName:       d.Name,
			CreatedAt:      now,
		}
		c.CachePath = dir + "/" + c.ID.String()
		if d.IsImage() {
			c.ProcessMode = domain.ProcessModeImage
			c.ImageCount = len(d.Images)
			for i, img := range d.Images {
				if err := e.blobs.Write(ctx, fmt.Sprintf("%s/%d", c.CachePath, i), img.Data); err != nil {
					return e.rollbackCaches(ctx, dir, err)
				}
			}
		} else {
			c.ProcessMode = domain.ProcessModeText
			if err := e.blobs.Write(ctx, c.CachePath, []byte(d.Text)); err != nil {
				return e.rollbackCaches(ctx, dir, err)
			}
		}
		caches = append(caches, c)
	}
	if err := e.reviews.SaveDocumentCaches(ctx, caches); err != nil {
		return e.rollbackCaches(ctx, dir, err)
	}
	return nil
}

func (e *Engine) rollbackCaches(ctx context.Context, dir string, cause error) error {
	if err := e.blobs.RemoveAll(ctx, dir); err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Warn("failed to remove partial document cache",
			slog.String("path", dir),
			slog.Any("error", err))
	}
	return cause
}
