package review

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/generation"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
)

// partition splits items into at most concurrentItems categories. With a
// limit of one or a single item everything is reviewed together. The model
// proposes the grouping; a failed categorization falls back to round robin.
func (e *Engine) partition(
	ctx context.Context,
	model ReviewModel,
	items []domain.ChecklistSnapshot,
	concurrentItems int,
) [][]domain.ChecklistSnapshot {
	if concurrentItems <= 1 || len(items) <= 1 {
		return [][]domain.ChecklistSnapshot{items}
	}
	maxCategories := concurrentItems
	if maxCategories > len(items) {
		maxCategories = len(items)
	}

	cats, err := model.Categorize(ctx, items, maxCategories)
	if err != nil {
		logger.FromContextOrDefault(ctx, e.logger).Warn("categorization failed, using round robin",
			slog.Int("item_count", len(items)),
			slog.Any("error", err))
		return roundRobin(items, maxCategories)
	}
	return repairCategories(cats, items, maxCategories)
}

// repairCategories makes a model grouping usable: every item ends up in
// exactly one category and there are at most maxCategories non-empty
// categories. Unknown and duplicate ids are dropped; overflow categories are
// merged into the smallest ones; unassigned items go to the smallest category.
func repairCategories(
	cats []generation.Category,
	items []domain.ChecklistSnapshot,
	maxCategories int,
) [][]domain.ChecklistSnapshot {
	byID := make(map[uuid.UUID]domain.ChecklistSnapshot, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	assigned := make(map[uuid.UUID]bool, len(items))

	var groups [][]domain.ChecklistSnapshot
	for _, c := range cats {
		var group []domain.ChecklistSnapshot
		for _, raw := range c.ChecklistIDs {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				continue
			}
			it, known := byID[id]
			if !known || assigned[id] {
				continue
			}
			assigned[id] = true
			group = append(group, it)
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}

	if len(groups) == 0 {
		return roundRobin(items, maxCategories)
	}

	for len(groups) > maxCategories {
		last := groups[len(groups)-1]
		groups = groups[:len(groups)-1]
		i := smallest(groups)
		groups[i] = append(groups[i], last...)
	}

	for _, it := range items {
		if assigned[it.ID] {
			continue
		}
		i := smallest(groups)
		groups[i] = append(groups[i], it)
	}
	return groups
}

func smallest(groups [][]domain.ChecklistSnapshot) int {
	best := 0
	for i := range groups {
		if len(groups[i]) < len(groups[best]) {
			best = i
		}
	}
	return best
}

// roundRobin deals items into n balanced groups, preserving order.
func roundRobin(items []domain.ChecklistSnapshot, n int) [][]domain.ChecklistSnapshot {
	if n <= 1 || len(items) <= 1 {
		return [][]domain.ChecklistSnapshot{items}
	}
	if n > len(items) {
		n = len(items)
	}
	groups := make([][]domain.ChecklistSnapshot, n)
	for i, it := range items {
		groups[i%n] = append(groups[i%n], it)
	}
	return groups
}
