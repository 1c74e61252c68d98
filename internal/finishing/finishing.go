package finishing

import (
	"context"
	"fmt"

	"examforge/internal/logger"
	"examforge/internal/models"
	"examforge/internal/questions"
)

type ItemStore interface {
	ListItems(ctx context.Context, sectionID string) ([]models.Question, error)
	DeleteItems(ctx context.Context, sectionID string, itemIDs []string) error
	ItemStats(ctx context.Context, sectionID string) (models.ItemStats, error)
}

// Proofreader runs after the last batch of a run. It drops questions whose
// stem repeats an earlier one, keeping the first occurrence.
type Proofreader struct {
	store ItemStore
	log   *logger.Logger
}

func NewProofreader(store ItemStore, log *logger.Logger) *Proofreader {
	if log == nil {
		log = logger.Nop()
	}
	return &Proofreader{store: store, log: log}
}

func (p *Proofreader) Finish(ctx context.Context, sec models.Section) ([]string, error) {
	items, err := p.store.ListItems(ctx, sec.SectionID)
	if err != nil {
		return nil, fmt.Errorf("list items for proofreading: %w", err)
	}
	seen := make(map[string]struct{}, len(items))
	var dupes []string
	for _, it := range items {
		k := questions.CanonicalStem(it.Stem)
		if _, ok := seen[k]; ok {
			dupes = append(dupes, it.ItemID)
			continue
		}
		seen[k] = struct{}{}
	}
	if len(dupes) == 0 {
		return nil, nil
	}
	if err := p.store.DeleteItems(ctx, sec.SectionID, dupes); err != nil {
		return nil, fmt.Errorf("delete duplicate items: %w", err)
	}
	p.log.Info("proofreading removed duplicates", "section_id", sec.SectionID, "removed", len(dupes))
	return []string{fmt.Sprintf("proofreading removed %d duplicate questions", len(dupes))}, nil
}

// SelectionCheck passes once every question of the section has been selected
// by a reviewer.
type SelectionCheck struct {
	store ItemStore
}

func NewSelectionCheck(store ItemStore) *SelectionCheck {
	return &SelectionCheck{store: store}
}

func (c *SelectionCheck) Complete(ctx context.Context, sec models.Section) (bool, string, error) {
	st, err := c.store.ItemStats(ctx, sec.SectionID)
	if err != nil {
		return false, "", fmt.Errorf("item stats: %w", err)
	}
	switch {
	case st.Total == 0:
		return false, "section has no questions", nil
	case st.Selected < st.Total:
		return false, fmt.Sprintf("%d of %d questions selected", st.Selected, st.Total), nil
	default:
		return true, "", nil
	}
}
