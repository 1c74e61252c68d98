package storage

import (
	"context"
	"fmt"

	"examforge/internal/models"
)

type ItemRepo struct {
	db *DB
}

func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

// CountItems counts the section's items, only those tagged with attemptID when it is set.
func (r *ItemRepo) CountItems(ctx context.Context, sectionID, attemptID string) (int, error) {
	var n int
	var err error
	if attemptID == "" {
		err = r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM section_items WHERE section_id=$1`, sectionID).Scan(&n)
	} else {
		err = r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM section_items WHERE section_id=$1 AND attempt_id=$2::uuid`, sectionID, attemptID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}

func (r *ItemRepo) ListItems(ctx context.Context, sectionID string) ([]models.Question, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT item_id::text, section_id, COALESCE(source_id,''), COALESCE(attempt_id::text,''), batch_number, stem,
       options, answer, COALESCE(explanation,''), COALESCE(difficulty,''), selected, created_at
FROM section_items
WHERE section_id=$1
ORDER BY batch_number, created_at`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	out := make([]models.Question, 0)
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ItemID, &q.SectionID, &q.SourceID, &q.AttemptID, &q.BatchNumber, &q.Stem,
			&q.Options, &q.Answer, &q.Explanation, &q.Difficulty, &q.Selected, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

func (r *ItemRepo) DeleteItems(ctx context.Context, sectionID string, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM section_items WHERE section_id=$1 AND item_id::text = ANY($2)`, sectionID, itemIDs)
	if err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	return nil
}

func (r *ItemRepo) ItemStats(ctx context.Context, sectionID string) (models.ItemStats, error) {
	var st models.ItemStats
	err := r.db.Pool.QueryRow(ctx, `
SELECT COUNT(*), COUNT(*) FILTER (WHERE selected)
FROM section_items WHERE section_id=$1`, sectionID).Scan(&st.Total, &st.Selected)
	if err != nil {
		return models.ItemStats{}, fmt.Errorf("item stats: %w", err)
	}
	return st, nil
}
