package storage

import (
	"context"
	"fmt"

	"examforge/internal/models"
)

type SourceRepo struct {
	db *DB
}

func NewSourceRepo(db *DB) *SourceRepo {
	return &SourceRepo{db: db}
}

// ListSources returns the section's sources in schedule order.
func (r *SourceRepo) ListSources(ctx context.Context, sectionID string) ([]models.Source, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT s.source_id, s.subject_id, s.title, ss.position, COALESCE(s.knowledge,''), COALESCE(s.reference_path,'')
FROM section_sources ss
JOIN sources s ON s.source_id = ss.source_id
WHERE ss.section_id=$1
ORDER BY ss.position, s.sort_order`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	out := make([]models.Source, 0)
	for rows.Next() {
		var s models.Source
		if err := rows.Scan(&s.SourceID, &s.SubjectID, &s.Title, &s.Order, &s.Knowledge, &s.ReferencePath); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}
