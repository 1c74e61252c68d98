package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"examforge/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const sectionColumns = `section_id, paper_id, subject_id, COALESCE(title,''), mode, item_count, items_per_unit, status,
  COALESCE(attempt_id::text,''), started_at, last_activity_at, COALESCE(error,''), batch_number, total_batches,
  batch_size, generated_so_far, batch_metadata, created_at, updated_at`

// SectionRepo owns the sections row and the items hanging off it. Every write
// made on behalf of a generation run is conditional on the run's attempt id.
type SectionRepo struct {
	db *DB
}

func NewSectionRepo(db *DB) *SectionRepo {
	return &SectionRepo{db: db}
}

func (r *SectionRepo) GetSection(ctx context.Context, sectionID string) (models.Section, error) {
	sec, err := scanSection(r.db.Pool.QueryRow(ctx, `SELECT `+sectionColumns+` FROM sections WHERE section_id=$1`, sectionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Section{}, fmt.Errorf("get section %s: %w", sectionID, models.ErrNotFound)
	}
	if err != nil {
		return models.Section{}, fmt.Errorf("get section: %w", err)
	}
	return sec, nil
}

func (r *SectionRepo) StartAttempt(ctx context.Context, in models.AttemptStart) (models.Section, error) {
	meta, err := in.Progress.Marshal()
	if err != nil {
		return models.Section{}, err
	}
	var out models.Section
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		sec, err := scanSection(tx.QueryRow(ctx, `
UPDATE sections SET status='generating', attempt_id=$2::uuid, started_at=$3, last_activity_at=$3, error=NULL,
  batch_number=0, generated_so_far=0, batch_size=$4, total_batches=$5, batch_metadata=$6, updated_at=NOW()
WHERE section_id=$1 AND status = ANY($7)
RETURNING `+sectionColumns,
			in.SectionID, in.AttemptID, in.At, in.BatchSize, in.TotalBatches, meta, statusStrings(in.From)))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrConflict(ctx, tx, in.SectionID, "start attempt")
		}
		if err != nil {
			return fmt.Errorf("start attempt: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM section_items WHERE section_id=$1`, in.SectionID); err != nil {
			return fmt.Errorf("delete prior items: %w", err)
		}
		out = sec
		return nil
	})
	return out, err
}

func (r *SectionRepo) ResumeAttempt(ctx context.Context, in models.AttemptResume) (models.Section, error) {
	meta, err := in.Progress.Marshal()
	if err != nil {
		return models.Section{}, err
	}
	var out models.Section
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		sec, err := scanSection(tx.QueryRow(ctx, `
UPDATE sections SET status='generating', attempt_id=$2::uuid, started_at=$3, last_activity_at=$3, error=NULL,
  total_batches=GREATEST(total_batches, $4), batch_metadata=$5, updated_at=NOW()
WHERE section_id=$1 AND status='in_review' AND attempt_id IS NULL
RETURNING `+sectionColumns, in.SectionID, in.AttemptID, in.At, in.TotalBatches, meta))
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrConflict(ctx, tx, in.SectionID, "resume attempt")
		}
		if err != nil {
			return fmt.Errorf("resume attempt: %w", err)
		}
		out = sec
		return nil
	})
	return out, err
}

func (r *SectionRepo) Heartbeat(ctx context.Context, sectionID, attemptID string, at time.Time) error {
	tag, err := r.db.Pool.Exec(ctx, `
UPDATE sections SET last_activity_at=$3, updated_at=NOW()
WHERE section_id=$1 AND status='generating' AND attempt_id=$2::uuid`, sectionID, attemptID, at)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("heartbeat: %w", models.ErrAttemptLost)
	}
	return nil
}

// CommitBatch advances the counters and inserts the batch in one transaction.
// The row lock taken by the UPDATE keeps a concurrent reap waiting until the
// batch is either fully visible or rolled back.
func (r *SectionRepo) CommitBatch(ctx context.Context, in models.BatchCommit) error {
	meta, err := in.Progress.Marshal()
	if err != nil {
		return err
	}
	attempt, err := pgUUID(in.AttemptID)
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE sections SET batch_number=$3, generated_so_far=$4, batch_metadata=$5, last_activity_at=$6,
  total_batches=GREATEST(total_batches, $7), updated_at=NOW()
WHERE section_id=$1 AND status='generating' AND attempt_id=$2::uuid AND batch_number=$3-1`,
			in.SectionID, in.AttemptID, in.BatchNumber, in.GeneratedSoFar, meta, in.At, in.TotalBatches)
		if err != nil {
			return fmt.Errorf("advance batch %d: %w", in.BatchNumber, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("commit batch %d: %w", in.BatchNumber, models.ErrAttemptLost)
		}
		rows := make([][]any, 0, len(in.Items))
		for _, it := range in.Items {
			id := it.ItemID
			if id == "" {
				id = uuid.NewString()
			}
			itemID, err := pgUUID(id)
			if err != nil {
				return fmt.Errorf("item id %q: %w", id, err)
			}
			created := it.CreatedAt
			if created.IsZero() {
				created = in.At
			}
			rows = append(rows, []any{
				itemID, in.SectionID, nullText(it.SourceID), attempt, in.BatchNumber,
				it.Stem, it.Options, it.Answer, nullText(it.Explanation), nullText(it.Difficulty), it.Selected, created,
			})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"section_items"},
			[]string{"item_id", "section_id", "source_id", "attempt_id", "batch_number", "stem", "options", "answer", "explanation", "difficulty", "selected", "created_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("insert batch items: %w", err)
		}
		return nil
	})
}

func (r *SectionRepo) EndAttempt(ctx context.Context, in models.AttemptEnd) error {
	var meta []byte
	if in.Progress != nil {
		b, err := in.Progress.Marshal()
		if err != nil {
			return err
		}
		meta = b
	}
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `
SELECT section_id FROM sections WHERE section_id=$1 AND status='generating' AND attempt_id=$2::uuid FOR UPDATE`,
			in.SectionID, in.AttemptID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("end attempt: %w", models.ErrAttemptLost)
		}
		if err != nil {
			return fmt.Errorf("lock section: %w", err)
		}
		if in.KeepItems {
			if _, err := tx.Exec(ctx, `UPDATE section_items SET attempt_id=NULL WHERE section_id=$1 AND attempt_id=$2::uuid`, in.SectionID, in.AttemptID); err != nil {
				return fmt.Errorf("promote attempt items: %w", err)
			}
			_, err = tx.Exec(ctx, `
UPDATE sections SET status=$2, attempt_id=NULL, error=NULLIF($3,''), batch_metadata=COALESCE($4, batch_metadata), updated_at=NOW()
WHERE section_id=$1`, in.SectionID, string(in.Status), in.Error, meta)
		} else {
			if err := dropAttemptItems(ctx, tx, in.SectionID, in.AttemptID); err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
UPDATE sections SET status=$2, attempt_id=NULL, started_at=NULL, last_activity_at=NULL, error=NULLIF($3,''),
  batch_metadata=COALESCE($4, batch_metadata),
  generated_so_far=(SELECT COUNT(*) FROM section_items WHERE section_id=$1), updated_at=NOW()
WHERE section_id=$1`, in.SectionID, string(in.Status), in.Error, meta)
		}
		if err != nil {
			return fmt.Errorf("end attempt: %w", err)
		}
		return nil
	})
}

// ReapStale rolls back the run only if, under the row lock, it is still the
// same attempt and still older than cutoff.
func (r *SectionRepo) ReapStale(ctx context.Context, sectionID, attemptID string, cutoff time.Time, reason string) (bool, error) {
	acted := false
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `
SELECT section_id FROM sections
WHERE section_id=$1 AND status='generating' AND COALESCE(attempt_id::text,'')=$2
  AND (GREATEST(last_activity_at, started_at) IS NULL OR GREATEST(last_activity_at, started_at) < $3)
FOR UPDATE`, sectionID, attemptID, cutoff).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock stale section: %w", err)
		}
		if attemptID != "" {
			if err := dropAttemptItems(ctx, tx, sectionID, attemptID); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
UPDATE sections SET status='ready', attempt_id=NULL, started_at=NULL, last_activity_at=NULL, error=$2,
  generated_so_far=(SELECT COUNT(*) FROM section_items WHERE section_id=$1), updated_at=NOW()
WHERE section_id=$1`, sectionID, reason); err != nil {
			return fmt.Errorf("reset stale section: %w", err)
		}
		acted = true
		return nil
	})
	return acted, err
}

func (r *SectionRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Section, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+sectionColumns+`
FROM sections
WHERE status='generating'
  AND (GREATEST(last_activity_at, started_at) IS NULL OR GREATEST(last_activity_at, started_at) < $1)
ORDER BY section_id
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale sections: %w", err)
	}
	defer rows.Close()
	out := make([]models.Section, 0)
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale section: %w", err)
		}
		out = append(out, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale sections: %w", err)
	}
	return out, nil
}

func (r *SectionRepo) UpdateStatus(ctx context.Context, sectionID string, from []models.SectionStatus, to models.SectionStatus, msg string) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE sections SET status=$2, error=NULLIF($3,''), updated_at=NOW()
WHERE section_id=$1 AND status = ANY($4) AND attempt_id IS NULL`, sectionID, string(to), msg, statusStrings(from))
		if err != nil {
			return fmt.Errorf("update section status: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.missingOrConflict(ctx, tx, sectionID, "update section status")
		}
		return nil
	})
}

func (r *SectionRepo) ReassignSources(ctx context.Context, sectionID string, sourceIDs []string, from []models.SectionStatus) error {
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		var subjectID string
		err := tx.QueryRow(ctx, `
SELECT subject_id FROM sections WHERE section_id=$1 AND status = ANY($2) AND attempt_id IS NULL FOR UPDATE`,
			sectionID, statusStrings(from)).Scan(&subjectID)
		if errors.Is(err, pgx.ErrNoRows) {
			return r.missingOrConflict(ctx, tx, sectionID, "reassign sources")
		}
		if err != nil {
			return fmt.Errorf("lock section: %w", err)
		}
		var found int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM sources WHERE source_id = ANY($1) AND subject_id=$2`, sourceIDs, subjectID).Scan(&found); err != nil {
			return fmt.Errorf("check sources: %w", err)
		}
		if found != len(sourceIDs) {
			return fmt.Errorf("reassign sources: %d of %d sources unknown: %w", len(sourceIDs)-found, len(sourceIDs), models.ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM section_sources WHERE section_id=$1`, sectionID); err != nil {
			return fmt.Errorf("clear section sources: %w", err)
		}
		for i, id := range sourceIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO section_sources(section_id, source_id, position) VALUES ($1, $2, $3)`, sectionID, id, i+1); err != nil {
				return fmt.Errorf("link source %s: %w", id, err)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE sections SET status='ready', error=NULL, updated_at=NOW() WHERE section_id=$1`, sectionID); err != nil {
			return fmt.Errorf("mark section ready: %w", err)
		}
		return nil
	})
}

func (r *SectionRepo) missingOrConflict(ctx context.Context, tx pgx.Tx, sectionID, op string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM sections WHERE section_id=$1`, sectionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s from %s: %w", op, status, models.ErrConflict)
}

func dropAttemptItems(ctx context.Context, tx pgx.Tx, sectionID, attemptID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM section_items WHERE section_id=$1 AND attempt_id=$2::uuid`, sectionID, attemptID); err != nil {
		return fmt.Errorf("delete attempt items: %w", err)
	}
	return nil
}

func scanSection(row pgx.Row) (models.Section, error) {
	var (
		s    models.Section
		meta []byte
	)
	if err := row.Scan(&s.SectionID, &s.PaperID, &s.SubjectID, &s.Title, &s.Mode, &s.ItemCount, &s.ItemsPerUnit, &s.Status,
		&s.AttemptID, &s.StartedAt, &s.LastActivityAt, &s.Error, &s.BatchNumber, &s.TotalBatches,
		&s.BatchSize, &s.GeneratedSoFar, &meta, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return models.Section{}, err
	}
	p, err := models.UnmarshalProgress(meta)
	if err != nil {
		return models.Section{}, err
	}
	s.Progress = p
	return s, nil
}

func statusStrings(in []models.SectionStatus) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func pgUUID(s string) (pgtype.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}

func nullText(s string) any {
	if s == "" {
		return nil
	}
	return s
}
