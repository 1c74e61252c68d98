package attempts

import (
	"context"
	"fmt"
	"time"

	"examforge/internal/models"
	"examforge/internal/planner"

	"github.com/google/uuid"
)

type Store interface {
	StartAttempt(ctx context.Context, in models.AttemptStart) (models.Section, error)
	ResumeAttempt(ctx context.Context, in models.AttemptResume) (models.Section, error)
	Heartbeat(ctx context.Context, sectionID, attemptID string, at time.Time) error
	EndAttempt(ctx context.Context, in models.AttemptEnd) error
	CountItems(ctx context.Context, sectionID, attemptID string) (int, error)
}

// Tracker issues attempt ids and is the unit of commit and rollback for a
// generation run. At most one attempt is live on a section; the datastore
// enforces that with conditional writes on attempt_id.
type Tracker struct {
	store Store
	now   func() time.Time
	newID func() string
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// WithClock swaps the time source, for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) Now() time.Time {
	return t.now()
}

// Begin records a new attempt on the section before any external call is
// made. Items left from earlier runs are deleted in the same write.
func (t *Tracker) Begin(ctx context.Context, sectionID string, from []models.SectionStatus, plan planner.Plan, progress models.Progress) (models.Section, error) {
	sec, err := t.store.StartAttempt(ctx, models.AttemptStart{
		SectionID:    sectionID,
		AttemptID:    t.newID(),
		From:         from,
		BatchSize:    plan.BatchSize,
		TotalBatches: plan.TotalBatches,
		Progress:     progress,
		At:           t.now(),
	})
	if err != nil {
		return models.Section{}, fmt.Errorf("begin attempt: %w", err)
	}
	return sec, nil
}

// Resume gives a parked section a fresh attempt with a refreshed top-up
// budget. Items already committed stay permanent; only what the new attempt
// produces can be rolled back.
func (t *Tracker) Resume(ctx context.Context, parked models.Section) (models.Section, error) {
	progress := parked.Progress.Clone()
	total := progress.Reopen(parked.BatchNumber, parked.TotalBatches)
	sec, err := t.store.ResumeAttempt(ctx, models.AttemptResume{
		SectionID:    parked.SectionID,
		AttemptID:    t.newID(),
		TotalBatches: total,
		Progress:     progress,
		At:           t.now(),
	})
	if err != nil {
		return models.Section{}, fmt.Errorf("resume attempt: %w", err)
	}
	return sec, nil
}

// Tag stamps items with the attempt and batch they were produced by.
func Tag(items []models.Question, attemptID string, batch int) []models.Question {
	for i := range items {
		items[i].AttemptID = attemptID
		items[i].BatchNumber = batch
	}
	return items
}

func (t *Tracker) Touch(ctx context.Context, sectionID, attemptID string) error {
	return t.store.Heartbeat(ctx, sectionID, attemptID, t.now())
}

// Commit promotes the attempt's items and moves the section to status.
func (t *Tracker) Commit(ctx context.Context, sectionID, attemptID string, status models.SectionStatus, msg string, progress *models.Progress) error {
	err := t.store.EndAttempt(ctx, models.AttemptEnd{
		SectionID: sectionID,
		AttemptID: attemptID,
		Status:    status,
		Error:     msg,
		KeepItems: true,
		Progress:  progress,
	})
	if err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

// Rollback deletes every item bearing the attempt id and clears the run fields.
func (t *Tracker) Rollback(ctx context.Context, sectionID, attemptID string, status models.SectionStatus, msg string) error {
	err := t.store.EndAttempt(ctx, models.AttemptEnd{
		SectionID: sectionID,
		AttemptID: attemptID,
		Status:    status,
		Error:     msg,
	})
	if err != nil {
		return fmt.Errorf("rollback attempt: %w", err)
	}
	return nil
}

func (t *Tracker) ItemsFor(ctx context.Context, sectionID, attemptID string) (int, error) {
	n, err := t.store.CountItems(ctx, sectionID, attemptID)
	if err != nil {
		return 0, fmt.Errorf("count attempt items: %w", err)
	}
	return n, nil
}
