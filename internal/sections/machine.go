package sections

import (
	"context"
	"errors"
	"fmt"

	"examforge/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid section transition")
	ErrIncomplete        = errors.New("section is not complete")
)

// Machine owns the lifecycle rules of a section. The zero value forbids
// failed -> generating.
type Machine struct {
	RetryFromFailed bool
}

type edge struct {
	from, to models.SectionStatus
}

var transitions = map[edge]bool{
	{models.StatusPending, models.StatusReady}:       true,
	{models.StatusReady, models.StatusGenerating}:    true,
	{models.StatusInReview, models.StatusGenerating}: true,
	{models.StatusGenerating, models.StatusInReview}: true,
	{models.StatusGenerating, models.StatusReady}:    true,
	{models.StatusGenerating, models.StatusFailed}:   true,
	{models.StatusInReview, models.StatusFinalized}:  true,
	{models.StatusFailed, models.StatusReady}:        true,
	{models.StatusInReview, models.StatusReady}:      true,
	{models.StatusReady, models.StatusReady}:         true,
}

func (m Machine) CanTransition(from, to models.SectionStatus) bool {
	if from == models.StatusFailed && to == models.StatusGenerating {
		return m.RetryFromFailed
	}
	return transitions[edge{from, to}]
}

func (m Machine) Check(from, to models.SectionStatus) error {
	if !m.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// GenerationSources lists the statuses a new generation run may start from.
func (m Machine) GenerationSources() []models.SectionStatus {
	out := []models.SectionStatus{models.StatusReady, models.StatusInReview}
	if m.RetryFromFailed {
		out = append(out, models.StatusFailed)
	}
	return out
}

func (m Machine) CanStartGeneration(s models.Section) error {
	return m.Check(s.Status, models.StatusGenerating)
}

// CompletenessChecker decides whether an in_review section has been curated
// enough to finalize, usually by checking every item was marked selected.
type CompletenessChecker interface {
	Complete(ctx context.Context, s models.Section) (bool, string, error)
}

func (m Machine) CheckFinalize(ctx context.Context, s models.Section, check CompletenessChecker) error {
	if err := m.Check(s.Status, models.StatusFinalized); err != nil {
		return err
	}
	ok, reason, err := check.Complete(ctx, s)
	if err != nil {
		return fmt.Errorf("completeness check: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrIncomplete, reason)
	}
	return nil
}
