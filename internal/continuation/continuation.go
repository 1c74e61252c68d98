package continuation

import (
	"context"
	"errors"
	"fmt"

	"examforge/internal/generation"
	"examforge/internal/logger"
	"examforge/internal/models"
)

// Continuation is the message that triggers the next batch of a run.
type Continuation struct {
	SectionID string `json:"section_id"`
	AttemptID string `json:"attempt_id"`
	NextBatch int    `json:"next_batch"`
	AuthToken string `json:"auth_token,omitempty"`
}

// Dispatcher delivers a continuation without waiting for the batch it triggers.
type Dispatcher interface {
	Dispatch(ctx context.Context, c Continuation) error
}

// Finisher is the post-run pipeline, run once before a completed run goes to review.
type Finisher interface {
	Finish(ctx context.Context, sec models.Section) ([]string, error)
}

type Committer interface {
	Commit(ctx context.Context, sectionID, attemptID string, status models.SectionStatus, msg string, progress *models.Progress) error
}

// HasMore reads only persisted counters, so a duplicate trigger that arrives
// after the run advanced sees the true position.
func HasMore(sec models.Section) bool {
	return sec.GeneratedSoFar < sec.EffectiveTarget() &&
		sec.BatchNumber < sec.TotalBatches &&
		!sec.Progress.Exhausted()
}

type Outcome struct {
	Section    models.Section
	HasMore    bool
	Dispatched bool
	// Parked is set when a continuation could not be delivered and the run
	// was moved to review so it can be resumed by hand.
	Parked bool
	// Short is set when the run closed below its effective target because the
	// batch and top-up budget ran out. The run stays resumable.
	Short    bool
	Warnings []string
}

type Scheduler struct {
	dispatcher Dispatcher
	finisher   Finisher
	attempts   Committer
	log        *logger.Logger
}

func NewScheduler(d Dispatcher, f Finisher, c Committer, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{dispatcher: d, finisher: f, attempts: c, log: log}
}

// AfterStep decides what follows a committed batch: dispatch the next one or
// close the run. Closing is the only path from generating to in_review on success.
func (s *Scheduler) AfterStep(ctx context.Context, sec models.Section, authToken string) (Outcome, error) {
	log := s.log.With("section_id", sec.SectionID, "attempt_id", sec.AttemptID)
	if HasMore(sec) {
		next := Continuation{
			SectionID: sec.SectionID,
			AttemptID: sec.AttemptID,
			NextBatch: sec.BatchNumber + 1,
			AuthToken: authToken,
		}
		err := s.dispatcher.Dispatch(ctx, next)
		if err == nil {
			log.Info("continuation dispatched", "next_batch", next.NextBatch)
			return Outcome{Section: sec, HasMore: true, Dispatched: true}, nil
		}
		return s.park(ctx, log, sec, err)
	}

	if sec.GeneratedSoFar < sec.EffectiveTarget() {
		return s.stopShort(ctx, log, sec)
	}

	progress := sec.Progress.Clone()
	var warnings []string
	if s.finisher != nil {
		ws, err := s.finisher.Finish(ctx, sec)
		if err != nil {
			log.Warn("finishing pipeline failed", "error", err)
			ws = append(ws, fmt.Sprintf("finishing skipped: %v", err))
		}
		warnings = ws
		progress.AddWarnings(ws...)
	}
	if err := s.attempts.Commit(ctx, sec.SectionID, sec.AttemptID, models.StatusInReview, "", &progress); err != nil {
		return Outcome{}, fmt.Errorf("complete run: %w", err)
	}
	sec.Status = models.StatusInReview
	sec.AttemptID = ""
	sec.Error = ""
	sec.Progress = progress
	log.Info("run complete", "generated_so_far", sec.GeneratedSoFar, "effective_target", sec.EffectiveTarget())
	return Outcome{Section: sec, Warnings: warnings}, nil
}

func (s *Scheduler) park(ctx context.Context, log *logger.Logger, sec models.Section, cause error) (Outcome, error) {
	derr := &generation.Error{Kind: generation.KindDispatch, Err: cause}
	msg := fmt.Sprintf("next batch could not be scheduled, resume manually: %v", cause)
	log.Error("continuation dispatch failed, parking run", "error", cause)
	if err := s.attempts.Commit(ctx, sec.SectionID, sec.AttemptID, models.StatusInReview, msg, nil); err != nil {
		return Outcome{}, errors.Join(derr, fmt.Errorf("park run: %w", err))
	}
	sec.Status = models.StatusInReview
	sec.AttemptID = ""
	sec.Error = msg
	return Outcome{Section: sec, HasMore: true, Parked: true}, derr
}

// stopShort parks a run whose calls kept coming back short. Committed items
// stay for review; the finishing pipeline waits for the run to reach target.
func (s *Scheduler) stopShort(ctx context.Context, log *logger.Logger, sec models.Section) (Outcome, error) {
	progress := sec.Progress.Clone()
	msg := fmt.Sprintf("generation stopped short with %d of %d questions after %d batches, resume to top up",
		sec.GeneratedSoFar, sec.EffectiveTarget(), sec.BatchNumber)
	progress.AddWarnings(msg)
	if err := s.attempts.Commit(ctx, sec.SectionID, sec.AttemptID, models.StatusInReview, msg, &progress); err != nil {
		return Outcome{}, fmt.Errorf("park short run: %w", err)
	}
	log.Warn("run stopped below target", "generated_so_far", sec.GeneratedSoFar, "effective_target", sec.EffectiveTarget(), "top_ups", progress.TopUps)
	sec.Status = models.StatusInReview
	sec.AttemptID = ""
	sec.Error = msg
	sec.Progress = progress
	return Outcome{Section: sec, Short: true, Warnings: []string{msg}}, nil
}
