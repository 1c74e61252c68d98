package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"examforge/internal/attempts"
	"examforge/internal/auth"
	"examforge/internal/continuation"
	"examforge/internal/generation"
	"examforge/internal/logger"
	"examforge/internal/models"
	"examforge/internal/planner"
	"examforge/internal/reaper"
	"examforge/internal/sections"
)

// ErrNothingToResume is returned when a parked section already reached its
// effective target.
var ErrNothingToResume = errors.New("section has nothing left to resume")

type Store interface {
	GetSection(ctx context.Context, sectionID string) (models.Section, error)
	ListSources(ctx context.Context, sectionID string) ([]models.Source, error)
	UpdateStatus(ctx context.Context, sectionID string, from []models.SectionStatus, to models.SectionStatus, msg string) error
	ReassignSources(ctx context.Context, sectionID string, sourceIDs []string, from []models.SectionStatus) error
}

type BatchRunner interface {
	RunBatch(ctx context.Context, sec models.Section, batch int) (generation.StepResult, error)
}

type Planning struct {
	Buffer     planner.BufferPolicy
	PerCallCap int
}

type Deps struct {
	Store        Store
	Attempts     *attempts.Tracker
	Step         BatchRunner
	Scheduler    *continuation.Scheduler
	Reaper       *reaper.Reaper
	Machine      sections.Machine
	Completeness sections.CompletenessChecker
	Planning     Planning
	Log          *logger.Logger
}

// Progress is what every generation entry point answers with.
type Progress struct {
	SectionID          string               `json:"section_id"`
	Status             models.SectionStatus `json:"status"`
	AttemptID          string               `json:"attempt_id,omitempty"`
	GeneratedThisBatch int                  `json:"generated_this_batch"`
	GeneratedSoFar     int                  `json:"generated_so_far"`
	EffectiveTarget    int                  `json:"effective_target"`
	BatchNumber        int                  `json:"batch_number"`
	TotalBatches       int                  `json:"total_batches"`
	HasMore            bool                 `json:"has_more"`
	Partial            bool                 `json:"partial"`
	Skipped            bool                 `json:"skipped,omitempty"`
	Warnings           []string             `json:"warnings,omitempty"`
	Error              string               `json:"error,omitempty"`
}

type Orchestrator struct {
	deps Deps
	log  *logger.Logger
}

func New(deps Deps) *Orchestrator {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if deps.Planning.PerCallCap < 1 {
		deps.Planning.PerCallCap = planner.DefaultPerCallCap
	}
	return &Orchestrator{deps: deps, log: deps.Log}
}

func progressOf(sec models.Section) Progress {
	return Progress{
		SectionID:       sec.SectionID,
		Status:          sec.Status,
		AttemptID:       sec.AttemptID,
		GeneratedSoFar:  sec.GeneratedSoFar,
		EffectiveTarget: sec.EffectiveTarget(),
		BatchNumber:     sec.BatchNumber,
		TotalBatches:    sec.TotalBatches,
		HasMore:         sec.Status == models.StatusGenerating && continuation.HasMore(sec),
		Error:           sec.Error,
	}
}

// Status reports the persisted run state, for polling clients.
func (o *Orchestrator) Status(ctx context.Context, sectionID string) (Progress, models.Section, error) {
	sec, err := o.deps.Store.GetSection(ctx, sectionID)
	if err != nil {
		return Progress{}, models.Section{}, err
	}
	return progressOf(sec), sec, nil
}

// Trigger starts a fresh run and executes its first batch. A section stuck in
// generating is handed to the reaper first; a live run is a conflict.
func (o *Orchestrator) Trigger(ctx context.Context, sectionID string, p auth.Principal) (Progress, error) {
	log := o.log.With("section_id", sectionID, "principal", p.Subject)
	sec, err := o.deps.Store.GetSection(ctx, sectionID)
	if err != nil {
		return Progress{}, err
	}
	if sec.Status == models.StatusGenerating {
		res, err := o.deps.Reaper.Reap(ctx, sectionID)
		if err != nil {
			return Progress{}, err
		}
		if !res.Acted {
			return progressOf(sec), fmt.Errorf("generation already in progress: %w", models.ErrConflict)
		}
		log.Info("reclaimed stale run before starting a new one")
		if sec, err = o.deps.Store.GetSection(ctx, sectionID); err != nil {
			return Progress{}, err
		}
	}
	if err := o.deps.Machine.CanStartGeneration(sec); err != nil {
		return progressOf(sec), err
	}

	plan, sources, err := o.plan(ctx, sec)
	if err != nil {
		return progressOf(sec), err
	}
	sec, err = o.deps.Attempts.Begin(ctx, sectionID, o.deps.Machine.GenerationSources(), plan, planner.BuildProgress(plan, sources))
	if err != nil {
		return Progress{}, err
	}
	log.Info("generation started",
		"attempt_id", sec.AttemptID,
		"effective_target", plan.EffectiveTarget,
		"batch_size", plan.BatchSize,
		"total_batches", plan.TotalBatches)
	return o.runBatch(ctx, sec, 1, p.Token)
}

func (o *Orchestrator) plan(ctx context.Context, sec models.Section) (planner.Plan, []models.Source, error) {
	if sec.ItemCount < 1 {
		return planner.Plan{}, nil, generation.Wrap(generation.KindPlanning, fmt.Errorf("section %s needs a target count of at least 1", sec.SectionID))
	}
	in := planner.Input{
		TargetCount: sec.ItemCount,
		Buffer:      o.deps.Planning.Buffer,
		PerCallCap:  o.deps.Planning.PerCallCap,
		Mode:        models.GenerationSinglePool,
	}
	var sources []models.Source
	if sec.Mode == models.ModeSources {
		var err error
		sources, err = o.deps.Store.ListSources(ctx, sec.SectionID)
		if err != nil {
			return planner.Plan{}, nil, fmt.Errorf("list section sources: %w", err)
		}
		if len(sources) == 0 {
			return planner.Plan{}, nil, generation.Wrap(generation.KindPlanning, fmt.Errorf("section %s has no sources assigned", sec.SectionID))
		}
		in.Mode = models.GenerationMultiSource
		in.SourceCount = len(sources)
	}
	plan, err := planner.Compute(in)
	if err != nil {
		return planner.Plan{}, nil, generation.Wrap(generation.KindPlanning, err)
	}
	return plan, sources, nil
}

// Continue runs the batch a continuation names. Anything that does not match
// the persisted state exactly is a stale or duplicate delivery and is ignored.
func (o *Orchestrator) Continue(ctx context.Context, c continuation.Continuation) (Progress, error) {
	log := o.log.With("section_id", c.SectionID, "attempt_id", c.AttemptID, "next_batch", c.NextBatch)
	sec, err := o.deps.Store.GetSection(ctx, c.SectionID)
	if err != nil {
		return Progress{}, err
	}
	if sec.Status != models.StatusGenerating ||
		sec.AttemptID != c.AttemptID ||
		sec.BatchNumber+1 != c.NextBatch ||
		!continuation.HasMore(sec) {
		log.Info("continuation ignored", "status", sec.Status, "batch_number", sec.BatchNumber)
		out := progressOf(sec)
		out.Skipped = true
		return out, nil
	}
	if err := o.deps.Attempts.Touch(ctx, sec.SectionID, sec.AttemptID); err != nil {
		if errors.Is(err, models.ErrAttemptLost) {
			log.Info("continuation ignored, attempt ended meanwhile")
			return Progress{SectionID: sec.SectionID, Skipped: true}, nil
		}
		return Progress{}, fmt.Errorf("refresh heartbeat: %w", err)
	}
	return o.runBatch(ctx, sec, c.NextBatch, c.AuthToken)
}

// Resume gives a parked run a new attempt and executes its next batch.
// Items committed before parking are kept.
func (o *Orchestrator) Resume(ctx context.Context, sectionID string, p auth.Principal) (Progress, error) {
	sec, err := o.deps.Store.GetSection(ctx, sectionID)
	if err != nil {
		return Progress{}, err
	}
	if err := o.deps.Machine.CanStartGeneration(sec); err != nil || sec.Status != models.StatusInReview {
		return progressOf(sec), fmt.Errorf("resume from %s: %w", sec.Status, sections.ErrInvalidTransition)
	}
	if sec.GeneratedSoFar >= sec.EffectiveTarget() ||
		(sec.Progress.Mode == models.GenerationMultiSource && sec.Progress.Schedule.Exhausted()) {
		return progressOf(sec), ErrNothingToResume
	}
	sec, err = o.deps.Attempts.Resume(ctx, sec)
	if err != nil {
		return Progress{}, err
	}
	o.log.Info("generation resumed", "section_id", sectionID, "attempt_id", sec.AttemptID, "next_batch", sec.BatchNumber+1, "principal", p.Subject)
	return o.runBatch(ctx, sec, sec.BatchNumber+1, p.Token)
}

func (o *Orchestrator) Reclaim(ctx context.Context, sectionID string) (reaper.Result, error) {
	return o.deps.Reaper.Reap(ctx, sectionID)
}

func (o *Orchestrator) Finalize(ctx context.Context, sectionID string) (models.Section, error) {
	sec, err := o.deps.Store.GetSection(ctx, sectionID)
	if err != nil {
		return models.Section{}, err
	}
	if err := o.deps.Machine.CheckFinalize(ctx, sec, o.deps.Completeness); err != nil {
		return sec, err
	}
	if err := o.deps.Store.UpdateStatus(ctx, sectionID, []models.SectionStatus{models.StatusInReview}, models.StatusFinalized, ""); err != nil {
		return sec, err
	}
	o.log.Info("section finalized", "section_id", sectionID)
	return o.deps.Store.GetSection(ctx, sectionID)
}

// Reassign replaces the section's sources. A live attempt is rolled back first
// so no batch of the old assignment can commit afterwards.
func (o *Orchestrator) Reassign(ctx context.Context, sectionID string, sourceIDs []string) (models.Section, error) {
	if len(sourceIDs) == 0 {
		return models.Section{}, generation.Wrap(generation.KindPlanning, errors.New("at least one source is required"))
	}
	sec, err := o.deps.Store.GetSection(ctx, sectionID)
	if err != nil {
		return models.Section{}, err
	}
	if sec.Status == models.StatusGenerating && sec.AttemptID != "" {
		err := o.deps.Attempts.Rollback(ctx, sectionID, sec.AttemptID, models.StatusReady, "sources reassigned, run rolled back")
		if err != nil && !errors.Is(err, models.ErrAttemptLost) {
			return sec, err
		}
		o.log.Warn("live run rolled back for source reassignment", "section_id", sectionID, "attempt_id", sec.AttemptID)
	}
	from := make([]models.SectionStatus, 0, 4)
	for _, st := range []models.SectionStatus{models.StatusPending, models.StatusReady, models.StatusInReview, models.StatusFailed} {
		if o.deps.Machine.CanTransition(st, models.StatusReady) {
			from = append(from, st)
		}
	}
	if err := o.deps.Store.ReassignSources(ctx, sectionID, sourceIDs, from); err != nil {
		return sec, err
	}
	return o.deps.Store.GetSection(ctx, sectionID)
}

// runBatch owns the attempt from here on, so a caller that goes away must not
// leave the section generating.
func (o *Orchestrator) runBatch(ctx context.Context, sec models.Section, batch int, token string) (Progress, error) {
	ctx = context.WithoutCancel(ctx)
	res, err := o.deps.Step.RunBatch(ctx, sec, batch)
	if err != nil {
		return o.fail(ctx, sec, err)
	}
	out, err := o.deps.Scheduler.AfterStep(ctx, res.Section, token)
	if err != nil && !out.Parked {
		return progressOf(res.Section), err
	}
	p := progressOf(out.Section)
	p.GeneratedThisBatch = res.GeneratedThisBatch
	p.HasMore = out.HasMore
	p.Partial = out.Parked || out.Short
	p.Warnings = append(append([]string(nil), res.Warnings...), out.Warnings...)
	return p, nil
}

// fail applies the partial-success policy to a batch that could not complete.
// A run with items keeps them and goes to review; a run without any is rolled
// back, to failed when the datastore itself broke.
func (o *Orchestrator) fail(ctx context.Context, sec models.Section, cause error) (Progress, error) {
	log := o.log.With("section_id", sec.SectionID, "attempt_id", sec.AttemptID)
	if errors.Is(cause, models.ErrAttemptLost) || errors.Is(cause, models.ErrConflict) {
		return Progress{SectionID: sec.SectionID}, cause
	}
	kind := generation.KindOf(cause)
	n, err := o.deps.Attempts.ItemsFor(ctx, sec.SectionID, "")
	if err != nil {
		return progressOf(sec), errors.Join(cause, err)
	}

	if n > 0 {
		msg := fmt.Sprintf("generation stopped early with %d questions (%s): %v", n, kind, cause)
		if err := o.deps.Attempts.Commit(ctx, sec.SectionID, sec.AttemptID, models.StatusInReview, msg, nil); err != nil {
			return progressOf(sec), errors.Join(cause, err)
		}
		log.Warn("run parked with partial output", "items", n, "kind", kind, "error", cause)
		sec.Status = models.StatusInReview
		sec.AttemptID = ""
		sec.Error = msg
		p := progressOf(sec)
		p.HasMore = continuation.HasMore(sec)
		p.Partial = true
		return p, nil
	}

	to := models.StatusReady
	if kind == generation.KindPersistence {
		to = models.StatusFailed
	}
	msg := fmt.Sprintf("generation failed (%s): %v", kind, cause)
	if err := o.deps.Attempts.Rollback(ctx, sec.SectionID, sec.AttemptID, to, msg); err != nil {
		return progressOf(sec), errors.Join(cause, err)
	}
	log.Error("run rolled back", "status", to, "kind", kind, "error", cause)
	return Progress{SectionID: sec.SectionID, Status: to, Error: msg}, cause
}
