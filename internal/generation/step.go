package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"examforge/internal/attempts"
	"examforge/internal/logger"
	"examforge/internal/models"
	"examforge/internal/prompts"
	"examforge/internal/providers"

	"github.com/google/uuid"
)

type StepStore interface {
	CommitBatch(ctx context.Context, in models.BatchCommit) error
	ListSources(ctx context.Context, sectionID string) ([]models.Source, error)
	ListItems(ctx context.Context, sectionID string) ([]models.Question, error)
	InsertGenerationCall(ctx context.Context, rec models.GenerationCall) error
}

// Heartbeater is satisfied by attempts.Tracker.
type Heartbeater interface {
	Touch(ctx context.Context, sectionID, attemptID string) error
	Now() time.Time
}

type ReferenceLoader interface {
	Excerpts(ctx context.Context, src models.Source) ([]string, error)
}

type ItemValidator interface {
	Validate(items []models.Question) []string
}

type StepDeps struct {
	Store       StepStore
	Attempts    Heartbeater
	Executor    *Executor
	LLM         providers.LLMProvider
	Parse       func(text string) ([]models.Question, error)
	References  ReferenceLoader
	Validator   ItemValidator
	CallTimeout time.Duration
	Log         *logger.Logger
}

// Step runs one batch of a generation run: one retried service call and one
// conditional commit of its items and progress.
type Step struct {
	deps StepDeps
}

type StepResult struct {
	Section            models.Section
	BatchNumber        int
	GeneratedThisBatch int
	Attempts           int
	Warnings           []string
}

func NewStep(deps StepDeps) *Step {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	return &Step{deps: deps}
}

type batchContext struct {
	source *models.Source
	count  int
}

func (s *Step) RunBatch(ctx context.Context, sec models.Section, batch int) (StepResult, error) {
	log := s.deps.Log.With("section_id", sec.SectionID, "attempt_id", sec.AttemptID, "batch", batch)
	if sec.Status != models.StatusGenerating || sec.AttemptID == "" {
		return StepResult{}, fmt.Errorf("run batch on %s section: %w", sec.Status, models.ErrAttemptLost)
	}
	if batch != sec.BatchNumber+1 {
		return StepResult{}, fmt.Errorf("run batch %d after batch %d: %w", batch, sec.BatchNumber, models.ErrConflict)
	}

	progress := sec.Progress.Clone()
	bc, err := s.resolve(ctx, sec, progress)
	if err != nil {
		return StepResult{}, err
	}

	req, err := s.request(ctx, sec, bc)
	if err != nil {
		return StepResult{}, err
	}

	res, err := s.deps.Executor.Execute(ctx, Call{
		Generate: func(ctx context.Context) (providers.GenerateResponse, providers.ProviderInfo, error) {
			if s.deps.CallTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.deps.CallTimeout)
				defer cancel()
			}
			return s.deps.LLM.Generate(ctx, req)
		},
		Parse: s.deps.Parse,
		Heartbeat: func(ctx context.Context) error {
			return s.deps.Attempts.Touch(ctx, sec.SectionID, sec.AttemptID)
		},
		Observe: func(r TryRecord) { s.audit(ctx, log, sec, batch, prompts.Hash(req.Prompt), r) },
	})
	if err != nil {
		log.Warn("batch generation failed", "kind", KindOf(err), "error", err)
		return StepResult{}, err
	}

	items := res.Items
	if len(items) > bc.count {
		items = items[:bc.count]
	}
	var warnings []string
	if s.deps.Validator != nil {
		for _, w := range s.deps.Validator.Validate(items) {
			warnings = append(warnings, fmt.Sprintf("batch %d: %s", batch, w))
		}
	}

	now := s.deps.Attempts.Now()
	sourceID := ""
	if bc.source != nil {
		sourceID = bc.source.SourceID
	}
	for i := range items {
		items[i].ItemID = uuid.NewString()
		items[i].SourceID = sourceID
		items[i].CreatedAt = now
	}
	items = attempts.Tag(items, sec.AttemptID, batch)

	switch progress.Mode {
	case models.GenerationMultiSource:
		progress.Schedule.Record(len(items))
	default:
		if progress.Single != nil {
			progress.Single.CallsMade++
		}
	}
	progress.Usage.Calls += res.Attempts
	progress.Usage.PromptTokens += res.Usage.PromptTokens
	progress.Usage.CompletionTokens += res.Usage.CompletionTokens
	progress.Batches = append(progress.Batches, models.BatchRecord{
		Number:   batch,
		SourceID: sourceID,
		Items:    len(items),
		Attempts: res.Attempts,
		At:       now,
	})
	progress.AddWarnings(warnings...)

	generated := sec.GeneratedSoFar + len(items)
	totalBatches := sec.TotalBatches
	if generated < sec.EffectiveTarget() && batch >= totalBatches && progress.Extend() {
		totalBatches = batch + 1
		log.Info("short batch, granting a top-up", "generated_so_far", generated, "top_ups", progress.TopUps, "top_up_limit", progress.TopUpLimit)
	}

	commit := models.BatchCommit{
		SectionID:      sec.SectionID,
		AttemptID:      sec.AttemptID,
		BatchNumber:    batch,
		TotalBatches:   totalBatches,
		Items:          items,
		GeneratedSoFar: generated,
		Progress:       progress,
		At:             now,
	}
	if err := s.deps.Store.CommitBatch(ctx, commit); err != nil {
		if errors.Is(err, models.ErrAttemptLost) {
			log.Warn("batch discarded, attempt no longer live", "error", err)
			return StepResult{}, err
		}
		log.Error("batch commit failed", "error", err)
		return StepResult{}, &Error{Kind: KindPersistence, Attempts: res.Attempts, Err: err}
	}

	sec.BatchNumber = batch
	sec.TotalBatches = totalBatches
	sec.GeneratedSoFar = commit.GeneratedSoFar
	sec.Progress = progress
	sec.LastActivityAt = &now
	log.Info("batch committed", "items", len(items), "generated_so_far", sec.GeneratedSoFar, "effective_target", sec.EffectiveTarget())
	return StepResult{
		Section:            sec,
		BatchNumber:        batch,
		GeneratedThisBatch: len(items),
		Attempts:           res.Attempts,
		Warnings:           warnings,
	}, nil
}

// resolve reads the batch size and, in multi-source mode, the schedule entry
// the stored cursor points at.
func (s *Step) resolve(ctx context.Context, sec models.Section, progress models.Progress) (batchContext, error) {
	remaining := sec.EffectiveTarget() - sec.GeneratedSoFar
	count := min(sec.BatchSize, remaining)
	if progress.Mode != models.GenerationMultiSource {
		if count <= 0 {
			return batchContext{}, Wrap(KindPlanning, fmt.Errorf("section %s has no remaining target", sec.SectionID))
		}
		return batchContext{count: count}, nil
	}

	entry, ok := progress.Schedule.Current()
	if !ok {
		return batchContext{}, Wrap(KindPlanning, fmt.Errorf("section %s source schedule is exhausted", sec.SectionID))
	}
	count = min(count, entry.Target-entry.Generated)
	if count <= 0 {
		return batchContext{}, Wrap(KindPlanning, fmt.Errorf("source %s has no remaining target", entry.SourceID))
	}
	sources, err := s.deps.Store.ListSources(ctx, sec.SectionID)
	if err != nil {
		return batchContext{}, Wrap(KindPersistence, fmt.Errorf("list section sources: %w", err))
	}
	for i := range sources {
		if sources[i].SourceID == entry.SourceID {
			return batchContext{source: &sources[i], count: count}, nil
		}
	}
	return batchContext{}, Wrap(KindPlanning, fmt.Errorf("scheduled source %s is no longer assigned", entry.SourceID))
}

func (s *Step) request(ctx context.Context, sec models.Section, bc batchContext) (providers.GenerateRequest, error) {
	existing, err := s.deps.Store.ListItems(ctx, sec.SectionID)
	if err != nil {
		return providers.GenerateRequest{}, Wrap(KindPersistence, fmt.Errorf("list prior items: %w", err))
	}
	avoid := make([]string, 0, len(existing))
	for _, it := range existing {
		if bc.source == nil || it.SourceID == bc.source.SourceID {
			avoid = append(avoid, it.Stem)
		}
	}

	var excerpts []string
	if bc.source != nil && s.deps.References != nil {
		excerpts, err = s.deps.References.Excerpts(ctx, *bc.source)
		if err != nil {
			return providers.GenerateRequest{}, Wrap(KindPlanning, fmt.Errorf("prepare reference material: %w", err))
		}
	}
	return providers.GenerateRequest{
		Operation: "generate_questions",
		Prompt:    prompts.Build(prompts.Request{Section: sec, Source: bc.source, Count: bc.count, Avoid: avoid}),
		Context:   excerpts,
		Count:     bc.count,
	}, nil
}

func (s *Step) audit(ctx context.Context, log *logger.Logger, sec models.Section, batch int, promptHash string, r TryRecord) {
	status := "success"
	if r.Err != nil {
		status = "error"
	}
	rec := models.GenerationCall{
		SectionID:        sec.SectionID,
		AttemptID:        sec.AttemptID,
		BatchNumber:      batch,
		Try:              r.Try,
		PromptHash:       promptHash,
		ProviderName:     r.Info.Name,
		Model:            r.Info.Model,
		Status:           status,
		ErrorType:        string(r.Kind),
		PromptTokens:     r.Usage.PromptTokens,
		CompletionTokens: r.Usage.CompletionTokens,
		DurationMs:       r.Duration.Milliseconds(),
	}
	if err := s.deps.Store.InsertGenerationCall(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn("generation call audit write failed", "error", err)
	}
}
