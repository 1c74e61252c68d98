package activities

import (
	"context"
	"errors"

	"examforge/internal/auth"
	"examforge/internal/continuation"
	"examforge/internal/generation"
	"examforge/internal/logger"
	"examforge/internal/models"
	"examforge/internal/orchestrator"
	"examforge/internal/reaper"

	"go.temporal.io/sdk/temporal"
)

type Continuer interface {
	Continue(ctx context.Context, c continuation.Continuation) (orchestrator.Progress, error)
}

type Sweeper interface {
	ReapAll(ctx context.Context) (reaper.Summary, error)
}

type Activities struct {
	orch   Continuer
	reaper Sweeper
	auth   *auth.Service
	log    *logger.Logger
}

func New(orch Continuer, rp Sweeper, authSvc *auth.Service, log *logger.Logger) *Activities {
	if log == nil {
		log = logger.Nop()
	}
	return &Activities{orch: orch, reaper: rp, auth: authSvc, log: log}
}

// RunContinuationActivity executes the batch a continuation names. Batch
// failures are absorbed by the run's failure policy and reported in the
// output; only infrastructure errors fail the activity, and retrying those
// is safe because Continue ignores deliveries that no longer match.
func (a *Activities) RunContinuationActivity(ctx context.Context, in RunContinuationInput) (RunContinuationOutput, error) {
	c := in.Continuation
	if a.auth != nil && a.auth.Enabled() {
		if _, err := a.auth.Validate(c.AuthToken); err != nil {
			return RunContinuationOutput{}, temporal.NewNonRetryableApplicationError("continuation token rejected", "Unauthorized", err)
		}
	}
	p, err := a.orch.Continue(ctx, c)
	if err == nil {
		return RunContinuationOutput{Progress: p}, nil
	}
	var ge *generation.Error
	switch {
	case errors.As(err, &ge), errors.Is(err, models.ErrAttemptLost), errors.Is(err, models.ErrConflict):
		a.log.Warn("continuation batch ended without progress", "section_id", c.SectionID, "next_batch", c.NextBatch, "error", err)
		return RunContinuationOutput{Progress: p, Error: err.Error()}, nil
	case errors.Is(err, models.ErrNotFound):
		return RunContinuationOutput{}, temporal.NewNonRetryableApplicationError("section not found", "NotFound", err)
	default:
		return RunContinuationOutput{}, err
	}
}

func (a *Activities) ReapStaleSectionsActivity(ctx context.Context, _ ReapStaleSectionsInput) (ReapStaleSectionsOutput, error) {
	sum, err := a.reaper.ReapAll(ctx)
	if err != nil {
		return ReapStaleSectionsOutput{Scanned: sum.Scanned, Reaped: sum.Reaped}, err
	}
	return ReapStaleSectionsOutput{Scanned: sum.Scanned, Reaped: sum.Reaped}, nil
}
