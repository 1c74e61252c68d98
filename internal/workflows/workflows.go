package workflows

import (
	"time"

	"examforge/internal/activities"
	"examforge/internal/continuation"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// SectionContinuationWorkflow runs one batch of a section run out of band.
// The activity is attempted a bounded number of times; the batch itself
// retries the generation service internally, and a repeated delivery of an
// already committed batch is a no-op.
func SectionContinuationWorkflow(ctx workflow.Context, c continuation.Continuation) (activities.RunContinuationOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 20 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"Unauthorized", "NotFound"},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	var out activities.RunContinuationOutput
	if err := workflow.ExecuteActivity(ctx, "RunContinuationActivity", activities.RunContinuationInput{Continuation: c}).Get(ctx, &out); err != nil {
		logger.Error("continuation batch failed", "section_id", c.SectionID, "next_batch", c.NextBatch, "error", err)
		return activities.RunContinuationOutput{}, err
	}
	if out.Error != "" {
		logger.Warn("continuation batch absorbed a failure", "section_id", c.SectionID, "next_batch", c.NextBatch, "error", out.Error)
	}
	return out, nil
}

// StaleSectionReaperWorkflow is started on a cron schedule by the worker.
func StaleSectionReaperWorkflow(ctx workflow.Context) (ReaperResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	var out activities.ReapStaleSectionsOutput
	if err := workflow.ExecuteActivity(ctx, "ReapStaleSectionsActivity", activities.ReapStaleSectionsInput{}).Get(ctx, &out); err != nil {
		return ReaperResult{}, err
	}
	if out.Reaped > 0 {
		workflow.GetLogger(ctx).Info("stale sections reclaimed", "reaped", out.Reaped, "scanned", out.Scanned)
	}
	return ReaperResult{Scanned: out.Scanned, Reaped: out.Reaped}, nil
}
