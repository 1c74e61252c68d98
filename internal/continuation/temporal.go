package continuation

import (
	"context"
	"errors"
	"fmt"

	"examforge/internal/logger"

	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
)

// WorkflowName is registered by the worker under this name.
const WorkflowName = "SectionContinuationWorkflow"

// WorkflowStarter is the part of the Temporal client the dispatcher needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options tclient.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tclient.WorkflowRun, error)
}

type TemporalDispatcher struct {
	client    WorkflowStarter
	taskQueue string
	log       *logger.Logger
}

func NewTemporalDispatcher(c WorkflowStarter, taskQueue string, log *logger.Logger) *TemporalDispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &TemporalDispatcher{client: c, taskQueue: taskQueue, log: log}
}

func WorkflowID(c Continuation) string {
	return fmt.Sprintf("section-%s-%s-batch-%d", c.SectionID, c.AttemptID, c.NextBatch)
}

// Dispatch starts the continuation workflow and returns once Temporal has
// accepted it. A workflow already running under the same id counts as delivered.
func (d *TemporalDispatcher) Dispatch(ctx context.Context, c Continuation) error {
	id := WorkflowID(c)
	_, err := d.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                d.taskQueue,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, WorkflowName, c)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			d.log.Info("continuation already dispatched", "workflow_id", id)
			return nil
		}
		return fmt.Errorf("start continuation workflow %s: %w", id, err)
	}
	return nil
}
