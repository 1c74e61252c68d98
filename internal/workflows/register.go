package workflows

import (
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

func Register(w worker.Worker) {
	w.RegisterWorkflowWithOptions(SectionContinuationWorkflow, workflow.RegisterOptions{Name: ContinuationWorkflowName})
	w.RegisterWorkflowWithOptions(StaleSectionReaperWorkflow, workflow.RegisterOptions{Name: ReaperWorkflowName})
}
