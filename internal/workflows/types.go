package workflows

const (
	ContinuationWorkflowName = "SectionContinuationWorkflow"
	ReaperWorkflowName       = "StaleSectionReaperWorkflow"
	ReaperWorkflowID         = "stale-section-reaper"
)

type ReaperResult struct {
	Scanned int `json:"scanned"`
	Reaped  int `json:"reaped"`
}
