package activities

import (
	"examforge/internal/continuation"
	"examforge/internal/orchestrator"
)

type RunContinuationInput struct {
	Continuation continuation.Continuation `json:"continuation"`
}

type RunContinuationOutput struct {
	Progress orchestrator.Progress `json:"progress"`
	// Error describes a batch failure the run already absorbed (parked or
	// rolled back). It is not an activity failure.
	Error string `json:"error,omitempty"`
}

type ReapStaleSectionsInput struct{}

type ReapStaleSectionsOutput struct {
	Scanned int `json:"scanned"`
	Reaped  int `json:"reaped"`
}
