package models

import "time"

// AttemptStart records a fresh generation run. Every prior item of the section
// is deleted in the same transaction, so the counters restart from zero.
type AttemptStart struct {
	SectionID    string
	AttemptID    string
	From         []SectionStatus
	BatchSize    int
	TotalBatches int
	Progress     Progress
	At           time.Time
}

// AttemptResume hands a parked run to a new attempt; committed items and
// counters stay as they are. TotalBatches and Progress carry the refreshed
// top-up budget.
type AttemptResume struct {
	SectionID    string
	AttemptID    string
	TotalBatches int
	Progress     Progress
	At           time.Time
}

// BatchCommit is written atomically: the items are inserted and the counters
// advanced only while the section is generating under AttemptID with
// batch_number == BatchNumber-1. TotalBatches only ever grows the stored count.
type BatchCommit struct {
	SectionID      string
	AttemptID      string
	BatchNumber    int
	TotalBatches   int
	Items          []Question
	GeneratedSoFar int
	Progress       Progress
	At             time.Time
}

// AttemptEnd closes a live attempt. KeepItems promotes the attempt's items
// (tag cleared); otherwise they are deleted and the run fields are reset.
type AttemptEnd struct {
	SectionID string
	AttemptID string
	Status    SectionStatus
	Error     string
	KeepItems bool
	Progress  *Progress
}

type GenerationCall struct {
	CallID           string
	SectionID        string
	AttemptID        string
	BatchNumber      int
	Try              int
	PromptHash       string
	ProviderName     string
	Model            string
	Status           string
	ErrorType        string
	PromptTokens     int64
	CompletionTokens int64
	DurationMs       int64
}

type ItemStats struct {
	Total    int `json:"total"`
	Selected int `json:"selected"`
}
