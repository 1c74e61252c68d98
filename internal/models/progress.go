package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const ProgressVersion = 1

const maxProgressWarnings = 20

type GenerationMode string

const (
	GenerationSinglePool  GenerationMode = "single_pool"
	GenerationMultiSource GenerationMode = "multi_source"
)

// Progress is the persisted batch_metadata document of a section run.
// Exactly one of Single or Schedule is set, matching Mode.
type Progress struct {
	Version         int                 `json:"version"`
	Mode            GenerationMode      `json:"mode,omitempty"`
	EffectiveTarget int                 `json:"effective_target"`
	Single          *SinglePoolProgress `json:"single,omitempty"`
	Schedule        *SourceSchedule     `json:"schedule,omitempty"`
	// TopUps counts batches granted beyond the plan because calls came back
	// short; TopUpLimit caps them per attempt.
	TopUps     int           `json:"top_ups,omitempty"`
	TopUpLimit int           `json:"top_up_limit,omitempty"`
	Usage      UsageLedger   `json:"usage"`
	Batches    []BatchRecord `json:"batches,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
}

type SinglePoolProgress struct {
	CallsPlanned int `json:"calls_planned"`
	CallsMade    int `json:"calls_made"`
}

type SourceSchedule struct {
	Cursor         int                   `json:"cursor"`
	CallsPerSource int                   `json:"calls_per_source"`
	Entries        []SourceScheduleEntry `json:"entries"`
}

type SourceScheduleEntry struct {
	SourceID  string `json:"source_id"`
	Order     int    `json:"order"`
	Target    int    `json:"target"`
	Generated int    `json:"generated"`
	Calls     int    `json:"calls"`
}

type UsageLedger struct {
	Calls            int   `json:"calls"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type BatchRecord struct {
	Number   int       `json:"number"`
	SourceID string    `json:"source_id,omitempty"`
	Items    int       `json:"items"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

func (s *SourceSchedule) Current() (*SourceScheduleEntry, bool) {
	if s == nil || s.Cursor < 0 || s.Cursor >= len(s.Entries) {
		return nil, false
	}
	return &s.Entries[s.Cursor], true
}

// Record books a finished call against the current entry. The cursor moves
// only once the entry met its target; a short source keeps the cursor.
func (s *SourceSchedule) Record(items int) {
	e, ok := s.Current()
	if !ok {
		return
	}
	e.Generated += items
	e.Calls++
	if e.Generated >= e.Target {
		s.Cursor++
	}
	for s.Cursor < len(s.Entries) && s.Entries[s.Cursor].Target <= 0 {
		s.Cursor++
	}
}

func (s *SourceSchedule) Exhausted() bool {
	return s == nil || s.Cursor >= len(s.Entries)
}

func (p Progress) Exhausted() bool {
	switch p.Mode {
	case GenerationMultiSource:
		return p.Schedule.Exhausted()
	case GenerationSinglePool:
		return p.Single == nil || p.Single.CallsMade >= p.Single.CallsPlanned
	default:
		return true
	}
}

// Extend grants one more batch to a run that used up its planned batches
// below target. It reports false once the top-up budget is spent.
func (p *Progress) Extend() bool {
	if p.TopUps >= p.TopUpLimit {
		return false
	}
	p.TopUps++
	if p.Single != nil {
		p.Single.CallsPlanned = max(p.Single.CallsPlanned, p.Single.CallsMade) + 1
	}
	return true
}

// Reopen refreshes the top-up budget of a parked run and returns the batch
// count the resumed attempt may run to.
func (p *Progress) Reopen(batchNumber, totalBatches int) int {
	p.TopUps = 0
	if batchNumber < totalBatches {
		return totalBatches
	}
	if p.Single != nil {
		p.Single.CallsPlanned = p.Single.CallsMade + 1
	}
	return batchNumber + 1
}

func (p *Progress) AddWarnings(ws ...string) {
	p.Warnings = append(p.Warnings, ws...)
	if len(p.Warnings) > maxProgressWarnings {
		p.Warnings = p.Warnings[len(p.Warnings)-maxProgressWarnings:]
	}
}

// Clone deep-copies the document so callers can mutate it before a conditional write.
func (p Progress) Clone() Progress {
	out := p
	if p.Single != nil {
		single := *p.Single
		out.Single = &single
	}
	if p.Schedule != nil {
		sched := *p.Schedule
		sched.Entries = append([]SourceScheduleEntry(nil), p.Schedule.Entries...)
		out.Schedule = &sched
	}
	out.Batches = append([]BatchRecord(nil), p.Batches...)
	out.Warnings = append([]string(nil), p.Warnings...)
	return out
}

func (p Progress) Marshal() ([]byte, error) {
	p.Version = ProgressVersion
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal progress: %w", err)
	}
	return b, nil
}

func UnmarshalProgress(raw []byte) (Progress, error) {
	var p Progress
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return Progress{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	if p.Version > ProgressVersion {
		return Progress{}, fmt.Errorf("unsupported progress version %d", p.Version)
	}
	return p, nil
}
