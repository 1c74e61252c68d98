package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflicting section state")
	ErrAttemptLost = errors.New("generation attempt no longer owns the section")
)

type SectionStatus string

const (
	StatusPending    SectionStatus = "pending"
	StatusReady      SectionStatus = "ready"
	StatusGenerating SectionStatus = "generating"
	StatusInReview   SectionStatus = "in_review"
	StatusFinalized  SectionStatus = "finalized"
	StatusFailed     SectionStatus = "failed"
)

type SectionMode string

const (
	ModeGeneral SectionMode = "general"
	ModeSources SectionMode = "sources"
)

type Section struct {
	SectionID      string        `json:"section_id"`
	PaperID        string        `json:"paper_id"`
	SubjectID      string        `json:"subject_id"`
	Title          string        `json:"title,omitempty"`
	Mode           SectionMode   `json:"mode"`
	ItemCount      int           `json:"item_count"`
	ItemsPerUnit   int           `json:"items_per_unit"`
	Status         SectionStatus `json:"status"`
	AttemptID      string        `json:"attempt_id,omitempty"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	LastActivityAt *time.Time    `json:"last_activity_at,omitempty"`
	Error          string        `json:"error,omitempty"`
	BatchNumber    int           `json:"batch_number"`
	TotalBatches   int           `json:"total_batches"`
	BatchSize      int           `json:"batch_size"`
	GeneratedSoFar int           `json:"generated_so_far"`
	Progress       Progress      `json:"batch_metadata"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (s Section) EffectiveTarget() int {
	return s.Progress.EffectiveTarget
}

// LastSeen is the later of the heartbeat and the start time, nil when neither is set.
func (s Section) LastSeen() *time.Time {
	switch {
	case s.LastActivityAt == nil:
		return s.StartedAt
	case s.StartedAt == nil:
		return s.LastActivityAt
	case s.LastActivityAt.After(*s.StartedAt):
		return s.LastActivityAt
	default:
		return s.StartedAt
	}
}

type Source struct {
	SourceID      string `json:"source_id"`
	SubjectID     string `json:"subject_id"`
	Title         string `json:"title"`
	Order         int    `json:"order"`
	Knowledge     string `json:"knowledge,omitempty"`
	ReferencePath string `json:"reference_path,omitempty"`
}

type Question struct {
	ItemID      string    `json:"item_id"`
	SectionID   string    `json:"section_id"`
	SourceID    string    `json:"source_id,omitempty"`
	AttemptID   string    `json:"attempt_id,omitempty"`
	BatchNumber int       `json:"batch_number"`
	Stem        string    `json:"stem" validate:"required,min=8"`
	Options     []string  `json:"options,omitempty" validate:"omitempty,min=2,max=6,dive,required"`
	Answer      string    `json:"answer" validate:"required"`
	Explanation string    `json:"explanation,omitempty"`
	Difficulty  string    `json:"difficulty,omitempty" validate:"omitempty,oneof=easy medium hard"`
	Selected    bool      `json:"selected"`
	CreatedAt   time.Time `json:"created_at"`
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{PromptTokens: u.PromptTokens + o.PromptTokens, CompletionTokens: u.CompletionTokens + o.CompletionTokens}
}
