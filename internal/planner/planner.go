package planner

import (
	"errors"
	"fmt"
	"math"

	"examforge/internal/models"
)

var ErrInvalidPlan = errors.New("invalid plan input")

const (
	DefaultBufferRatio = 1.5
	DefaultBufferCap   = 20
	DefaultPerCallCap  = 60
)

type BufferPolicy struct {
	Ratio float64
	Cap   int
}

func DefaultBuffer() BufferPolicy {
	return BufferPolicy{Ratio: DefaultBufferRatio, Cap: DefaultBufferCap}
}

type Input struct {
	TargetCount int
	Buffer      BufferPolicy
	PerCallCap  int
	SourceCount int
	Mode        models.GenerationMode
}

type Plan struct {
	Mode            models.GenerationMode `json:"mode"`
	EffectiveTarget int                   `json:"effective_target"`
	BatchSize       int                   `json:"batch_size"`
	TotalBatches    int                   `json:"total_batches"`
	PerSourceTarget int                   `json:"per_source_target,omitempty"`
	CallsPerSource  int                   `json:"calls_per_source,omitempty"`
}

// EffectiveTarget applies the over-generation buffer: proportional, capped by an absolute ceiling.
func EffectiveTarget(target int, b BufferPolicy) int {
	ratio := b.Ratio
	if ratio < 1 {
		ratio = 1
	}
	proportional := int(math.Ceil(float64(target) * ratio))
	if b.Cap < 0 {
		return proportional
	}
	return min(proportional, target+b.Cap)
}

func Compute(in Input) (Plan, error) {
	if in.TargetCount < 1 {
		return Plan{}, fmt.Errorf("%w: target count %d", ErrInvalidPlan, in.TargetCount)
	}
	if in.PerCallCap < 1 {
		return Plan{}, fmt.Errorf("%w: per call cap %d", ErrInvalidPlan, in.PerCallCap)
	}
	eff := EffectiveTarget(in.TargetCount, in.Buffer)
	switch in.Mode {
	case models.GenerationMultiSource:
		if in.SourceCount < 1 {
			return Plan{}, fmt.Errorf("%w: multi-source plan needs at least one source", ErrInvalidPlan)
		}
		perSource := ceilDiv(eff, in.SourceCount)
		callsPerSource := ceilDiv(perSource, in.PerCallCap)
		return Plan{
			Mode:            models.GenerationMultiSource,
			EffectiveTarget: eff,
			BatchSize:       ceilDiv(perSource, callsPerSource),
			TotalBatches:    in.SourceCount * callsPerSource,
			PerSourceTarget: perSource,
			CallsPerSource:  callsPerSource,
		}, nil
	case models.GenerationSinglePool, "":
		calls := ceilDiv(eff, in.PerCallCap)
		return Plan{
			Mode:            models.GenerationSinglePool,
			EffectiveTarget: eff,
			BatchSize:       ceilDiv(eff, calls),
			TotalBatches:    calls,
		}, nil
	default:
		return Plan{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidPlan, in.Mode)
	}
}

// BuildProgress lays out the resumable progress document for a fresh run.
// Source entries follow the given order; the tail entries are trimmed so the
// per-source targets add up to exactly the effective target.
func BuildProgress(p Plan, sources []models.Source) models.Progress {
	prog := models.Progress{
		Version:         models.ProgressVersion,
		Mode:            p.Mode,
		EffectiveTarget: p.EffectiveTarget,
		TopUpLimit:      p.TotalBatches,
	}
	if p.Mode != models.GenerationMultiSource {
		prog.Single = &models.SinglePoolProgress{CallsPlanned: p.TotalBatches}
		return prog
	}
	remaining := p.EffectiveTarget
	entries := make([]models.SourceScheduleEntry, 0, len(sources))
	for i, src := range sources {
		target := min(p.PerSourceTarget, remaining)
		remaining -= target
		order := src.Order
		if order == 0 {
			order = i + 1
		}
		entries = append(entries, models.SourceScheduleEntry{SourceID: src.SourceID, Order: order, Target: target})
	}
	prog.Schedule = &models.SourceSchedule{CallsPerSource: p.CallsPerSource, Entries: entries}
	return prog
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
