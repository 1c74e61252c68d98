package planner

import (
	"testing"

	"examforge/internal/models"

	"github.com/stretchr/testify/require"
)

func TestComputeScenarios(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want Plan
	}{
		{
			name: "small single pool",
			in:   Input{TargetCount: 10, Buffer: DefaultBuffer(), PerCallCap: 60, Mode: models.GenerationSinglePool},
			want: Plan{Mode: models.GenerationSinglePool, EffectiveTarget: 15, BatchSize: 15, TotalBatches: 1},
		},
		{
			name: "large single pool hits absolute cap",
			in:   Input{TargetCount: 100, Buffer: DefaultBuffer(), PerCallCap: 60, Mode: models.GenerationSinglePool},
			want: Plan{Mode: models.GenerationSinglePool, EffectiveTarget: 120, BatchSize: 60, TotalBatches: 2},
		},
		{
			name: "three sources",
			in:   Input{TargetCount: 30, Buffer: DefaultBuffer(), PerCallCap: 60, SourceCount: 3, Mode: models.GenerationMultiSource},
			want: Plan{Mode: models.GenerationMultiSource, EffectiveTarget: 45, BatchSize: 15, TotalBatches: 3, PerSourceTarget: 15, CallsPerSource: 1},
		},
		{
			name: "sources needing several calls each",
			in:   Input{TargetCount: 100, Buffer: BufferPolicy{Ratio: 1.5, Cap: 100}, PerCallCap: 20, SourceCount: 2, Mode: models.GenerationMultiSource},
			want: Plan{Mode: models.GenerationMultiSource, EffectiveTarget: 150, BatchSize: 19, TotalBatches: 8, PerSourceTarget: 75, CallsPerSource: 4},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Compute(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestComputeProperties(t *testing.T) {
	for target := 1; target <= 300; target += 7 {
		for _, capPerCall := range []int{1, 7, 25, 60} {
			for sources := 0; sources <= 5; sources++ {
				mode := models.GenerationSinglePool
				if sources > 0 {
					mode = models.GenerationMultiSource
				}
				p, err := Compute(Input{TargetCount: target, Buffer: DefaultBuffer(), PerCallCap: capPerCall, SourceCount: sources, Mode: mode})
				require.NoError(t, err)
				require.GreaterOrEqual(t, p.EffectiveTarget, target)
				require.LessOrEqual(t, p.EffectiveTarget, target+DefaultBufferCap)
				require.GreaterOrEqual(t, p.TotalBatches, 1)
				require.LessOrEqual(t, p.BatchSize, capPerCall)
				require.GreaterOrEqual(t, p.BatchSize*p.TotalBatches, p.EffectiveTarget)
			}
		}
	}
}

func TestComputeRejectsInvalidInput(t *testing.T) {
	_, err := Compute(Input{TargetCount: 0, PerCallCap: 60})
	require.ErrorIs(t, err, ErrInvalidPlan)
	_, err = Compute(Input{TargetCount: 5, PerCallCap: 0})
	require.ErrorIs(t, err, ErrInvalidPlan)
	_, err = Compute(Input{TargetCount: 5, PerCallCap: 60, Mode: models.GenerationMultiSource})
	require.ErrorIs(t, err, ErrInvalidPlan)
}

func TestBuildProgressTrimsTailTargets(t *testing.T) {
	p, err := Compute(Input{TargetCount: 31, Buffer: DefaultBuffer(), PerCallCap: 60, SourceCount: 3, Mode: models.GenerationMultiSource})
	require.NoError(t, err)
	require.Equal(t, 47, p.EffectiveTarget)

	prog := BuildProgress(p, []models.Source{{SourceID: "c1", Order: 1}, {SourceID: "c2", Order: 2}, {SourceID: "c3", Order: 3}})
	require.Equal(t, models.GenerationMultiSource, prog.Mode)
	require.NotNil(t, prog.Schedule)
	sum := 0
	for _, e := range prog.Schedule.Entries {
		sum += e.Target
	}
	require.Equal(t, p.EffectiveTarget, sum)
	require.Equal(t, []int{16, 16, 15}, []int{prog.Schedule.Entries[0].Target, prog.Schedule.Entries[1].Target, prog.Schedule.Entries[2].Target})
}

func TestBuildProgressSinglePool(t *testing.T) {
	p, err := Compute(Input{TargetCount: 100, Buffer: DefaultBuffer(), PerCallCap: 60})
	require.NoError(t, err)
	prog := BuildProgress(p, nil)
	require.NotNil(t, prog.Single)
	require.Nil(t, prog.Schedule)
	require.Equal(t, 2, prog.Single.CallsPlanned)
	require.Equal(t, 2, prog.TopUpLimit)
}
