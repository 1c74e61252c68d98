package sections

import (
	"context"
	"errors"
	"testing"

	"examforge/internal/models"

	"github.com/stretchr/testify/require"
)

type checkerFunc func(models.Section) (bool, string, error)

func (f checkerFunc) Complete(_ context.Context, s models.Section) (bool, string, error) {
	return f(s)
}

func TestGenerationOnlyFromReadyOrInReview(t *testing.T) {
	m := Machine{}
	for _, st := range []models.SectionStatus{models.StatusReady, models.StatusInReview} {
		require.NoError(t, m.CanStartGeneration(models.Section{Status: st}), st)
	}
	for _, st := range []models.SectionStatus{models.StatusPending, models.StatusGenerating, models.StatusFinalized, models.StatusFailed} {
		require.ErrorIs(t, m.CanStartGeneration(models.Section{Status: st}), ErrInvalidTransition, st)
	}
}

func TestRetryFromFailedIsOptIn(t *testing.T) {
	require.False(t, Machine{}.CanTransition(models.StatusFailed, models.StatusGenerating))
	m := Machine{RetryFromFailed: true}
	require.True(t, m.CanTransition(models.StatusFailed, models.StatusGenerating))
	require.Contains(t, m.GenerationSources(), models.StatusFailed)
	require.NotContains(t, Machine{}.GenerationSources(), models.StatusFailed)
}

func TestLifecycleEdges(t *testing.T) {
	m := Machine{}
	require.True(t, m.CanTransition(models.StatusPending, models.StatusReady))
	require.True(t, m.CanTransition(models.StatusGenerating, models.StatusInReview))
	require.True(t, m.CanTransition(models.StatusGenerating, models.StatusReady))
	require.True(t, m.CanTransition(models.StatusGenerating, models.StatusFailed))
	require.True(t, m.CanTransition(models.StatusFailed, models.StatusReady))
	require.False(t, m.CanTransition(models.StatusReady, models.StatusFinalized))
	require.False(t, m.CanTransition(models.StatusFinalized, models.StatusGenerating))
	require.False(t, m.CanTransition(models.StatusPending, models.StatusGenerating))
}

func TestCheckFinalize(t *testing.T) {
	m := Machine{}
	complete := checkerFunc(func(models.Section) (bool, string, error) { return true, "", nil })
	incomplete := checkerFunc(func(models.Section) (bool, string, error) { return false, "3 items not selected", nil })
	broken := checkerFunc(func(models.Section) (bool, string, error) { return false, "", errors.New("db down") })

	require.NoError(t, m.CheckFinalize(context.Background(), models.Section{Status: models.StatusInReview}, complete))
	require.ErrorIs(t, m.CheckFinalize(context.Background(), models.Section{Status: models.StatusGenerating}, complete), ErrInvalidTransition)

	err := m.CheckFinalize(context.Background(), models.Section{Status: models.StatusInReview}, incomplete)
	require.ErrorIs(t, err, ErrIncomplete)
	require.ErrorContains(t, err, "3 items not selected")

	require.ErrorContains(t, m.CheckFinalize(context.Background(), models.Section{Status: models.StatusInReview}, broken), "db down")
}
