package activities

import (
	"context"
	"errors"
	"testing"
	"time"

	"examforge/internal/auth"
	"examforge/internal/continuation"
	"examforge/internal/generation"
	"examforge/internal/models"
	"examforge/internal/orchestrator"
	"examforge/internal/reaper"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
)

type stubContinuer struct {
	got  []continuation.Continuation
	resp orchestrator.Progress
	err  error
}

func (s *stubContinuer) Continue(_ context.Context, c continuation.Continuation) (orchestrator.Progress, error) {
	s.got = append(s.got, c)
	return s.resp, s.err
}

type stubSweeper struct{}

func (stubSweeper) ReapAll(context.Context) (reaper.Summary, error) {
	return reaper.Summary{Scanned: 3, Reaped: 1}, nil
}

func TestRunContinuationPassesThrough(t *testing.T) {
	orch := &stubContinuer{resp: orchestrator.Progress{SectionID: "s1", GeneratedThisBatch: 60}}
	a := New(orch, stubSweeper{}, nil, nil)
	out, err := a.RunContinuationActivity(context.Background(), RunContinuationInput{Continuation: continuation.Continuation{SectionID: "s1", NextBatch: 2}})
	require.NoError(t, err)
	require.Equal(t, 60, out.Progress.GeneratedThisBatch)
	require.Len(t, orch.got, 1)
}

func TestRunContinuationAbsorbsBatchFailures(t *testing.T) {
	orch := &stubContinuer{err: &generation.Error{Kind: generation.KindParse, Attempts: 3, Err: generation.ErrParse}}
	out, err := New(orch, stubSweeper{}, nil, nil).RunContinuationActivity(context.Background(), RunContinuationInput{})
	require.NoError(t, err)
	require.Contains(t, out.Error, "parse error")

	orch.err = errors.New("connection refused")
	_, err = New(orch, stubSweeper{}, nil, nil).RunContinuationActivity(context.Background(), RunContinuationInput{})
	require.Error(t, err)

	orch.err = models.ErrNotFound
	_, err = New(orch, stubSweeper{}, nil, nil).RunContinuationActivity(context.Background(), RunContinuationInput{})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.True(t, appErr.NonRetryable())
}

func TestRunContinuationChecksCarriedToken(t *testing.T) {
	svc := auth.NewService("test-secret", time.Hour)
	orch := &stubContinuer{}
	a := New(orch, stubSweeper{}, svc, nil)

	_, err := a.RunContinuationActivity(context.Background(), RunContinuationInput{Continuation: continuation.Continuation{SectionID: "s1", AuthToken: "forged"}})
	require.Error(t, err)
	require.Empty(t, orch.got)

	tok, err := svc.Issue("teacher-1", "")
	require.NoError(t, err)
	_, err = a.RunContinuationActivity(context.Background(), RunContinuationInput{Continuation: continuation.Continuation{SectionID: "s1", AuthToken: tok}})
	require.NoError(t, err)
	require.Len(t, orch.got, 1)
}

func TestReapStaleSections(t *testing.T) {
	out, err := New(&stubContinuer{}, stubSweeper{}, nil, nil).ReapStaleSectionsActivity(context.Background(), ReapStaleSectionsInput{})
	require.NoError(t, err)
	require.Equal(t, ReapStaleSectionsOutput{Scanned: 3, Reaped: 1}, out)
}
