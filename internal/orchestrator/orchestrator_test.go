package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"examforge/internal/auth"
	"examforge/internal/config"
	"examforge/internal/continuation"
	"examforge/internal/generation"
	"examforge/internal/memstore"
	"examforge/internal/models"
	"examforge/internal/providers"
	"examforge/internal/sections"

	"github.com/stretchr/testify/require"
)

type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// flakyLLM wraps the mock provider and fails, garbles or shortens chosen calls.
type flakyLLM struct {
	mu      sync.Mutex
	mock    *providers.MockProvider
	calls   int
	fail    func(call int) error
	garbage bool
	// shrink returns half of what each call asks for.
	shrink bool
	before func()
}

func (f *flakyLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	f.mu.Lock()
	f.calls++
	n, fail, garbage, shrink, before := f.calls, f.fail, f.garbage, f.shrink, f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}
	if shrink {
		req.Count = max(1, req.Count/2)
	}
	if fail != nil {
		if err := fail(n); err != nil {
			return providers.GenerateResponse{}, providers.ProviderInfo{Name: "mock"}, err
		}
	}
	if garbage {
		return providers.GenerateResponse{Text: "Sure! Here are some questions."}, providers.ProviderInfo{Name: "mock"}, nil
	}
	return f.mock.Generate(ctx, req)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	sent []continuation.Continuation
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, c continuation.Continuation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, c)
	return nil
}

func (d *recordingDispatcher) last(t *testing.T) continuation.Continuation {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sent)
	return d.sent[len(d.sent)-1]
}

type fixture struct {
	store *memstore.Store
	llm   *flakyLLM
	disp  *recordingDispatcher
	orch  *Orchestrator
}

var teacher = auth.Principal{Subject: "teacher-1", Token: "tok"}

func testConfig(t *testing.T) config.Config {
	return config.Config{
		PerCallCap:         60,
		BufferRatio:        1.5,
		BufferCap:          20,
		MaxRetries:         2,
		RetryBaseDelayMs:   1,
		StaleThresholdSecs: 420,
		ReaperConcurrency:  2,
		ReferenceRoot:      t.TempDir(),
		ReferenceMaxRunes:  1000,
	}
}

func newFixture(t *testing.T, backend Backend, st *memstore.Store) *fixture {
	t.Helper()
	if backend == nil {
		backend = st
	}
	llm := &flakyLLM{mock: providers.NewMockProvider()}
	disp := &recordingDispatcher{}
	c := Build(testConfig(t), backend, llm, disp, nil)
	c.Executor.Timer = instantTimer{}
	return &fixture{store: st, llm: llm, disp: disp, orch: c.Orchestrator}
}

func seedSection(st *memstore.Store, id string, target int, mode models.SectionMode) {
	st.PutSection(models.Section{SectionID: id, PaperID: "p1", SubjectID: "bio", Title: "Biology", Mode: mode, ItemCount: target, Status: models.StatusReady})
}

func section(t *testing.T, st *memstore.Store, id string) models.Section {
	t.Helper()
	sec, err := st.GetSection(context.Background(), id)
	require.NoError(t, err)
	return sec
}

func itemCount(t *testing.T, st *memstore.Store, id string) int {
	t.Helper()
	n, err := st.CountItems(context.Background(), id, "")
	require.NoError(t, err)
	return n
}

func TestTriggerSingleBatchCompletesRun(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "s1", 10, models.ModeGeneral)

	p, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.NoError(t, err)
	require.Equal(t, models.StatusInReview, p.Status)
	require.Equal(t, 15, p.GeneratedThisBatch)
	require.Equal(t, 15, p.EffectiveTarget)
	require.Equal(t, 1, p.TotalBatches)
	require.False(t, p.HasMore)
	require.False(t, p.Partial)
	require.Empty(t, f.disp.sent)

	sec := section(t, st, "s1")
	require.Empty(t, sec.AttemptID)
	require.Equal(t, 15, itemCount(t, st, "s1"))
	require.Len(t, st.Calls(), 1)
}

func TestContinuationChainAndIdempotence(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "s1", 100, models.ModeGeneral)
	ctx := context.Background()

	p, err := f.orch.Trigger(ctx, "s1", teacher)
	require.NoError(t, err)
	require.Equal(t, models.StatusGenerating, p.Status)
	require.True(t, p.HasMore)
	require.Equal(t, 60, p.GeneratedSoFar)
	next := f.disp.last(t)
	require.Equal(t, 2, next.NextBatch)
	require.Equal(t, "tok", next.AuthToken)

	p, err = f.orch.Continue(ctx, next)
	require.NoError(t, err)
	require.Equal(t, models.StatusInReview, p.Status)
	require.Equal(t, 120, p.GeneratedSoFar)
	require.False(t, p.HasMore)
	before := itemCount(t, st, "s1")

	again, err := f.orch.Continue(ctx, next)
	require.NoError(t, err)
	require.True(t, again.Skipped)
	require.Equal(t, before, itemCount(t, st, "s1"))
	require.Len(t, f.disp.sent, 1)
}

func TestContinueIgnoresWrongBatch(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "s1", 100, models.ModeGeneral)
	_, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.NoError(t, err)
	next := f.disp.last(t)
	next.NextBatch = 3

	p, err := f.orch.Continue(context.Background(), next)
	require.NoError(t, err)
	require.True(t, p.Skipped)
	require.Equal(t, 1, f.llm.calls)
}

func TestExhaustedRetriesWithItemsParkThenResume(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "s1", 100, models.ModeGeneral)
	ctx := context.Background()

	_, err := f.orch.Trigger(ctx, "s1", teacher)
	require.NoError(t, err)
	f.llm.fail = func(int) error { return errors.New("503 service unavailable") }

	p, err := f.orch.Continue(ctx, f.disp.last(t))
	require.NoError(t, err)
	require.True(t, p.Partial)
	require.True(t, p.HasMore)
	require.Equal(t, models.StatusInReview, p.Status)
	require.Contains(t, p.Error, "stopped early")
	require.Equal(t, 4, f.llm.calls)
	require.Equal(t, 60, itemCount(t, st, "s1"))
	require.Empty(t, section(t, st, "s1").AttemptID)

	f.llm.fail = nil
	p, err = f.orch.Resume(ctx, "s1", teacher)
	require.NoError(t, err)
	require.Equal(t, models.StatusInReview, p.Status)
	require.Equal(t, 120, p.GeneratedSoFar)
	require.False(t, p.HasMore)

	_, err = f.orch.Resume(ctx, "s1", teacher)
	require.ErrorIs(t, err, ErrNothingToResume)
}

func TestParseFailuresWithoutItemsRollBack(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	f.llm.garbage = true
	seedSection(st, "s1", 10, models.ModeGeneral)

	_, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.Equal(t, generation.KindParse, generation.KindOf(err))
	require.Equal(t, 3, f.llm.calls)

	sec := section(t, st, "s1")
	require.Equal(t, models.StatusReady, sec.Status)
	require.Empty(t, sec.AttemptID)
	require.Nil(t, sec.StartedAt)
	require.NotEmpty(t, sec.Error)
	require.Zero(t, itemCount(t, st, "s1"))
}

type brokenCommits struct {
	*memstore.Store
}

func (brokenCommits) CommitBatch(context.Context, models.BatchCommit) error {
	return errors.New("could not write to disk")
}

func TestPersistenceFailureMarksFailed(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, brokenCommits{st}, st)
	seedSection(st, "s1", 10, models.ModeGeneral)

	_, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.Equal(t, generation.KindPersistence, generation.KindOf(err))
	require.Equal(t, models.StatusFailed, section(t, st, "s1").Status)

	_, err = f.orch.Trigger(context.Background(), "s1", teacher)
	require.ErrorIs(t, err, sections.ErrInvalidTransition)
}

func TestTriggerReclaimsStaleRun(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	old := time.Now().UTC().Add(-time.Hour)
	st.PutSection(models.Section{SectionID: "s1", SubjectID: "bio", ItemCount: 10, Status: models.StatusGenerating, AttemptID: "ghost", StartedAt: &old})

	p, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.NoError(t, err)
	require.Equal(t, models.StatusInReview, p.Status)
}

func TestTriggerRejectsLiveRun(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	now := time.Now().UTC()
	st.PutSection(models.Section{SectionID: "s1", SubjectID: "bio", ItemCount: 10, Status: models.StatusGenerating, AttemptID: "live", StartedAt: &now})

	_, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.ErrorIs(t, err, models.ErrConflict)
	require.Equal(t, "live", section(t, st, "s1").AttemptID)
	require.Zero(t, f.llm.calls)
}

func TestPlanningErrorsStopBeforeAnyCall(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "zero", 0, models.ModeGeneral)
	seedSection(st, "nosrc", 10, models.ModeSources)

	for _, id := range []string{"zero", "nosrc"} {
		_, err := f.orch.Trigger(context.Background(), id, teacher)
		require.Equal(t, generation.KindPlanning, generation.KindOf(err), id)
		require.Equal(t, models.StatusReady, section(t, st, id).Status)
	}
	require.Zero(t, f.llm.calls)
}

func TestMultiSourceRunCoversEverySource(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "s1", 30, models.ModeSources)
	for i, id := range []string{"c1", "c2", "c3"} {
		st.PutSource(models.Source{SourceID: id, SubjectID: "bio", Title: "Chapter " + id, Order: i + 1})
	}
	st.LinkSources("s1", "c1", "c2", "c3")
	ctx := context.Background()

	p, err := f.orch.Trigger(ctx, "s1", teacher)
	require.NoError(t, err)
	for p.HasMore {
		p, err = f.orch.Continue(ctx, f.disp.last(t))
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusInReview, p.Status)
	require.Equal(t, 45, p.GeneratedSoFar)

	items, err := st.ListItems(ctx, "s1")
	require.NoError(t, err)
	per := map[string]int{}
	for _, it := range items {
		per[it.SourceID]++
	}
	require.Len(t, per, 3)
}

func TestDispatchFailureParksRun(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	f.disp.err = errors.New("dial tcp: connection refused")
	seedSection(st, "s1", 100, models.ModeGeneral)

	p, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.NoError(t, err)
	require.True(t, p.Partial)
	require.Equal(t, models.StatusInReview, p.Status)
	sec := section(t, st, "s1")
	require.Contains(t, sec.Error, "resume manually")
	require.Equal(t, 60, itemCount(t, st, "s1"))
}

func TestFinalizeRequiresSelection(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	st.PutSection(models.Section{SectionID: "s1", SubjectID: "bio", ItemCount: 1, Status: models.StatusInReview})
	st.PutItems("s1", models.Question{Stem: "unreviewed question", Answer: "a"})

	_, err := f.orch.Finalize(context.Background(), "s1")
	require.ErrorIs(t, err, sections.ErrIncomplete)

	st.PutSection(models.Section{SectionID: "s2", SubjectID: "bio", ItemCount: 1, Status: models.StatusInReview})
	st.PutItems("s2", models.Question{Stem: "reviewed question", Answer: "a", Selected: true})
	sec, err := f.orch.Finalize(context.Background(), "s2")
	require.NoError(t, err)
	require.Equal(t, models.StatusFinalized, sec.Status)
}

func TestReassignRollsBackLiveRun(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "s1", 100, models.ModeGeneral)
	st.PutSource(models.Source{SourceID: "c9", SubjectID: "bio", Title: "Evolution"})
	ctx := context.Background()

	_, err := f.orch.Trigger(ctx, "s1", teacher)
	require.NoError(t, err)
	pending := f.disp.last(t)

	sec, err := f.orch.Reassign(ctx, "s1", []string{"c9"})
	require.NoError(t, err)
	require.Equal(t, models.StatusReady, sec.Status)
	require.Empty(t, sec.AttemptID)
	require.Zero(t, itemCount(t, st, "s1"))

	p, err := f.orch.Continue(ctx, pending)
	require.NoError(t, err)
	require.True(t, p.Skipped)

	srcs, err := st.ListSources(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, srcs, 1)
}

func TestReclaimHealthyRunIsNoop(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	seedSection(st, "s1", 100, models.ModeGeneral)
	_, err := f.orch.Trigger(context.Background(), "s1", teacher)
	require.NoError(t, err)

	res, err := f.orch.Reclaim(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, res.Acted)
}

func TestShortBatchesTopUpThenParkBelowTarget(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	f.llm.shrink = true
	seedSection(st, "s1", 100, models.ModeGeneral)
	ctx := context.Background()

	p, err := f.orch.Trigger(ctx, "s1", teacher)
	require.NoError(t, err)
	require.Equal(t, 30, p.GeneratedSoFar)
	require.Equal(t, 2, p.TotalBatches)
	for p.HasMore {
		p, err = f.orch.Continue(ctx, f.disp.last(t))
		require.NoError(t, err)
	}

	// 30 + 30 + 30 + 15: two top-ups past the planned two batches, then the
	// budget is spent and the run parks short of 120.
	require.Equal(t, models.StatusInReview, p.Status)
	require.True(t, p.Partial)
	require.Equal(t, 105, p.GeneratedSoFar)
	require.Equal(t, 4, p.TotalBatches)
	require.Contains(t, p.Error, "stopped short with 105 of 120")
	sec := section(t, st, "s1")
	require.Empty(t, sec.AttemptID)
	require.Equal(t, 2, sec.Progress.TopUps)
	require.Equal(t, 105, itemCount(t, st, "s1"))

	f.llm.shrink = false
	p, err = f.orch.Resume(ctx, "s1", teacher)
	require.NoError(t, err)
	require.False(t, p.Partial)
	require.Equal(t, models.StatusInReview, p.Status)
	require.Equal(t, 120, p.GeneratedSoFar)
	require.Empty(t, section(t, st, "s1").Error)

	_, err = f.orch.Resume(ctx, "s1", teacher)
	require.ErrorIs(t, err, ErrNothingToResume)
}

func TestShortBatchesKeepSourceUntilCovered(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, nil, st)
	f.llm.shrink = true
	seedSection(st, "s1", 30, models.ModeSources)
	for i, id := range []string{"c1", "c2", "c3"} {
		st.PutSource(models.Source{SourceID: id, SubjectID: "bio", Title: "Chapter " + id, Order: i + 1})
	}
	st.LinkSources("s1", "c1", "c2", "c3")
	ctx := context.Background()

	p, err := f.orch.Trigger(ctx, "s1", teacher)
	require.NoError(t, err)
	for p.HasMore {
		p, err = f.orch.Continue(ctx, f.disp.last(t))
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusInReview, p.Status)
	require.True(t, p.Partial)
	require.Contains(t, p.Error, "stopped short")

	entries := section(t, st, "s1").Progress.Schedule.Entries
	require.Len(t, entries, 3)
	require.Equal(t, 15, entries[0].Generated, "first source filled before the cursor moved")
	require.Equal(t, 7, entries[1].Generated)
	require.Zero(t, entries[2].Generated)

	f.llm.shrink = false
	p, err = f.orch.Resume(ctx, "s1", teacher)
	require.NoError(t, err)
	for p.HasMore {
		p, err = f.orch.Continue(ctx, f.disp.last(t))
		require.NoError(t, err)
	}
	require.Equal(t, models.StatusInReview, p.Status)
	require.False(t, p.Partial)
	require.Equal(t, 45, p.GeneratedSoFar)
	for _, e := range section(t, st, "s1").Progress.Schedule.Entries {
		require.Equal(t, 15, e.Generated, e.SourceID)
	}
}

// ctxStore fails every write once the caller's context is cancelled, the
// way a pgx pool does.
type ctxStore struct {
	*memstore.Store
}

func (s ctxStore) Heartbeat(ctx context.Context, sectionID, attemptID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.Heartbeat(ctx, sectionID, attemptID, at)
}

func (s ctxStore) CommitBatch(ctx context.Context, in models.BatchCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.CommitBatch(ctx, in)
}

func (s ctxStore) EndAttempt(ctx context.Context, in models.AttemptEnd) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.EndAttempt(ctx, in)
}

func (s ctxStore) CountItems(ctx context.Context, sectionID, attemptID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.Store.CountItems(ctx, sectionID, attemptID)
}

func (s ctxStore) InsertGenerationCall(ctx context.Context, rec models.GenerationCall) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.InsertGenerationCall(ctx, rec)
}

func TestClientDisconnectDoesNotStrandRun(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, ctxStore{st}, st)
	seedSection(st, "s1", 10, models.ModeGeneral)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.llm.before = cancel

	p, err := f.orch.Trigger(ctx, "s1", teacher)
	require.NoError(t, err)
	require.Equal(t, models.StatusInReview, p.Status)
	sec := section(t, st, "s1")
	require.Equal(t, models.StatusInReview, sec.Status)
	require.Empty(t, sec.AttemptID)
	require.Equal(t, 15, itemCount(t, st, "s1"))
	require.Len(t, st.Calls(), 1)
}

func TestClientDisconnectDuringFailedBatchRollsBack(t *testing.T) {
	st := memstore.New()
	f := newFixture(t, ctxStore{st}, st)
	seedSection(st, "s1", 10, models.ModeGeneral)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.llm.before = cancel
	f.llm.fail = func(int) error { return errors.New("503 service unavailable") }

	_, err := f.orch.Trigger(ctx, "s1", teacher)
	require.Equal(t, generation.KindService, generation.KindOf(err))
	sec := section(t, st, "s1")
	require.Equal(t, models.StatusReady, sec.Status, "a cancelled caller must not leave the run generating")
	require.Empty(t, sec.AttemptID)
}
