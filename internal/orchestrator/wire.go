package orchestrator

import (
	"examforge/internal/attempts"
	"examforge/internal/config"
	"examforge/internal/continuation"
	"examforge/internal/finishing"
	"examforge/internal/generation"
	"examforge/internal/logger"
	"examforge/internal/planner"
	"examforge/internal/providers"
	"examforge/internal/questions"
	"examforge/internal/reaper"
	"examforge/internal/references"
	"examforge/internal/sections"
)

// Backend is everything the orchestrator and its collaborators read and
// write. storage.Store and memstore.Store both satisfy it.
type Backend interface {
	Store
	attempts.Store
	generation.StepStore
	reaper.Store
	finishing.ItemStore
}

// Components is the assembled graph, exposed for the processes that need
// more than the orchestrator itself.
type Components struct {
	Orchestrator *Orchestrator
	Reaper       *reaper.Reaper
	Executor     *generation.Executor
}

func Build(cfg config.Config, store Backend, llm providers.LLMProvider, dispatcher continuation.Dispatcher, log *logger.Logger) Components {
	if log == nil {
		log = logger.Nop()
	}
	tracker := attempts.NewTracker(store)
	exec := generation.NewExecutor(cfg.MaxRetries, cfg.RetryBaseDelay(), log.With("component", "executor"))
	step := generation.NewStep(generation.StepDeps{
		Store:       store,
		Attempts:    tracker,
		Executor:    exec,
		LLM:         llm,
		Parse:       questions.Parse,
		References:  references.NewLoader(cfg.ReferenceRoot, cfg.ReferenceMaxRunes),
		Validator:   questions.NewValidator(),
		CallTimeout: cfg.StepTimeout(),
		Log:         log.With("component", "step"),
	})
	rp := reaper.New(store, cfg.StaleThreshold(), cfg.ReaperConcurrency, log.With("component", "reaper"))
	sched := continuation.NewScheduler(dispatcher, finishing.NewProofreader(store, log.With("component", "finishing")), tracker, log.With("component", "continuation"))
	orch := New(Deps{
		Store:        store,
		Attempts:     tracker,
		Step:         step,
		Scheduler:    sched,
		Reaper:       rp,
		Machine:      sections.Machine{RetryFromFailed: cfg.RetryFromFailed},
		Completeness: finishing.NewSelectionCheck(store),
		Planning: Planning{
			Buffer:     planner.BufferPolicy{Ratio: cfg.BufferRatio, Cap: cfg.BufferCap},
			PerCallCap: cfg.PerCallCap,
		},
		Log: log.With("component", "orchestrator"),
	})
	return Components{Orchestrator: orch, Reaper: rp, Executor: exec}
}
