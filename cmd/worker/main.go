package main

import (
	"context"
	"errors"
	"time"

	"examforge/internal/activities"
	"examforge/internal/auth"
	"examforge/internal/config"
	"examforge/internal/continuation"
	"examforge/internal/logger"
	"examforge/internal/orchestrator"
	"examforge/internal/providers"
	"examforge/internal/storage"
	"examforge/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		log.Fatal("dial temporal", "error", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer db.Close()
	if cfg.EnsureSchemaOnStartup {
		if err := db.EnsureSchema(ctx); err != nil {
			log.Fatal("ensure schema", "error", err)
		}
	}

	llm, err := providers.NewManager(cfg)
	if err != nil {
		log.Fatal("init llm providers", "error", err)
	}
	defer llm.Close()

	dispatcher := continuation.NewTemporalDispatcher(c, cfg.TemporalTaskQueue, log)
	comps := orchestrator.Build(cfg, storage.NewStore(db), llm, dispatcher, log)
	authSvc := auth.NewService(cfg.JWTSecret, time.Duration(cfg.JWTExpirationHours)*time.Hour)

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(comps.Orchestrator, comps.Reaper, authSvc, log))

	if err := startReaper(ctx, c, cfg); err != nil {
		log.Fatal("start stale section reaper", "error", err)
	}

	log.Info("examforge worker listening",
		"temporal", cfg.TemporalAddress,
		"queue", cfg.TemporalTaskQueue,
		"llm_providers", cfg.LLMProviders,
		"reaper_cron", cfg.ReaperCron,
	)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal("worker stopped", "error", err)
	}
}

// startReaper schedules the periodic sweep. An already running schedule from
// another worker is kept.
func startReaper(ctx context.Context, c client.Client, cfg config.Config) error {
	if cfg.ReaperCron == "" {
		return nil
	}
	_, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                                       workflows.ReaperWorkflowID,
		TaskQueue:                                cfg.TemporalTaskQueue,
		CronSchedule:                             cfg.ReaperCron,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.ReaperWorkflowName)
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}
	return err
}
