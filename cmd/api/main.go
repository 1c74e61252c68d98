package main

import (
	"context"
	"net/http"
	"time"

	"examforge/internal/api"
	"examforge/internal/auth"
	"examforge/internal/config"
	"examforge/internal/continuation"
	"examforge/internal/logger"
	"examforge/internal/orchestrator"
	"examforge/internal/providers"
	"examforge/internal/storage"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

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

	var dispatcher continuation.Dispatcher
	var local *continuation.LocalDispatcher
	switch cfg.ContinuationMode {
	case "local":
		local = continuation.NewLocalDispatcher(log)
		dispatcher = local
	default:
		c, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
		if err != nil {
			log.Fatal("dial temporal", "error", err)
		}
		defer c.Close()
		dispatcher = continuation.NewTemporalDispatcher(c, cfg.TemporalTaskQueue, log)
	}

	comps := orchestrator.Build(cfg, storage.NewStore(db), llm, dispatcher, log)
	if local != nil {
		local.Handle(func(ctx context.Context, c continuation.Continuation) error {
			_, err := comps.Orchestrator.Continue(ctx, c)
			return err
		})
		defer local.Close()
	}

	authSvc := auth.NewService(cfg.JWTSecret, time.Duration(cfg.JWTExpirationHours)*time.Hour)
	h := api.NewServer(comps.Orchestrator, authSvc, log)
	log.Info("examforge api listening",
		"addr", cfg.APIAddr,
		"llm_providers", cfg.LLMProviders,
		"continuation", cfg.ContinuationMode,
		"auth_enabled", authSvc.Enabled(),
	)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal("api server stopped", "error", err)
	}
}
