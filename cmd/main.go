package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/internal/app/registry"
	"parley/internal/app/server"
	"parley/internal/app/worker"
	"parley/internal/config"
	"parley/internal/core/services"
	"parley/internal/platform/logger"
	"parley/internal/platform/telemetry"
	"parley/internal/plugins/assistant"
	"parley/internal/plugins/postgres"
	redisPlugin "parley/internal/plugins/redis"
	"parley/internal/plugins/vision"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg := config.Load()

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
		otelShutdown = func(context.Context) error { return nil }
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	var pdb *sql.DB
	if pdb, err = postgres.New(ctx, *cfg.Postgres); err != nil {
		log.Error("postgres connection failed", "DSN", cfg.Postgres.DSN)
		return
	}
	log.Info("postgres connected")
	var rdb *redis.Client
	if rdb, err = redisPlugin.NewRedisClient(ctx, *cfg.Redis); err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL)
		return
	}
	log.Info("redis connected")

	// Adapters
	archiveRepo := postgres.NewArchiveRepo(pdb)
	txManager := postgres.NewTxManager(pdb)
	presStore := redisPlugin.NewRedisPresenceStore(rdb, cfg.Session.PresenceTTL)
	jobQueue := redisPlugin.NewRedisJobQueue(log, rdb)
	analyzer := vision.NewVisionClient(*cfg.Vision)
	processor := assistant.NewAssistantClient(*cfg.Assistant)

	// Core Services
	reg := registry.NewRegistry()
	tokenSvc := services.NewTokenService(cfg.SecretToken)
	deliverySvc := services.NewDeliveryService(log, cfg.Session, reg)
	imageSvc := services.NewImageService(log, cfg.Session, cfg.Worker, reg, deliverySvc, jobQueue)
	reconnectSvc := services.NewReconnectService(log, cfg.Session)
	heartbeatSvc := services.NewHeartbeatService(log, cfg.Session, reg, deliverySvc, presStore)
	managerSvc := services.NewManagerService(
		log, cfg.Session, reg,
		deliverySvc, imageSvc, reconnectSvc,
		presStore, processor, archiveRepo, txManager,
	)
	heartbeatSvc.OnTerminate(managerSvc.TerminateClient)

	// Background work: image analysis consumer and liveness sweeps.
	wrkr := worker.NewImageWorker(log, jobQueue, imageSvc, analyzer, cfg.Worker.ImageStream, cfg.Worker.ImageGroup)
	if err := wrkr.Run(ctx); err != nil {
		log.Error("image worker failed to start", "err", err)
		return
	}
	go func() { _ = heartbeatSvc.Run(ctx) }()

	// Server
	srv := server.NewServer(log, cfg.Service.Name, cfg.Service.Addr, tokenSvc, managerSvc, cfg.Session)
	if err := srv.Start(ctx); err != nil {
		log.Error("server stopped", "err", err)
	}

	// Sessions drain before the deferred telemetry flush.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	managerSvc.Shutdown(shutdownCtx)
}
