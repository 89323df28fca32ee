package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/minisource/orchestrator/config"
	"github.com/minisource/orchestrator/internal/clock"
	"github.com/minisource/orchestrator/internal/database"
	"github.com/minisource/orchestrator/internal/executor"
	"github.com/minisource/orchestrator/internal/handler"
	"github.com/minisource/orchestrator/internal/lock"
	"github.com/minisource/orchestrator/internal/orchestrator"
	"github.com/minisource/orchestrator/internal/queue"
	"github.com/minisource/orchestrator/internal/registry"
	"github.com/minisource/orchestrator/internal/repository"
	"github.com/minisource/orchestrator/internal/router"
	"github.com/minisource/orchestrator/internal/service"
	"github.com/minisource/orchestrator/internal/statemachine"
	"github.com/minisource/orchestrator/internal/tracing"
)

func main() {
	cfg := config.LoadConfig()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, log)
	if err != nil {
		log.Warn("tracing init failed, continuing without it", zap.Error(err))
	}
	defer shutdownTracing(ctx)

	db, err := database.NewPostgresConnection(&cfg.Postgres)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("failed to auto-migrate", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}

	reg := registry.New(cfg.Orchestrator.DefaultMaxRetries)
	registerProcessTypes(reg)

	processRepo := repository.NewProcessRecordRepository(db)
	taskRepo := repository.NewTaskInstanceRepository(db)
	workUnitRepo := repository.NewWorkUnitRepository(db)

	workQueue := queue.New(workUnitRepo)
	locker := lock.NewDistributedLocker(redisClient, fmt.Sprintf("orchestrator-%d", os.Getpid()))
	exec := executor.New()

	sm := statemachine.New(
		processRepo,
		taskRepo,
		reg,
		exec,
		workQueue,
		clock.System{},
		statemachine.Config{
			BackoffBase: time.Duration(cfg.Orchestrator.BackoffBaseSeconds) * time.Second,
			BackoffMax:  time.Duration(cfg.Orchestrator.BackoffMaxSeconds) * time.Second,
		},
		log,
	)

	orch := orchestrator.New(
		processRepo,
		taskRepo,
		reg,
		workQueue,
		sm,
		locker,
		orchestrator.Config{
			Workers:          cfg.Orchestrator.WorkerCount,
			ClaimLimit:       cfg.Orchestrator.ClaimLimit,
			PollInterval:     time.Duration(cfg.Orchestrator.PollIntervalSeconds) * time.Second,
			HeartbeatEvery:   time.Duration(cfg.Orchestrator.HeartbeatSeconds) * time.Second,
			LeaseDeadline:    time.Duration(cfg.Orchestrator.LeaseDeadlineSeconds) * time.Second,
			LockTTL:          time.Duration(cfg.Orchestrator.LockTTLSeconds) * time.Second,
			CronScanInterval: 30 * time.Second,
			CronHorizon:      cfg.Orchestrator.CronHorizon,
			DrainTimeout:     cfg.Orchestrator.DrainTimeout,
		},
		log,
	)

	processService := service.NewProcessService(orch)

	handlers := &router.Handlers{
		Process: handler.NewProcessHandler(processService),
		Health:  handler.NewHealthHandler(db, orch),
	}

	app := fiber.New(fiber.Config{
		AppName:      "Process Orchestrator",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	})

	router.SetupRouter(app, handlers)

	if err := orch.Start(ctx); err != nil {
		log.Fatal("failed to start orchestrator", zap.Error(err))
	}

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info("starting orchestrator service", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orchestrator service")

	orch.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("orchestrator service stopped")
}
