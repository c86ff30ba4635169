package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"canvasapi/internal/adapter/repo"
	"canvasapi/internal/infra"
	"canvasapi/internal/providers/canvasai"
	"canvasapi/internal/storage"
	"canvasapi/internal/worker"
)

func main() {
	_ = godotenv.Load(".env.local", ".env")

	cfg, err := infra.LoadConfig("")
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	analyses := repo.NewAnalysisRepository(infra.NewSQLRunner(pool, logger))
	if err := analyses.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to prepare schema")
	}

	fileStore, err := storage.NewFileStore(cfg.DiagnosticsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure diagnostics storage")
	}

	client, err := canvasai.NewClient(canvasai.Options{
		BaseURL:        cfg.AnalysisBaseURL,
		RequestTimeout: cfg.AnalysisTimeout,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure analysis client")
	}

	w := worker.New(worker.Options{
		Repo:         analyses,
		Invoker:      client,
		Store:        fileStore,
		Logger:       &logger,
		PollInterval: cfg.WorkerPollInterval,
	})
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}
