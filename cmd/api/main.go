package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"canvasapi/internal/adapter/repo"
	"canvasapi/internal/http/handlers"
	httpapi "canvasapi/internal/http/httpapi"
	"canvasapi/internal/infra"
	"canvasapi/internal/providers/canvasai"
)

func main() {
	// Optional .env files.
	_ = godotenv.Load(".env.local", ".env")

	cfg, err := infra.LoadConfig("")
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect database")
	}
	defer dbpool.Close()

	analyses := repo.NewAnalysisRepository(infra.NewSQLRunner(dbpool, logger))
	if err := analyses.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: failed to prepare schema")
	}

	upstream, err := canvasai.NewClient(canvasai.Options{
		BaseURL:        cfg.AnalysisBaseURL,
		RequestTimeout: cfg.AnalysisTimeout,
		Logger:         &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure analysis client")
	}

	app := handlers.NewApp(analyses, upstream, &logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             &logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr()).Str("upstream", upstream.BaseURL()).Msg("api: listening")
		return server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("api: server failed")
		os.Exit(1)
	}
	logger.Info().Msg("api: stopped")
}
