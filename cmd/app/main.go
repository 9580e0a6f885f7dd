package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"image-analysis-backend/internal/config"
	pg "image-analysis-backend/internal/infra/db/postgres"
	"image-analysis-backend/internal/infra/imaging"
	"image-analysis-backend/internal/infra/jobs"
	"image-analysis-backend/internal/infra/logging"
	"image-analysis-backend/internal/infra/metrics"
	red "image-analysis-backend/internal/infra/redis"
	"image-analysis-backend/internal/infra/storage"
	"image-analysis-backend/internal/infra/web"
	"image-analysis-backend/internal/infra/worker"
	"image-analysis-backend/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, debug level)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	rateLimiter := red.NewRateLimiter(redisClient)
	resultCache := red.NewResultCache(redisClient, cfg.Redis.TTL)

	// ---- Storage + repositories ----
	files := storage.NewFiles(cfg.Storage.UploadsDir, cfg.Storage.ExportsDir, logger)
	txm := pg.NewTxManager(pool)
	datasetRepo := pg.NewDatasetRepo(pool)
	imageRepo := pg.NewImageRepo(pool)
	resultRepo := pg.NewResultRepoCacheDecorator(pg.NewResultRepo(pool, txm, files, logger), resultCache)

	// ---- Jobs + workers ----
	registry := jobs.NewRegistry(logger)
	sweeper := jobs.NewSweeper(cfg.Jobs.SweepInterval, cfg.Jobs.MaxTerminalAge, registry, logger)
	wpool := worker.NewPool(cfg.Worker.Count)

	// ---- Imaging ----
	processor := imaging.NewProcessor(logger)

	// ---- Use cases ----
	datasetUC := usecase.NewDatasetUseCase(datasetRepo, imageRepo, resultRepo, files, logger)
	imageUC := usecase.NewImageUseCase(datasetRepo, imageRepo, resultRepo, files, logger)
	resultUC := usecase.NewResultUseCase(imageRepo, resultRepo)
	jobUC := usecase.NewJobUseCase(registry)
	analysisUC := usecase.NewAnalysisUseCase(imageRepo, resultRepo, processor, processor, registry, wpool, files, logger)
	archiveUC := usecase.NewArchiveUseCase(datasetRepo, imageRepo, resultRepo, registry, wpool, files, logger)

	srv := web.NewServer(cfg, datasetUC, imageUC, resultUC, jobUC, analysisUC, archiveUC, registry, rateLimiter, logger)

	g, gctx := errgroup.WithContext(ctx)
	wpool.Start(gctx)
	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				st := pool.Stat()
				metrics.SetDBPoolStats(st.TotalConns(), st.IdleConns(), st.AcquiredConns())
			}
		}
	})

	logger.Info().Int("port", cfg.Server.Port).Msg("service started")
	err = g.Wait()
	wpool.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("service stopped")
	}
	logger.Info().Msg("service stopped")
}
