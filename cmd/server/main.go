package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"hlsmill/internal/api/handler"
	"hlsmill/internal/api/middleware"
	"hlsmill/internal/config"
	"hlsmill/internal/domain/repository"
	"hlsmill/internal/infrastructure/cache"
	"hlsmill/internal/infrastructure/metrics"
	"hlsmill/internal/infrastructure/postgres"
	"hlsmill/internal/infrastructure/queue"
	"hlsmill/internal/infrastructure/storage"
	"hlsmill/internal/jobstore"
	"hlsmill/internal/media"
	"hlsmill/internal/pipeline"
	"hlsmill/internal/transcoder"
	"hlsmill/internal/usecase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Pipeline.WorkDir, 0755); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}

	// Infrastructure clients.
	var archive repository.JobArchive
	if cfg.Database.Enabled {
		pgClient, err := postgres.NewClient(ctx, postgres.DefaultClientConfig(cfg.Database.DSN()))
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		defer pgClient.Close()
		archive = postgres.NewJobArchive(pgClient.Pool())
		logger.Info("connected to PostgreSQL")
	}

	storageClient, err := storage.NewClient(ctx, storage.ClientConfig{
		Endpoint:       cfg.MinIO.Endpoint,
		PublicEndpoint: cfg.MinIO.PublicEndpoint,
		AccessKey:      cfg.MinIO.AccessKey,
		SecretKey:      cfg.MinIO.SecretKey,
		Bucket:         cfg.MinIO.Bucket,
		UseSSL:         cfg.MinIO.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	logger.Info("connected to MinIO")

	queueCfg := queue.DefaultClientConfig(cfg.RabbitMQ.URL())
	queueCfg.Prefetch = cfg.RabbitMQ.Prefetch
	queueClient, err := queue.NewClient(ctx, queueCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer queueClient.Close()
	logger.Info("connected to RabbitMQ")

	// Job store with its retention sweep.
	store := jobstore.NewStore(jobstore.Config{
		Retention:     cfg.Pipeline.JobRetention,
		SweepInterval: cfg.Pipeline.SweepInterval,
	})
	go store.Run(ctx)

	var jobSvc usecase.JobService = usecase.NewJobService(store, queueClient, archive)

	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis")

		jobSvc = usecase.NewCachedJobService(
			jobSvc,
			cache.NewRedisJobCache(redisClient),
			usecase.CachedJobServiceConfig{CacheTTL: cfg.Redis.CacheTTL},
		)
	}

	// Pipeline wiring.
	tcCfg := transcoder.DefaultFFmpegConfig()
	tcCfg.FFmpegPath = cfg.Pipeline.FFmpegPath
	tc := transcoder.NewFFmpegTranscoder(tcCfg)

	publisher := usecase.NewArtifactPublisher(storageClient, usecase.PublisherConfig{
		CDNBaseURL: cfg.CDN.BaseURL,
	})

	driverCfg := pipeline.DefaultDriverConfig()
	driverCfg.WorkDir = cfg.Pipeline.WorkDir
	driverCfg.CancelPollInterval = cfg.Pipeline.CancelPollInterval
	driver := pipeline.NewDriver(
		driverCfg,
		store,
		media.NewHTTPFetcher(nil),
		media.NewFFprobeProber(cfg.Pipeline.FFprobePath),
		pipeline.NewCoordinator(tc),
		publisher,
		archive,
		metrics.PipelineObserver{},
	)

	// Consume conversion tasks in the background. The store, the API and the
	// pipeline share this process, so a consumed task always finds its job.
	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	go func() {
		logger.Info("consuming convert tasks")
		err := queueClient.ConsumeConvertTasks(ctx, func(task repository.ConvertTask) error {
			wg.Add(1)
			defer wg.Done()

			metrics.JobsActive.Inc()
			defer metrics.JobsActive.Dec()

			logger.Info("processing job", slog.String("job_id", task.JobID.String()))
			if err := driver.Process(ctx, task.JobID); err != nil {
				logger.Error("job processing failed",
					slog.String("job_id", task.JobID.String()),
					slog.String("error", err.Error()),
				)
				return err
			}
			return nil
		})
		if err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("consumer error: %w", err)
		}
	}()

	// HTTP server.
	r := setupRouter(logger, jobSvc)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting server", slog.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	// Stop accepting requests first; open event streams end with the server.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", slog.String("error", err.Error()))
	}

	// Stop consuming and give in-flight conversions a grace period. Jobs cut
	// off here stay non-terminal and are redelivered on the next start.
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownTimeout)
	defer drainCancel()

	select {
	case <-done:
		logger.Info("all in-flight jobs completed")
	case <-drainCtx.Done():
		logger.Warn("shutdown timeout exceeded, some jobs may not have completed")
	}

	logger.Info("server stopped")
	return nil
}

func setupRouter(logger *slog.Logger, jobSvc usecase.JobService) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	jobHandler := handler.NewJobHandler(jobSvc)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", jobHandler.Create)
		r.Get("/jobs/{id}", jobHandler.Get)
		r.Post("/jobs/{id}/cancel", jobHandler.Cancel)
		r.Get("/jobs/{id}/events", jobHandler.Events)
	})

	return r
}
