package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	redisv8 "github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"

	"github.com/jamie-anson/placeflow-ingestor/internal/api"
	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/config"
	"github.com/jamie-anson/placeflow-ingestor/internal/crawl"
	"github.com/jamie-anson/placeflow-ingestor/internal/db"
	"github.com/jamie-anson/placeflow-ingestor/internal/embedding"
	"github.com/jamie-anson/placeflow-ingestor/internal/engine"
	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	"github.com/jamie-anson/placeflow-ingestor/internal/flags"
	"github.com/jamie-anson/placeflow-ingestor/internal/geoip"
	"github.com/jamie-anson/placeflow-ingestor/internal/jobcontrol"
	"github.com/jamie-anson/placeflow-ingestor/internal/logging"
	"github.com/jamie-anson/placeflow-ingestor/internal/media"
	"github.com/jamie-anson/placeflow-ingestor/internal/metrics"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/internal/regionsweep"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/internal/worker"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func main() {
	logger := logging.Init()
	logger.Info().Msg("logger initialized")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			logger.Warn().Err(err).Msg("sentry init failed; continuing without it")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	tracingShutdown, err := logging.InitTracing(rootCtx, "placeflow-ingestor", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing init failed; continuing without export")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracingShutdown(ctx)
		}()
	}

	database, err := db.Initialize(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database initialization failed")
	}
	if database.DB == nil {
		logger.Fatal().Msg("database unreachable; refusing to start without a store")
	}
	defer database.Close()

	pool, err := db.InitPool(rootCtx)
	if err != nil {
		logger.Warn().Err(err).Msg("pgx pool init failed; continuing on database/sql only")
	}
	metrics.RegisterPoolStats(pool)

	q, err := queue.New(queue.Config{
		RedisURL:          cfg.RedisURL,
		VisibilityTimeout: cfg.QueueVisibility,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxAttempts:       cfg.MaxAttempts,
		BackoffInitial:    cfg.BackoffInitial,
		BackoffMax:        cfg.BackoffMax,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("update queue initialization failed")
	}
	defer q.Close()

	// Plain clients for health checks and the admin rate limiter; the queue
	// keeps its own circuit-breaker-wrapped connection.
	v8opt, err := redisv8.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisV8 := redisv8.NewClient(v8opt)
	defer redisV8.Close()
	v9opt, err := redisv9.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisV9 := redisv9.NewClient(v9opt)
	defer redisV9.Close()

	placeRepo := store.NewPlaceRepo(database.DB)
	mediaRepo := store.NewMediaRepo(database.DB)
	embeddingRepo := store.NewEmbeddingRepo(database.DB)
	checkpointStore := checkpoint.New(database.DB)

	crawler := external.NewCrawlerClient(cfg.CrawlerServiceURL)
	description := external.NewDescriptionClient(cfg.DescriptionServiceURL)
	imageProcessor := external.NewImageProcessorClient(cfg.ImageProcessorServiceURL)
	embedClient := embedding.NewHTTPClient(cfg.EmbeddingServiceURL)

	var geoResolver geoip.Resolver
	if cfg.GeoIPDBPath != "" {
		geoResolver = geoip.NewResolver()
	}

	mediaStorage, err := media.New(cfg.MediaStorageBackend, cfg.IPFSAPIURL, getMediaRoot())
	if err != nil {
		logger.Fatal().Err(err).Msg("media storage initialization failed")
	}

	var regions []models.Region
	if flags.Get().EnableRegionSweep {
		regions, err = regionsweep.LoadCatalog(cfg.RegionCatalogPath, models.RegionTier(cfg.RegionType))
		if err != nil {
			logger.Fatal().Err(err).Msg("region catalog load failed")
		}
	}

	var crawlFactory *crawl.Factory
	if flags.Get().EnableCrawl {
		crawlFactory = crawl.NewFactory(database.DB, placeRepo, crawler, geoResolver, cfg.TotalWorkers, cfg.ChunkSize, cfg.SkipLimit, cfg.MaxAttempts)
	}
	var sweepFactory *regionsweep.Factory
	if flags.Get().EnableRegionSweep && cfg.CheckpointEnabled {
		sweepFactory = regionsweep.NewFactory(checkpointStore, placeRepo, crawler, cfg.BatchName,
			models.RegionTier(cfg.RegionType), regions, cfg.CheckpointAutoResume,
			cfg.ChunkSize, cfg.SkipLimit, cfg.MaxAttempts)
	}
	var embeddingFactory *embedding.Factory
	if flags.Get().EnableEmbedding {
		embeddingFactory = embedding.NewFactory(embedClient, placeRepo, embeddingRepo,
			cfg.ChunkSize, cfg.SkipLimit, cfg.EmbeddingKeywordLimit, cfg.MaxAttempts)
	}

	stream := api.NewStatusStream()
	go stream.Run()

	composite := engine.NewComposite(crawlFactory, sweepFactory, embeddingFactory)
	hooked := jobcontrol.HookFactory(composite, jobcontrol.ProgressHooks{
		OnChunk: func(jobName string, workerID int, stats pipeline.ChunkStats) {
			counters := models.EngineCounters(stats.Counters)
			stream.Publish(api.ProgressEvent{Type: "chunk", JobName: jobName, WorkerID: workerID, Chunk: &stats, Counters: &counters})
		},
		OnComplete: func(jobName string, workerID int, result pipeline.Result) {
			counters := models.EngineCounters(result.Counters)
			stream.Publish(api.ProgressEvent{Type: "terminal", JobName: jobName, WorkerID: workerID, Status: string(result.Status), Counters: &counters})
		},
		OnFail: func(jobName string, workerID int, result pipeline.Result, err error) {
			counters := models.EngineCounters(result.Counters)
			stream.Publish(api.ProgressEvent{Type: "terminal", JobName: jobName, WorkerID: workerID, Status: string(result.Status), Counters: &counters})
		},
	})
	controller := jobcontrol.New(hooked)

	taskExecutor := worker.NewTaskExecutor(placeRepo, mediaRepo, mediaStorage, crawler, description, imageProcessor)
	workers := api.NewQueueWorkerRegistry(q, taskExecutor)

	if flags.Get().EnableUpdateQueue {
		supervisor := queue.NewSupervisor(q, cfg.QueueVisibility/4)
		go supervisor.Run(rootCtx)

		publisher := worker.NewOutboxPublisher(database.DB, q)
		go publisher.Start(rootCtx)
	}

	collector := metrics.NewCollector(checkpointStore, placeRepo, cfg.BatchName)
	go collector.StartPeriodicUpdates(rootCtx)

	gin.SetMode(gin.ReleaseMode)
	router := api.SetupRoutes(api.RouteDeps{
		Cfg:        cfg,
		DB:         database.DB,
		Redis:      redisV8,
		RedisV9:    redisV9,
		Controller: controller,
		Checkpoint: checkpointStore,
		Batch: api.NewBatchHandler(controller, checkpointStore, q, workers, embedClient, cfg.TotalWorkers).
			WithPushAllStager(func(ctx context.Context, ops models.UpdateOps, priority int) (int, error) {
				return worker.StagePushAll(ctx, database.DB, store.NewOutboxRepo(database.DB), models.CrawlCompleted, ops, priority)
			}),
		Stream:     stream,
	})

	cfg.ResolvedAddr = cfg.HTTPPort
	srv := &http.Server{Addr: cfg.HTTPPort, Handler: router}

	go func() {
		logger.Info().Str("addr", cfg.HTTPPort).Msg("control surface listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
			rootCancel()
		}
	}()

	if cfg.MetricsPort != "" && cfg.MetricsPort != cfg.HTTPPort {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsPort, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics listener error")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case <-rootCtx.Done():
	}

	// Cooperative stop: running engines finish their current chunk, queue
	// consumers their current task, then everything drains within the grace
	// period.
	for _, state := range controller.CurrentJobs() {
		_ = controller.Stop(state.JobName, state.WorkerID)
	}
	for _, id := range workers.Status() {
		_ = workers.Stop(id)
	}
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}

func getMediaRoot() string {
	if root := os.Getenv("MEDIA_STORAGE_ROOT"); root != "" {
		return root
	}
	return "./media"
}
