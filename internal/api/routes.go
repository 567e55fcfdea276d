package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	redisv9 "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/jamie-anson/placeflow-ingestor/internal/api/middleware"
	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/config"
	"github.com/jamie-anson/placeflow-ingestor/internal/jobcontrol"
	"github.com/jamie-anson/placeflow-ingestor/internal/metrics"
	"github.com/jamie-anson/placeflow-ingestor/internal/security"
)

// RouteDeps bundles every collaborator SetupRoutes wires into handlers.
// Any field may be nil, in which case the routes it backs degrade to 503
// rather than the router failing to start.
type RouteDeps struct {
	Cfg        *config.Config
	DB         *sql.DB
	Redis      *redis.Client
	RedisV9    *redisv9.Client
	Controller *jobcontrol.Controller
	Checkpoint *checkpoint.Store
	Batch      *BatchHandler
	Stream     *StatusStream
}

// SetupRoutes wires the batch control surface, health, and admin endpoints
// for the place-ingestion worker.
func SetupRoutes(deps RouteDeps) *gin.Engine {
	cfg := deps.Cfg
	if cfg == nil {
		panic("cfg must not be nil")
	}

	r := gin.Default()

	r.Use(otelgin.Middleware("placeflow-ingestor"))
	r.Use(middleware.RequestID())
	r.Use(middleware.ValidateJSON())
	r.Use(middleware.CORS())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimiting())

	var runningWorkers func() int
	if deps.Controller != nil {
		ctrl := deps.Controller
		runningWorkers = func() int { return len(ctrl.CurrentJobs()) }
	}
	healthHandler := NewHealthHandler(cfg.CrawlerServiceURL, cfg.DescriptionServiceURL, cfg.ImageProcessorServiceURL, deps.DB, deps.Redis, runningWorkers)

	health := r.Group("/health")
	{
		health.GET("", healthHandler.GetHealth)
		health.GET("/live", healthHandler.GetHealthLiveness)
		health.GET("/ready", healthHandler.GetHealthReadiness)
	}

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	batch := deps.Batch
	bg := r.Group("/batch")
	{
		bg.POST("/start/:worker_id", guardBatch(batch, (*BatchHandler).StartWorker))
		bg.POST("/stop/:worker_id", guardBatch(batch, (*BatchHandler).StopWorker))
		bg.POST("/start-all", guardBatch(batch, (*BatchHandler).StartAll))
		bg.POST("/stop-all", guardBatch(batch, (*BatchHandler).StopAll))
		bg.GET("/status", guardBatch(batch, (*BatchHandler).Status))
		bg.GET("/status/:worker_id", guardBatch(batch, (*BatchHandler).StatusWorker))
		bg.GET("/current-jobs", guardBatch(batch, (*BatchHandler).CurrentJobs))

		configHandler := NewConfigHandler(cfg)
		bg.GET("/config", configHandler.GetConfig)

		if deps.Stream != nil {
			bg.GET("/status/stream", deps.Stream.Handler)
		}

		bg.GET("/checkpoint/progress/:batch_name", guardBatch(batch, (*BatchHandler).CheckpointProgress))
		bg.POST("/checkpoint/reset/:batch_name", guardBatch(batch, (*BatchHandler).CheckpointReset))
		bg.POST("/checkpoint/reset/:batch_name/:region_code", guardBatch(batch, (*BatchHandler).CheckpointReset))

		q := bg.Group("/queue")
		q.Use(IdempotencyKeyMiddleware())
		{
			q.POST("/push/:place_id", guardBatch(batch, (*BatchHandler).QueuePush))
			q.POST("/push-all", guardBatch(batch, (*BatchHandler).QueuePushAll))
			q.POST("/push-batch", middleware.ValidatePushBatch(), guardBatch(batch, (*BatchHandler).QueuePushBatch))
			q.GET("/stats", guardBatch(batch, (*BatchHandler).QueueStats))
			q.GET("/workers", guardBatch(batch, (*BatchHandler).QueueWorkers))
			q.GET("/failed", guardBatch(batch, (*BatchHandler).QueueFailed))
			q.GET("/task/:task_id", guardBatch(batch, (*BatchHandler).QueueTask))
			q.POST("/retry-failed", guardBatch(batch, (*BatchHandler).QueueRetryDead))
			q.POST("/workers/recover", guardBatch(batch, (*BatchHandler).QueueRecoverVisibility))
			q.POST("/worker/start", guardBatch(batch, (*BatchHandler).QueueWorkerStart))
			q.POST("/worker/stop", guardBatch(batch, (*BatchHandler).QueueWorkerStop))
			q.GET("/worker/status", guardBatch(batch, (*BatchHandler).QueueWorkerStatus))
			q.DELETE("/clear", guardBatch(batch, (*BatchHandler).QueueClear))
			q.DELETE("/clear-completed", guardBatch(batch, (*BatchHandler).QueueClearCompleted))
			q.DELETE("/clear-failed", guardBatch(batch, (*BatchHandler).QueueClearFailed))
		}

		emb := bg.Group("/embedding")
		{
			emb.POST("/start", guardBatch(batch, (*BatchHandler).EmbeddingStart))
			emb.POST("/stop", guardBatch(batch, (*BatchHandler).EmbeddingStop))
			emb.GET("/status", guardBatch(batch, (*BatchHandler).EmbeddingStatus))
			emb.GET("/health", guardBatch(batch, (*BatchHandler).EmbeddingHealth))
		}
	}

	admin := r.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(cfg))
	if deps.RedisV9 != nil {
		limiter := security.NewRateLimiter(deps.RedisV9, cfg.RateLimitPerMinute, time.Minute)
		admin.Use(func(c *gin.Context) {
			if err := limiter.Allow(c.Request.Context(), "admin", c.ClientIP()); err != nil {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error":   "rate_limit_exceeded",
					"message": "Admin operations are rate limited",
				})
				c.Abort()
				return
			}
			c.Next()
		})
	} else {
		admin.Use(middleware.AdminRateLimitMiddleware())
	}
	{
		flagsHandler := NewFlagsHandler()
		admin.GET("/flags", flagsHandler.GetFlags)
		admin.PUT("/flags", flagsHandler.UpdateFlags)

		configHandler := NewConfigHandler(cfg)
		admin.GET("/config", configHandler.GetConfig)
		admin.GET("/port", configHandler.GetPortInfo)
		admin.GET("/hints", configHandler.GetHints)

		admin.GET("/metrics", gin.WrapH(metrics.Handler()))
		admin.GET("/jobs/stuck", guardBatch(batch, (*BatchHandler).GetStuckJobs))
		admin.POST("/jobs/:id/republish", guardBatch(batch, (*BatchHandler).RepublishStuckJob))
		admin.POST("/queue/promote-retries", guardBatch(batch, (*BatchHandler).QueueRetryFailed))
	}

	return r
}

// guardBatch degrades a /batch or /admin route to 503 when the collaborator
// it depends on was never constructed (e.g. a deployment without a
// database), instead of panicking on a nil receiver.
func guardBatch(h *BatchHandler, fn func(*BatchHandler, *gin.Context)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h == nil {
			c.JSON(503, gin.H{"error": "batch control service unavailable"})
			return
		}
		fn(h, c)
	}
}
