package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/embedding"
	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/jobcontrol"
	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/internal/api/middleware"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// BatchHandler exposes the Job Controller, Checkpoint Store, and Update
// Queue over HTTP. One handler instance is shared across every /batch/*
// route; nil collaborators degrade individual routes to 503 rather than
// panicking.
type BatchHandler struct {
	controller   *jobcontrol.Controller
	checkpoint   *checkpoint.Store
	queueImpl    *queue.UpdateQueueImpl
	workers      *QueueWorkerRegistry
	embedClient  embedding.Client
	totalWorkers int
	stageAll     func(ctx context.Context, ops models.UpdateOps, priority int) (int, error)
}

// NewBatchHandler binds a BatchHandler to its collaborators.
func NewBatchHandler(controller *jobcontrol.Controller, checkpointStore *checkpoint.Store, q *queue.UpdateQueueImpl, workers *QueueWorkerRegistry, embedClient embedding.Client, totalWorkers int) *BatchHandler {
	return &BatchHandler{controller: controller, checkpoint: checkpointStore, queueImpl: q, workers: workers, embedClient: embedClient, totalWorkers: totalWorkers}
}

// WithPushAllStager wires push_all's transactional-outbox write side; when
// set, a push-all request without explicit place_ids stages matching places
// through the outbox instead of requiring the caller to enumerate ids.
func (h *BatchHandler) WithPushAllStager(stage func(ctx context.Context, ops models.UpdateOps, priority int) (int, error)) *BatchHandler {
	h.stageAll = stage
	return h
}

func workerIDParam(c *gin.Context) (int, bool) {
	raw := c.Param("worker_id")
	id, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id must be an integer"})
		return 0, false
	}
	return id, true
}

// StartWorker handles POST /batch/start/:worker_id?job_name=.
func (h *BatchHandler) StartWorker(c *gin.Context) {
	workerID, ok := workerIDParam(c)
	if !ok {
		return
	}
	jobName := c.Query("job_name")
	if jobName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_name query parameter is required"})
		return
	}
	execID, err := h.controller.Start(c.Request.Context(), jobName, workerID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": execID, "job_name": jobName, "worker_id": workerID})
}

// StopWorker handles POST /batch/stop/:worker_id?job_name=.
func (h *BatchHandler) StopWorker(c *gin.Context) {
	workerID, ok := workerIDParam(c)
	if !ok {
		return
	}
	jobName := c.Query("job_name")
	if jobName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_name query parameter is required"})
		return
	}
	if err := h.controller.Stop(jobName, workerID); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_name": jobName, "worker_id": workerID, "status": "stopping"})
}

// StartAll handles POST /batch/start-all?job_name=.
func (h *BatchHandler) StartAll(c *gin.Context) {
	jobName := c.Query("job_name")
	if jobName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_name query parameter is required"})
		return
	}
	outcomes := h.controller.StartAll(c.Request.Context(), jobName, h.totalWorkers)
	c.JSON(http.StatusAccepted, gin.H{"job_name": jobName, "outcomes": outcomes})
}

// StopAll handles POST /batch/stop-all?job_name=.
func (h *BatchHandler) StopAll(c *gin.Context) {
	jobName := c.Query("job_name")
	if jobName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_name query parameter is required"})
		return
	}
	outcomes := h.controller.StopAll(jobName)
	c.JSON(http.StatusAccepted, gin.H{"job_name": jobName, "outcomes": outcomes})
}

// Status handles GET /batch/status?job_name=.
func (h *BatchHandler) Status(c *gin.Context) {
	jobName := c.Query("job_name")
	if jobName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_name query parameter is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_name": jobName, "slots": h.controller.StatusAll(jobName)})
}

// StatusWorker handles GET /batch/status/:worker_id?job_name=.
func (h *BatchHandler) StatusWorker(c *gin.Context) {
	workerID, ok := workerIDParam(c)
	if !ok {
		return
	}
	jobName := c.Query("job_name")
	if jobName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_name query parameter is required"})
		return
	}
	state, err := h.controller.Status(jobName, workerID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// CurrentJobs handles GET /batch/current-jobs.
func (h *BatchHandler) CurrentJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.controller.CurrentJobs()})
}

// CheckpointProgress handles GET /batch/checkpoint/progress/:batch_name.
func (h *BatchHandler) CheckpointProgress(c *gin.Context) {
	if h.checkpoint == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkpoint store not available"})
		return
	}
	batchName := c.Param("batch_name")
	progress, err := h.checkpoint.Progress(c.Request.Context(), batchName)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// CheckpointReset handles POST /batch/checkpoint/reset/:batch_name and
// /batch/checkpoint/reset/:batch_name/:region_code. Region codes come from the
// path segment and from ?region_code=a&region_code=b; a request with none is
// rejected as a validation error.
func (h *BatchHandler) CheckpointReset(c *gin.Context) {
	if h.checkpoint == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkpoint store not available"})
		return
	}
	batchName := c.Param("batch_name")
	regionCodes := c.QueryArray("region_code")
	if code := c.Param("region_code"); code != "" {
		regionCodes = append(regionCodes, code)
	}
	count, err := h.checkpoint.ResetFailed(c.Request.Context(), batchName, regionCodes...)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_name": batchName, "reset_count": count})
}

// --- Update Queue endpoints ---

type pushRequest struct {
	Ops      models.UpdateOps `json:"ops"`
	Priority int              `json:"priority"`
}

// QueuePush handles POST /batch/queue/push/:place_id.
func (h *BatchHandler) QueuePush(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	placeID, err := strconv.ParseInt(c.Param("place_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "place_id must be an integer"})
		return
	}
	var req pushRequest
	_ = c.ShouldBindJSON(&req)
	// Query params take precedence; ?menus&images&reviews&priority is the
	// documented curl-friendly form, the JSON body the programmatic one.
	if _, ok := c.GetQuery("menus"); ok {
		req.Ops.Menus = c.Query("menus") != "false"
	}
	if _, ok := c.GetQuery("images"); ok {
		req.Ops.Images = c.Query("images") != "false"
	}
	if _, ok := c.GetQuery("reviews"); ok {
		req.Ops.Reviews = c.Query("reviews") != "false"
	}
	if raw, ok := c.GetQuery("priority"); ok {
		if p, err := strconv.Atoi(raw); err == nil {
			req.Priority = p
		} else if raw == "" {
			req.Priority = 1
		}
	}
	// A retried push carrying the same Idempotency-Key answers with the
	// original task instead of enqueueing twice.
	idemKey, hasIdem := GetIdempotencyKey(c)
	if hasIdem {
		claimed, existing, err := h.queueImpl.ClaimIdempotencyKey(c.Request.Context(), idemKey, "pending")
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		if !claimed {
			c.JSON(http.StatusOK, gin.H{"task_id": existing, "place_id": placeID, "duplicate": true})
			return
		}
	}

	taskID, err := h.queueImpl.Push(c.Request.Context(), placeID, req.Ops, req.Priority)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	if hasIdem {
		_ = h.queueImpl.StoreIdempotencyResult(c.Request.Context(), idemKey, taskID)
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": taskID, "place_id": placeID})
}

type pushAllRequest struct {
	PlaceIDs []int64          `json:"place_ids"`
	Ops      models.UpdateOps `json:"ops"`
	Priority int              `json:"priority"`
}

// QueuePushAll handles POST /batch/queue/push-all: enqueue every place ID in
// the request body under the same ops/priority. With no IDs and a stager
// configured, it stages every matching place through the outbox instead.
func (h *BatchHandler) QueuePushAll(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	var req pushAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if len(req.PlaceIDs) == 0 && h.stageAll != nil {
		staged, err := h.stageAll(c.Request.Context(), req.Ops, req.Priority)
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"staged": staged})
		return
	}
	pushed, err := h.queueImpl.PushAll(c.Request.Context(), req.PlaceIDs, req.Ops, req.Priority)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"pushed": pushed})
}

// QueueStats handles GET /batch/queue/stats.
func (h *BatchHandler) QueueStats(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	stats, err := h.queueImpl.Stats(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats, "circuit_breaker_state": h.queueImpl.CircuitBreakerState()})
}

// QueueRetryFailed handles POST /admin/queue/promote-retries: move due
// retry-lane entries back onto the pending lane immediately, up to 100 per
// call.
func (h *BatchHandler) QueueRetryFailed(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	promoted, err := h.queueImpl.PromoteRetries(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promoted": promoted})
}

// QueueRecoverVisibility handles POST /batch/queue/workers/recover: requeue
// tasks whose consumer went silent past the visibility timeout.
func (h *BatchHandler) QueueRecoverVisibility(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	recovered, err := h.queueImpl.RecoverVisibilityTimeouts(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recovered": recovered})
}

// QueueWorkerStart handles POST /batch/queue/worker/start.
func (h *BatchHandler) QueueWorkerStart(c *gin.Context) {
	if h.workers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue worker registry not available"})
		return
	}
	workerID := c.DefaultQuery("worker_id", "update-worker-0")
	if err := h.workers.Start(workerID); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"worker_id": workerID, "status": "started"})
}

// QueueWorkerStop handles POST /batch/queue/worker/stop.
func (h *BatchHandler) QueueWorkerStop(c *gin.Context) {
	if h.workers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue worker registry not available"})
		return
	}
	workerID := c.DefaultQuery("worker_id", "update-worker-0")
	if err := h.workers.Stop(workerID); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"worker_id": workerID, "status": "stopped"})
}

// QueueWorkerStatus handles GET /batch/queue/worker/status.
func (h *BatchHandler) QueueWorkerStatus(c *gin.Context) {
	if h.workers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue worker registry not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": h.workers.Status()})
}

// --- Ambient admin endpoints ---

// GetStuckJobs handles GET /admin/jobs/stuck: reports whether the named
// batch has checkpoints left PROCESSING by a crashed worker.
func (h *BatchHandler) GetStuckJobs(c *gin.Context) {
	if h.checkpoint == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkpoint store not available"})
		return
	}
	batchName := c.Query("batch_name")
	if batchName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch_name query parameter is required"})
		return
	}
	interrupted, err := h.checkpoint.HasInterrupted(c.Request.Context(), batchName)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	resp := gin.H{"batch_name": batchName, "interrupted": interrupted}
	if h.queueImpl != nil {
		if stats, err := h.queueImpl.Stats(c.Request.Context()); err == nil {
			resp["queue_inflight"] = stats.Inflight
		}
	}
	c.JSON(http.StatusOK, resp)
}

// RepublishStuckJob handles POST /admin/jobs/:id/republish, where :id is a
// batch name: it resets every interrupted checkpoint back to PENDING so the
// next sweep worker picks it up.
func (h *BatchHandler) RepublishStuckJob(c *gin.Context) {
	if h.checkpoint == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "checkpoint store not available"})
		return
	}
	batchName := c.Param("id")
	resetCount, err := h.checkpoint.ResumeInterrupted(c.Request.Context(), batchName)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_name": batchName, "reset_count": resetCount})
}

// --- Embedding Pipeline convenience endpoints ---
// The embedding engine always runs as job_name "embedding", worker_id 0, per
// embedding.Factory's single-slot restriction; these wrap the generic
// controller calls so clients don't need to know that convention.

// EmbeddingStart handles POST /batch/embedding/start.
func (h *BatchHandler) EmbeddingStart(c *gin.Context) {
	execID, err := h.controller.Start(c.Request.Context(), embedding.JobName, 0)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": execID})
}

// EmbeddingStop handles POST /batch/embedding/stop.
func (h *BatchHandler) EmbeddingStop(c *gin.Context) {
	if err := h.controller.Stop(embedding.JobName, 0); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

// EmbeddingStatus handles GET /batch/embedding/status.
func (h *BatchHandler) EmbeddingStatus(c *gin.Context) {
	state, err := h.controller.Status(embedding.JobName, 0)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// EmbeddingHealth handles GET /batch/embedding/health: a direct preflight
// check of the embedding collaborator, independent of whether a slot is
// currently running.
func (h *BatchHandler) EmbeddingHealth(c *gin.Context) {
	if h.embedClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "embedding client not available"})
		return
	}
	if err := h.embedClient.Health(c.Request.Context()); err != nil {
		middleware.HandleError(c, apperrors.Wrap(err, apperrors.ServiceUnavailableError, "embedding service health check failed"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
