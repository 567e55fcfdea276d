package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jamie-anson/placeflow-ingestor/internal/api/middleware"
)

// QueuePushBatch handles POST /batch/queue/push-batch: per-place ops and
// priority, validated up front by middleware.ValidatePushBatch.
func (h *BatchHandler) QueuePushBatch(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	parsed, ok := c.Get("pushbatch.parsed")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch body missing or not validated"})
		return
	}
	batch := parsed.([]middleware.PushBatchItem)

	pushed := 0
	taskIDs := make([]string, 0, len(batch))
	for _, item := range batch {
		taskID, err := h.queueImpl.Push(c.Request.Context(), item.PlaceID, item.Ops, item.Priority)
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		pushed++
		taskIDs = append(taskIDs, taskID)
	}
	c.JSON(http.StatusAccepted, gin.H{"pushed": pushed, "task_ids": taskIDs})
}

// QueueWorkers handles GET /batch/queue/workers: every live registration.
func (h *BatchHandler) QueueWorkers(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	workers, err := h.queueImpl.ListWorkers(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers})
}

// QueueFailed handles GET /batch/queue/failed.
func (h *BatchHandler) QueueFailed(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	ids, err := h.queueImpl.ListFailed(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failed_place_ids": ids, "count": len(ids)})
}

// QueueTask handles GET /batch/queue/task/:task_id.
func (h *BatchHandler) QueueTask(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	taskID := c.Param("task_id")
	task, lane, err := h.queueImpl.GetTask(c.Request.Context(), taskID)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found", "task_id": taskID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task, "lane": lane})
}

// QueueClear handles DELETE /batch/queue/clear.
func (h *BatchHandler) QueueClear(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	if err := h.queueImpl.Clear(c.Request.Context()); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// QueueClearCompleted handles DELETE /batch/queue/clear-completed.
func (h *BatchHandler) QueueClearCompleted(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	if err := h.queueImpl.ClearCompleted(c.Request.Context()); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": "completed"})
}

// QueueClearFailed handles DELETE /batch/queue/clear-failed.
func (h *BatchHandler) QueueClearFailed(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	if err := h.queueImpl.ClearFailed(c.Request.Context()); err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": "failed"})
}

// QueueRetryDead handles POST /batch/queue/retry-failed: re-enqueue every
// dead-lettered task under a fresh task_id.
func (h *BatchHandler) QueueRetryDead(c *gin.Context) {
	if h.queueImpl == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "update queue not available"})
		return
	}
	retried, err := h.queueImpl.RetryFailed(c.Request.Context())
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": retried})
}
