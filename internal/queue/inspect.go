package queue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// ListWorkers returns every live WorkerRegistration. Workers whose
// heartbeat TTL expired have no key left and simply do not appear.
func (q *UpdateQueueImpl) ListWorkers(ctx context.Context) ([]models.WorkerRegistration, error) {
	tracer := otel.Tracer("runner/queue/inspect")
	ctx, span := tracer.Start(ctx, "UpdateQueueImpl.ListWorkers")
	defer span.End()

	keys, err := q.circuit.Keys(ctx, q.consumer.workerPrefix+"*").Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to scan worker keys")
	}

	workers := make([]models.WorkerRegistration, 0, len(keys))
	for _, key := range keys {
		fields, err := q.circuit.HGetAll(ctx, key).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		w := models.WorkerRegistration{
			WorkerID:      key[len(q.consumer.workerPrefix):],
			Status:        models.WorkerStatus(fields["status"]),
			CurrentTaskID: fields["current_task_id"],
		}
		if v, err := strconv.ParseInt(fields["tasks_processed"], 10, 64); err == nil {
			w.TasksProcessed = v
		}
		if v, err := strconv.ParseInt(fields["tasks_failed"], 10, 64); err == nil {
			w.TasksFailed = v
		}
		if ts, err := time.Parse(time.RFC3339, fields["last_heartbeat"]); err == nil {
			w.LastHeartbeat = ts
		}
		workers = append(workers, w)
	}
	span.SetAttributes(attribute.Int("queue.worker_count", len(workers)))
	return workers, nil
}

// GetTask looks a task up by task_id across the in-flight hashes, the retry
// lane, and the dead list. Returns nil, nil when no trace of the id remains
// (completed tasks keep only their place_id).
func (q *UpdateQueueImpl) GetTask(ctx context.Context, taskID string) (*models.UpdateTask, string, error) {
	tracer := otel.Tracer("runner/queue/inspect")
	ctx, span := tracer.Start(ctx, "UpdateQueueImpl.GetTask", oteltrace.WithAttributes(attribute.String("queue.task_id", taskID)))
	defer span.End()

	fields, err := q.circuit.HGetAll(ctx, q.consumer.inflightKey(taskID)).Result()
	if err == nil && fields["task"] != "" {
		var task models.UpdateTask
		if err := json.Unmarshal([]byte(fields["task"]), &task); err == nil {
			return &task, "inflight", nil
		}
	}

	if task := q.findInList(ctx, q.retryZSetMembers(ctx), taskID); task != nil {
		return task, "retry", nil
	}
	if task := q.findInList(ctx, q.listMembers(ctx, q.deadList), taskID); task != nil {
		return task, "dead", nil
	}
	if task := q.findInList(ctx, q.listMembers(ctx, q.priorityQueue), taskID); task != nil {
		return task, "priority", nil
	}
	if task := q.findInList(ctx, q.listMembers(ctx, q.pendingQueue), taskID); task != nil {
		return task, "pending", nil
	}
	return nil, "", nil
}

func (q *UpdateQueueImpl) retryZSetMembers(ctx context.Context) []string {
	members, err := q.client.ZRange(ctx, q.retryZSet, 0, -1).Result()
	if err != nil {
		return nil
	}
	return members
}

func (q *UpdateQueueImpl) listMembers(ctx context.Context, key string) []string {
	members, err := q.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil
	}
	return members
}

func (q *UpdateQueueImpl) findInList(ctx context.Context, members []string, taskID string) *models.UpdateTask {
	for _, raw := range members {
		var task models.UpdateTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		if task.TaskID == taskID {
			return &task
		}
	}
	return nil
}

// ListFailed returns the place ids in the failed set.
func (q *UpdateQueueImpl) ListFailed(ctx context.Context) ([]int64, error) {
	tracer := otel.Tracer("runner/queue/inspect")
	ctx, span := tracer.Start(ctx, "UpdateQueueImpl.ListFailed")
	defer span.End()

	members, err := q.client.SMembers(ctx, q.failedSet).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to read failed set")
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if id, err := strconv.ParseInt(m, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// RetryFailed drains the dead list, re-enqueueing each task's place under a
// fresh task_id with its attempt counter reset, and clears the failed-set
// membership for those places. Returns the number re-enqueued.
func (q *UpdateQueueImpl) RetryFailed(ctx context.Context) (int, error) {
	tracer := otel.Tracer("runner/queue/inspect")
	ctx, span := tracer.Start(ctx, "UpdateQueueImpl.RetryFailed")
	defer span.End()

	retried := 0
	for {
		raw, err := q.client.RPop(ctx, q.deadList).Result()
		if err != nil {
			break // empty or unreachable; either way we are done
		}
		var task models.UpdateTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}

		fresh := models.UpdateTask{
			TaskID:      uuid.New().String(),
			PlaceID:     task.PlaceID,
			Ops:         task.Ops,
			Priority:    task.Priority,
			MaxAttempts: task.MaxAttempts,
			CreatedAt:   task.CreatedAt,
			EnqueuedAt:  time.Now().UTC(),
		}
		data, err := json.Marshal(&fresh)
		if err != nil {
			continue
		}
		if err := q.circuit.LPush(ctx, q.pendingQueue, data).Err(); err != nil {
			// Put the original back so the operator can retry the retry.
			q.client.LPush(ctx, q.deadList, raw)
			return retried, apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to re-enqueue dead task")
		}
		q.client.SRem(ctx, q.failedSet, strconv.FormatInt(task.PlaceID, 10))
		retried++
	}
	span.SetAttributes(attribute.Int("queue.retried", retried))
	return retried, nil
}

// ClaimIdempotencyKey records taskID under an Idempotency-Key the first time
// it is seen, returning (true, taskID). A repeat of the same key returns
// (false, <original task id>) so the HTTP surface can answer a retried push
// without enqueueing twice. Keys expire after 24h.
func (q *UpdateQueueImpl) ClaimIdempotencyKey(ctx context.Context, key, taskID string) (bool, string, error) {
	redisKey := "update:idempotency:" + key
	ok, err := q.client.SetNX(ctx, redisKey, taskID, 24*time.Hour).Result()
	if err != nil {
		return false, "", apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to claim idempotency key")
	}
	if ok {
		return true, taskID, nil
	}
	existing, err := q.client.Get(ctx, redisKey).Result()
	if err != nil {
		return false, "", apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to read idempotency key")
	}
	return false, existing, nil
}

// StoreIdempotencyResult overwrites a claimed key's placeholder with the
// task id the push actually produced.
func (q *UpdateQueueImpl) StoreIdempotencyResult(ctx context.Context, key, taskID string) error {
	return q.client.Set(ctx, "update:idempotency:"+key, taskID, 24*time.Hour).Err()
}

// Clear removes every queue structure: lanes, retry, dead, result sets, and
// any in-flight hashes. Destructive; admin-only.
func (q *UpdateQueueImpl) Clear(ctx context.Context) error {
	tracer := otel.Tracer("runner/queue/inspect")
	ctx, span := tracer.Start(ctx, "UpdateQueueImpl.Clear")
	defer span.End()

	keys := []string{q.pendingQueue, q.priorityQueue, q.retryZSet, q.deadList, q.completedSet, q.failedSet, statsKey}
	if inflight, err := q.circuit.Keys(ctx, q.consumer.inflightPrefix+"*").Result(); err == nil {
		keys = append(keys, inflight...)
	}
	if err := q.circuit.Del(ctx, keys...).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to clear queue")
	}
	return nil
}

// ClearCompleted empties the completed place-id set.
func (q *UpdateQueueImpl) ClearCompleted(ctx context.Context) error {
	if err := q.circuit.Del(ctx, q.completedSet).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to clear completed set")
	}
	return nil
}

// ClearFailed empties the failed place-id set and the dead list.
func (q *UpdateQueueImpl) ClearFailed(ctx context.Context) error {
	if err := q.circuit.Del(ctx, q.failedSet, q.deadList).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to clear failed set")
	}
	return nil
}
