package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Consumer implements the per-worker dequeue/inflight/heartbeat protocol:
// blocking pop from the priority lane, falling back to the pending lane,
// then marking the task in-flight and the worker active.
type Consumer struct {
	circuit           *RedisCircuitBreaker
	pendingQueue      string
	priorityQueue     string
	inflightPrefix    string
	workerPrefix      string
	visibilityTimeout time.Duration
	heartbeatTTL      time.Duration
	dequeueTimeout    time.Duration
}

func newConsumer(circuit *RedisCircuitBreaker, pendingQueue, priorityQueue, inflightPrefix, workerPrefix string, visibilityTimeout, heartbeatInterval time.Duration) *Consumer {
	return &Consumer{
		circuit:           circuit,
		pendingQueue:      pendingQueue,
		priorityQueue:     priorityQueue,
		inflightPrefix:    inflightPrefix,
		workerPrefix:      workerPrefix,
		visibilityTimeout: visibilityTimeout,
		heartbeatTTL:      heartbeatInterval * 3,
		dequeueTimeout:    time.Second,
	}
}

// Dequeue blocks briefly on the priority lane, then the pending lane,
// marking any claimed task in-flight and the worker active.
func (c *Consumer) Dequeue(ctx context.Context, workerID string) (*models.UpdateTask, error) {
	tracer := otel.Tracer("runner/queue/consumer")
	ctx, span := tracer.Start(ctx, "Consumer.Dequeue", oteltrace.WithAttributes(
		attribute.String("queue.worker_id", workerID),
	))
	defer span.End()

	raw, err := c.circuit.BRPop(ctx, c.dequeueTimeout, c.priorityQueue).Result()
	if err != nil {
		raw, err = c.circuit.BRPop(ctx, c.dequeueTimeout, c.pendingQueue).Result()
	}
	if err != nil {
		return nil, nil // timeout, nothing ready
	}
	if len(raw) < 2 {
		return nil, apperrors.New(apperrors.InternalError, "invalid queue pop result")
	}

	var task models.UpdateTask
	if err := json.Unmarshal([]byte(raw[1]), &task); err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.InternalError, "failed to unmarshal update task")
	}

	task.Attempts++
	if err := c.markInflight(ctx, &task); err != nil {
		span.RecordError(err)
	}
	if err := c.setWorkerStatus(ctx, workerID, models.WorkerActive, task.TaskID); err != nil {
		span.RecordError(err)
	}

	span.SetAttributes(attribute.String("queue.task_id", task.TaskID), attribute.Int64("queue.place_id", task.PlaceID))
	return &task, nil
}

func (c *Consumer) markInflight(ctx context.Context, task *models.UpdateTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	key := c.inflightKey(task.TaskID)
	if err := c.circuit.HSet(ctx, key, "task", string(data), "started_at", time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return err
	}
	return c.circuit.Expire(ctx, key, c.visibilityTimeout).Err()
}

func (c *Consumer) clearInflight(ctx context.Context, taskID string) error {
	return c.circuit.Del(ctx, c.inflightKey(taskID)).Err()
}

func (c *Consumer) inflightKey(taskID string) string {
	return fmt.Sprintf("%s%s", c.inflightPrefix, taskID)
}

func (c *Consumer) setWorkerStatus(ctx context.Context, workerID string, status models.WorkerStatus, currentTaskID string) error {
	key := c.workerKey(workerID)
	if err := c.circuit.HSet(ctx, key,
		"status", string(status),
		"current_task_id", currentTaskID,
		"last_heartbeat", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return err
	}
	return c.circuit.Expire(ctx, key, c.heartbeatTTL).Err()
}

func (c *Consumer) workerKey(workerID string) string {
	return fmt.Sprintf("%s%s", c.workerPrefix, workerID)
}

// Heartbeat refreshes a worker's TTL and timestamp independent of task
// completion, so a slow task doesn't make the worker look stale.
func (c *Consumer) Heartbeat(ctx context.Context, workerID string) error {
	key := c.workerKey(workerID)
	if err := c.circuit.HSet(ctx, key, "last_heartbeat", time.Now().UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to refresh worker heartbeat")
	}
	return c.circuit.Expire(ctx, key, c.heartbeatTTL).Err()
}

func (c *Consumer) bumpCounter(ctx context.Context, workerID, field string) {
	c.circuit.HIncrBy(ctx, c.workerKey(workerID), field, 1)
}
