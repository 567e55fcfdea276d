package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// statsKey is the hash of monotonic queue counters (pushed, completed,
// failed, recovered).
const statsKey = "update:stats"

// UpdateQueueImpl is the composed Redis-backed UpdateQueue: a Producer, a
// Consumer, a RetryHandler, and the shared circuit-breaker-wrapped client
// they all issue commands through.
type UpdateQueueImpl struct {
	client *redis.Client
	circuit *RedisCircuitBreaker

	pendingQueue  string
	priorityQueue string
	retryZSet     string
	deadList      string
	completedSet  string
	failedSet     string

	producer *Producer
	consumer *Consumer
	retry    *RetryHandler
}

// Config binds the tunables for a new update queue instance.
type Config struct {
	RedisURL          string
	VisibilityTimeout time.Duration
	HeartbeatInterval time.Duration
	MaxAttempts       int
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
}

// New dials Redis and wires the composed UpdateQueue.
func New(cfg Config) (*UpdateQueueImpl, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigError, "invalid REDIS_URL")
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to connect to redis")
	}

	if cfg.VisibilityTimeout == 0 {
		cfg.VisibilityTimeout = 10 * time.Minute
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 5 * time.Minute
	}

	circuit := NewRedisCircuitBreaker(client, "update-queue")

	const (
		pendingQueue  = "update:pending"
		priorityQueue = "update:priority"
		inflightPfx   = "update:inflight:"
		workerPfx     = "update:worker:"
		retryZSet     = "update:retry"
		deadList      = "update:dead"
		completedSet  = "update:completed"
		failedSet     = "update:failed"
	)

	q := &UpdateQueueImpl{
		client:        client,
		circuit:       circuit,
		pendingQueue:  pendingQueue,
		priorityQueue: priorityQueue,
		retryZSet:     retryZSet,
		deadList:      deadList,
		completedSet:  completedSet,
		failedSet:     failedSet,
		producer:      newProducer(circuit, pendingQueue, priorityQueue, cfg.MaxAttempts),
		consumer:      newConsumer(circuit, pendingQueue, priorityQueue, inflightPfx, workerPfx, cfg.VisibilityTimeout, cfg.HeartbeatInterval),
		retry:         newRetryHandler(circuit, pendingQueue, retryZSet, deadList, completedSet, failedSet, cfg.BackoffInitial, cfg.BackoffMax),
	}
	return q, nil
}

// Push enqueues a single UpdateTask.
func (q *UpdateQueueImpl) Push(ctx context.Context, placeID int64, ops models.UpdateOps, priority int) (string, error) {
	return q.producer.Push(ctx, placeID, ops, priority)
}

// PushAll batch-enqueues places, chunked in groups of ~100.
func (q *UpdateQueueImpl) PushAll(ctx context.Context, places []int64, ops models.UpdateOps, priority int) (int, error) {
	return q.producer.PushAll(ctx, places, ops, priority)
}

// Dequeue claims the next task from the priority lane, falling back to pending.
func (q *UpdateQueueImpl) Dequeue(ctx context.Context, workerID string) (*models.UpdateTask, error) {
	return q.consumer.Dequeue(ctx, workerID)
}

// CompleteTask deletes the in-flight record, marks the place completed, and
// bumps the worker's processed counter.
func (q *UpdateQueueImpl) CompleteTask(ctx context.Context, workerID string, task *models.UpdateTask) error {
	if err := q.consumer.clearInflight(ctx, task.TaskID); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to clear inflight record")
	}
	if err := q.circuit.SAdd(ctx, q.completedSet, task.PlaceID).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to mark place completed")
	}
	q.consumer.bumpCounter(ctx, workerID, "tasks_processed")
	q.circuit.HIncrBy(ctx, statsKey, "completed", 1)
	if err := q.consumer.setWorkerStatus(ctx, workerID, models.WorkerIdle, ""); err != nil {
		return err
	}
	return nil
}

// FailTask clears the in-flight record and routes the task to retry or the
// dead list depending on remaining attempts.
func (q *UpdateQueueImpl) FailTask(ctx context.Context, workerID string, task *models.UpdateTask, taskErr error) error {
	if err := q.consumer.clearInflight(ctx, task.TaskID); err != nil {
		return fmt.Errorf("failed to clear inflight record: %w", err)
	}
	q.consumer.bumpCounter(ctx, workerID, "tasks_failed")
	q.circuit.HIncrBy(ctx, statsKey, "failed", 1)
	if err := q.consumer.setWorkerStatus(ctx, workerID, models.WorkerIdle, ""); err != nil {
		return err
	}
	return q.retry.HandleFailure(ctx, task, taskErr)
}

// Heartbeat refreshes the worker registration TTL.
func (q *UpdateQueueImpl) Heartbeat(ctx context.Context, workerID string) error {
	return q.consumer.Heartbeat(ctx, workerID)
}

// Close closes the underlying Redis connection.
func (q *UpdateQueueImpl) Close() error {
	return q.client.Close()
}

var _ UpdateQueue = (*UpdateQueueImpl)(nil)
