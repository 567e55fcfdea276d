package queue

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// RetryHandler schedules delayed re-enqueues for tasks that failed but have
// not exhausted max_attempts, and moves exhausted tasks to the dead list.
type RetryHandler struct {
	circuit       *RedisCircuitBreaker
	pendingQueue  string
	retryZSet     string
	deadList      string
	completedSet  string
	failedSet     string
	initialDelay  time.Duration
	maxDelay      time.Duration
}

func newRetryHandler(circuit *RedisCircuitBreaker, pendingQueue, retryZSet, deadList, completedSet, failedSet string, initialDelay, maxDelay time.Duration) *RetryHandler {
	return &RetryHandler{
		circuit:      circuit,
		pendingQueue: pendingQueue,
		retryZSet:    retryZSet,
		deadList:     deadList,
		completedSet: completedSet,
		failedSet:    failedSet,
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
	}
}

// HandleFailure schedules a retry if attempts remain, otherwise moves the
// task to the dead list and marks the place failed.
func (r *RetryHandler) HandleFailure(ctx context.Context, task *models.UpdateTask, taskErr error) error {
	tracer := otel.Tracer("runner/queue/retry")
	ctx, span := tracer.Start(ctx, "RetryHandler.HandleFailure", oteltrace.WithAttributes(
		attribute.String("queue.task_id", task.TaskID),
		attribute.Int("queue.attempts", task.Attempts),
		attribute.Int("queue.max_attempts", task.MaxAttempts),
	))
	defer span.End()

	task.LastError = taskErr.Error()
	span.RecordError(taskErr)

	if task.Attempts < task.MaxAttempts {
		backoff := r.backoffFor(task.Attempts)
		retryAt := time.Now().Add(backoff)
		task.TaskID = uuid.New().String()

		data, err := json.Marshal(task)
		if err != nil {
			return apperrors.Wrap(err, apperrors.InternalError, "failed to marshal retry task")
		}
		if err := r.circuit.ZAdd(ctx, r.retryZSet, &redis.Z{Score: float64(retryAt.Unix()), Member: data}).Err(); err != nil {
			span.RecordError(err)
			return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to schedule retry")
		}
		span.SetAttributes(attribute.Bool("queue.retry_scheduled", true), attribute.Int64("queue.retry_at_unix", retryAt.Unix()))
		return nil
	}

	return r.moveToDead(ctx, task)
}

func (r *RetryHandler) backoffFor(attempt int) time.Duration {
	d := float64(r.initialDelay) * pow(2.0, attempt)
	if d > float64(r.maxDelay) {
		d = float64(r.maxDelay)
	}
	jitterRange := d * 0.10
	d += (rand.Float64()*2 - 1) * jitterRange
	if d < 0 {
		d = float64(r.initialDelay)
	}
	return time.Duration(d)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (r *RetryHandler) moveToDead(ctx context.Context, task *models.UpdateTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return apperrors.Wrap(err, apperrors.InternalError, "failed to marshal dead task")
	}
	if err := r.circuit.LPush(ctx, r.deadList, data).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to push dead task")
	}
	if err := r.circuit.SAdd(ctx, r.failedSet, task.PlaceID).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to mark place failed")
	}
	return nil
}

// PromoteReady moves ready retry-zset entries (score <= now) back onto the
// pending lane.
func (r *RetryHandler) PromoteReady(ctx context.Context) (int, error) {
	tracer := otel.Tracer("runner/queue/retry")
	ctx, span := tracer.Start(ctx, "RetryHandler.PromoteReady")
	defer span.End()

	now := time.Now().Unix()
	results, err := r.circuit.ZRangeByScore(ctx, r.retryZSet, &redis.ZRangeBy{
		Min: "0", Max: strconv.FormatInt(now, 10), Count: 100,
	}).Result()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to scan retry zset")
	}

	promoted := 0
	for _, member := range results {
		if err := r.circuit.ZRem(ctx, r.retryZSet, member).Err(); err != nil {
			continue
		}
		if err := r.circuit.LPush(ctx, r.pendingQueue, member).Err(); err != nil {
			continue
		}
		promoted++
	}
	span.SetAttributes(attribute.Int("queue.promoted", promoted))
	return promoted, nil
}
