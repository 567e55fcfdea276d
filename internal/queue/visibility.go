package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
)

// RecoverVisibilityTimeouts scans update:inflight:* for entries whose
// remaining TTL is 2s or less and re-enqueues their task payload to the
// pending lane, so a task claimed by a crashed worker is delivered again.
// The owning worker's heartbeat is not consulted: an entry is recovered on
// its remaining TTL alone.
func (q *UpdateQueueImpl) RecoverVisibilityTimeouts(ctx context.Context) (int, error) {
	tracer := otel.Tracer("runner/queue/visibility")
	ctx, span := tracer.Start(ctx, "UpdateQueueImpl.RecoverVisibilityTimeouts")
	defer span.End()

	pattern := q.consumer.inflightPrefix + "*"
	keys, err := q.circuit.Keys(ctx, pattern).Result()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to scan inflight keys")
	}

	recovered := 0
	for _, key := range keys {
		ttl, err := q.circuit.TTL(ctx, key).Result()
		if err != nil {
			continue
		}
		if ttl > 2*time.Second {
			continue // still comfortably within its visibility window
		}

		fields, err := q.circuit.HGetAll(ctx, key).Result()
		if err != nil || fields["task"] == "" {
			continue
		}

		q.circuit.Del(ctx, key)
		if err := q.circuit.LPush(ctx, q.pendingQueue, fields["task"]).Err(); err != nil {
			continue
		}
		recovered++
		q.circuit.HIncrBy(ctx, statsKey, "recovered", 1)
		span.AddEvent("recovered_expired_inflight_task")
	}

	span.SetAttributes(attribute.Int("queue.recovered", recovered))
	return recovered, nil
}

// PromoteRetries moves ready retry-zset entries back onto the pending lane.
func (q *UpdateQueueImpl) PromoteRetries(ctx context.Context) (int, error) {
	return q.retry.PromoteReady(ctx)
}
