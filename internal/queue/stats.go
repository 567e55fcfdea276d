package queue

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Stats returns the point-in-time queue depth view.
func (q *UpdateQueueImpl) Stats(ctx context.Context) (models.QueueStats, error) {
	tracer := otel.Tracer("runner/queue/stats")
	ctx, span := tracer.Start(ctx, "UpdateQueueImpl.Stats")
	defer span.End()

	pipe := q.client.Pipeline()
	pendingCmd := pipe.LLen(ctx, q.pendingQueue)
	priorityCmd := pipe.LLen(ctx, q.priorityQueue)
	retryCmd := pipe.ZCard(ctx, q.retryZSet)
	deadCmd := pipe.LLen(ctx, q.deadList)
	completedCmd := pipe.SCard(ctx, q.completedSet)
	failedCmd := pipe.SCard(ctx, q.failedSet)

	if _, err := pipe.Exec(ctx); err != nil {
		return models.QueueStats{}, apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to read queue stats")
	}

	inflightKeys, err := q.circuit.Keys(ctx, q.consumer.inflightPrefix+"*").Result()
	var inflight int64
	if err == nil {
		inflight = int64(len(inflightKeys))
	}

	counters := map[string]int64{}
	if raw, err := q.circuit.HGetAll(ctx, statsKey).Result(); err == nil {
		for k, v := range raw {
			if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				counters[k] = n
			}
		}
	}

	stats := models.QueueStats{
		Pending:   pendingCmd.Val(),
		Priority:  priorityCmd.Val(),
		Inflight:  inflight,
		Retry:     retryCmd.Val(),
		Dead:      deadCmd.Val(),
		Completed: completedCmd.Val(),
		Failed:    failedCmd.Val(),
		Counters:  counters,
	}
	span.SetAttributes(
		attribute.Int64("queue.pending", stats.Pending),
		attribute.Int64("queue.priority", stats.Priority),
		attribute.Int64("queue.inflight", stats.Inflight),
		attribute.Int64("queue.retry", stats.Retry),
		attribute.Int64("queue.dead", stats.Dead),
	)
	return stats, nil
}

// CircuitBreakerState exposes the breaker's open/half-open/closed state for
// the stats surface.
func (q *UpdateQueueImpl) CircuitBreakerState() string {
	return q.circuit.State().String()
}
