package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jamie-anson/placeflow-ingestor/internal/logging"
	"github.com/jamie-anson/placeflow-ingestor/internal/metrics"
	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// OutboxEnqueuePayload is the JSON shape stored in the outbox's payload
// column by push_all: one row per place queued in the same transaction that
// selected it, so a crash between select and enqueue can never drop or
// double-enqueue a task.
type OutboxEnqueuePayload struct {
	PlaceID  int64            `json:"place_id"`
	Ops      models.UpdateOps `json:"ops"`
	Priority int              `json:"priority"`
}

// OutboxPublisher drains the transactional outbox into the update queue.
type OutboxPublisher struct {
	DB     *sql.DB
	Outbox *store.OutboxRepo
	Queue  *queue.UpdateQueueImpl
}

// NewOutboxPublisher builds an OutboxPublisher backed by db and q.
func NewOutboxPublisher(db *sql.DB, q *queue.UpdateQueueImpl) *OutboxPublisher {
	return &OutboxPublisher{DB: db, Outbox: store.NewOutboxRepo(db), Queue: q}
}

// Start begins publishing in a loop until context is cancelled.
func (p *OutboxPublisher) Start(ctx context.Context) {
	l := logging.FromContext(ctx)
	l.Info().Msg("outbox publisher started")

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("outbox publisher crashed with panic")
			metrics.OutboxPublishErrorsTotal.Inc()
		}
		l.Warn().Msg("outbox publisher exiting")
	}()

	backoff := time.Second
	consecutiveErrors := 0

	for {
		select {
		case <-ctx.Done():
			l.Warn().Err(ctx.Err()).Msg("outbox publisher stopping due to context cancellation")
			return
		default:
		}

		rows, err := p.Outbox.FetchUnpublished(ctx, 100)
		if err != nil {
			consecutiveErrors++
			l.Error().Err(err).Int("consecutive_errors", consecutiveErrors).Msg("outbox fetch error")
			metrics.OutboxPublishErrorsTotal.Inc()

			backoffDuration := time.Duration(consecutiveErrors) * backoff
			if backoffDuration > 30*time.Second {
				backoffDuration = 30 * time.Second
			}
			l.Warn().Dur("backoff", backoffDuration).Msg("outbox publisher backing off due to errors")
			time.Sleep(backoffDuration)
			continue
		}

		if consecutiveErrors > 0 {
			l.Info().Int("recovered_from_errors", consecutiveErrors).Msg("outbox publisher recovered from errors")
			consecutiveErrors = 0
		}

		var publishedAny bool
		var rowCount int
		for rows.Next() {
			rowCount++
			var id int64
			var topic string
			var payload []byte
			if err := rows.Scan(&id, &topic, &payload); err != nil {
				l.Error().Err(err).Msg("outbox scan error")
				metrics.OutboxPublishErrorsTotal.Inc()
				continue
			}

			var task OutboxEnqueuePayload
			if err := json.Unmarshal(payload, &task); err != nil {
				l.Error().Err(err).Int64("outbox_id", id).Msg("outbox payload invalid JSON")
				metrics.OutboxPublishErrorsTotal.Inc()
				continue
			}

			if _, err := p.Queue.Push(ctx, task.PlaceID, task.Ops, task.Priority); err != nil {
				l.Error().Err(err).Int64("outbox_id", id).Int64("place_id", task.PlaceID).Msg("outbox enqueue error")
				metrics.OutboxPublishErrorsTotal.Inc()
				continue
			}
			if err := p.Outbox.MarkPublished(ctx, id); err != nil {
				l.Error().Err(err).Int64("outbox_id", id).Msg("outbox mark published error")
				metrics.OutboxPublishErrorsTotal.Inc()
				continue
			}
			metrics.OutboxPublishedTotal.Inc()
			publishedAny = true
		}
		_ = rows.Close()

		if !publishedAny {
			p.updateOutboxMetrics(ctx)
			time.Sleep(500 * time.Millisecond)
		} else {
			l.Info().Int("rows_published", rowCount).Msg("outbox publisher completed batch")
		}
	}
}

// updateOutboxMetrics collects and updates Prometheus metrics for outbox monitoring
func (p *OutboxPublisher) updateOutboxMetrics(ctx context.Context) {
	count, oldestAge, err := p.Outbox.GetUnpublishedStats(ctx)
	if err != nil {
		l := logging.FromContext(ctx)
		l.Error().Err(err).Msg("failed to get outbox stats")
		return
	}

	metrics.OutboxUnpublishedCount.Set(float64(count))
	metrics.OutboxOldestUnpublishedAge.Set(oldestAge)
}
