package worker

import (
	"context"
	"database/sql"
	"encoding/json"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// StagePushAll is push_all's write side: inside one transaction it selects
// every place matching crawlStatus and stages an outbox payload per place.
// The outbox publisher then drains them into the Redis queue, so a crash
// between select and enqueue can neither drop nor double-send a task.
// Returns the number of places staged.
func StagePushAll(ctx context.Context, db *sql.DB, outbox *store.OutboxRepo, crawlStatus models.CrawlStatus, ops models.UpdateOps, priority int) (int, error) {
	tracer := otel.Tracer("runner/worker")
	ctx, span := tracer.Start(ctx, "StagePushAll", oteltrace.WithAttributes(attribute.String("push_all.crawl_status", string(crawlStatus))))
	defer span.End()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewDatabaseError(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM places WHERE crawl_status = $1 ORDER BY id ASC`, crawlStatus)
	if err != nil {
		return 0, apperrors.NewDatabaseError(err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, apperrors.NewDatabaseError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, apperrors.NewDatabaseError(err)
	}
	rows.Close()

	for _, id := range ids {
		payload, err := json.Marshal(OutboxEnqueuePayload{PlaceID: id, Ops: ops, Priority: priority})
		if err != nil {
			return 0, apperrors.Wrap(err, apperrors.InternalError, "failed to marshal outbox payload")
		}
		if err := outbox.InsertTx(ctx, tx, store.TopicUpdateTasks, payload); err != nil {
			return 0, apperrors.NewDatabaseError(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewDatabaseError(err)
	}
	span.SetAttributes(attribute.Int("push_all.staged", len(ids)))
	return len(ids), nil
}
