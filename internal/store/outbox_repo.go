package store

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TopicUpdateTasks is the outbox topic push_all writes UpdateTask payloads
// under; the outbox publisher drains it into the Redis update queue.
const TopicUpdateTasks = "update-tasks"

// OutboxRepo is the transactional outbox push_all enqueues through: task
// payloads are inserted in the same transaction that selected the matching
// places, so a crash between select and enqueue cannot drop or double-send
// a task.
type OutboxRepo struct {
	DB *sql.DB
}

func NewOutboxRepo(db *sql.DB) *OutboxRepo {
	return &OutboxRepo{DB: db}
}

// InsertTx stages one payload inside the caller's transaction.
func (r *OutboxRepo) InsertTx(ctx context.Context, tx *sql.Tx, topic string, payload []byte) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, topic, payload)
	return err
}

// FetchUnpublished returns id, topic, payload for rows not yet published
func (r *OutboxRepo) FetchUnpublished(ctx context.Context, limit int) (*sql.Rows, error) {
	tracer := otel.Tracer("runner/store/outbox")
	ctx, span := tracer.Start(ctx, "OutboxRepo.FetchUnpublished", oteltrace.WithAttributes(attribute.Int("outbox.limit", limit)))
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	return r.DB.QueryContext(ctx, `
		SELECT id, topic, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`, limit)
}

func (r *OutboxRepo) MarkPublished(ctx context.Context, id int64) error {
	tracer := otel.Tracer("runner/store/outbox")
	ctx, span := tracer.Start(ctx, "OutboxRepo.MarkPublished", oteltrace.WithAttributes(attribute.Int64("outbox.id", id)))
	defer span.End()

	_, err := r.DB.ExecContext(ctx, `UPDATE outbox SET published_at = NOW() WHERE id = $1`, id)
	return err
}

// GetUnpublishedStats returns count and oldest age of unpublished messages
func (r *OutboxRepo) GetUnpublishedStats(ctx context.Context) (count int, oldestAgeSeconds float64, err error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT 
			COUNT(*) as count,
			COALESCE(EXTRACT(EPOCH FROM (NOW() - MIN(created_at))), 0) as oldest_age_seconds
		FROM outbox 
		WHERE published_at IS NULL
	`)
	err = row.Scan(&count, &oldestAgeSeconds)
	return
}
