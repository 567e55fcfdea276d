package worker

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/jamie-anson/placeflow-ingestor/internal/queue"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

func newTestOutboxQueue(t *testing.T) (*miniredis.Miniredis, *queue.UpdateQueueImpl) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	q, err := queue.New(queue.Config{
		RedisURL:          "redis://" + mr.Addr(),
		VisibilityTimeout: time.Second,
		HeartbeatInterval: time.Second,
		MaxAttempts:       3,
		BackoffInitial:    10 * time.Millisecond,
		BackoffMax:        20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	return mr, q
}

var outboxFetchQuery = regexp.QuoteMeta("SELECT id, topic, payload\n\t\tFROM outbox\n\t\tWHERE published_at IS NULL\n\t\tORDER BY id ASC\n\t\tLIMIT $1")
var outboxMetricsQuery = regexp.QuoteMeta("SELECT \n\t\t\tCOUNT(*) as count,\n\t\t\tCOALESCE(EXTRACT(EPOCH FROM (NOW() - MIN(created_at))), 0) as oldest_age_seconds\n\t\tFROM outbox \n\t\tWHERE published_at IS NULL")

func TestOutboxPublisher_PublishesAndMarks(t *testing.T) {
	db, mock, _ := sqlmock.New(sqlmock.MonitorPingsOption(false))
	defer db.Close()

	payload, _ := json.Marshal(OutboxEnqueuePayload{PlaceID: 42, Ops: models.UpdateOps{Menus: true}, Priority: 0})
	rows := sqlmock.NewRows([]string{"id", "topic", "payload"}).AddRow(int64(1), "update-task", payload)
	mock.ExpectQuery(outboxFetchQuery).WithArgs(100).WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET published_at = NOW() WHERE id = $1")).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	emptyRows := sqlmock.NewRows([]string{"id", "topic", "payload"})
	metricsRows := sqlmock.NewRows([]string{"count", "oldest_age_seconds"}).AddRow(0, 0)
	for i := 0; i < 10; i++ {
		mock.ExpectQuery(outboxFetchQuery).WithArgs(100).WillReturnRows(emptyRows)
		mock.ExpectQuery(outboxMetricsQuery).WillReturnRows(metricsRows)
	}

	mr, q := newTestOutboxQueue(t)
	defer mr.Close()
	defer q.Close()

	p := NewOutboxPublisher(db, q)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for enqueued task")
		}
		stats, err := q.Stats(context.Background())
		if err == nil && stats.Pending >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publisher did not stop in time")
	}
}

func TestOutboxPublisher_InvalidJSON_SkipsAndDoesNotMark(t *testing.T) {
	db, mock, _ := sqlmock.New(sqlmock.MonitorPingsOption(false))
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "topic", "payload"}).AddRow(int64(2), "update-task", []byte("not-json"))
	mock.ExpectQuery(outboxFetchQuery).WithArgs(100).WillReturnRows(rows)

	emptyRows := sqlmock.NewRows([]string{"id", "topic", "payload"})
	metricsRows := sqlmock.NewRows([]string{"count", "oldest_age_seconds"}).AddRow(0, 0)
	for i := 0; i < 5; i++ {
		mock.ExpectQuery(outboxFetchQuery).WithArgs(100).WillReturnRows(emptyRows)
		mock.ExpectQuery(outboxMetricsQuery).WillReturnRows(metricsRows)
	}

	mr, q := newTestOutboxQueue(t)
	defer mr.Close()
	defer q.Close()

	p := NewOutboxPublisher(db, q)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p.Start(ctx)
}

func TestOutboxPublisher_ZeroPlaceID_StillEnqueuesAsGiven(t *testing.T) {
	db, mock, _ := sqlmock.New(sqlmock.MonitorPingsOption(false))
	defer db.Close()

	payload, _ := json.Marshal(map[string]any{"ops": map[string]bool{"menus": true}})
	rows := sqlmock.NewRows([]string{"id", "topic", "payload"}).AddRow(int64(3), "update-task", payload)
	mock.ExpectQuery(outboxFetchQuery).WithArgs(100).WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox SET published_at = NOW() WHERE id = $1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	emptyRows := sqlmock.NewRows([]string{"id", "topic", "payload"})
	metricsRows := sqlmock.NewRows([]string{"count", "oldest_age_seconds"}).AddRow(0, 0)
	for i := 0; i < 5; i++ {
		mock.ExpectQuery(outboxFetchQuery).WithArgs(100).WillReturnRows(emptyRows)
		mock.ExpectQuery(outboxMetricsQuery).WillReturnRows(metricsRows)
	}

	mr, q := newTestOutboxQueue(t)
	defer mr.Close()
	defer q.Close()

	p := NewOutboxPublisher(db, q)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p.Start(ctx)
}
