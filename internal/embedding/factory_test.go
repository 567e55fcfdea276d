package embedding

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
)

func newTestFactory(t *testing.T, health func(ctx context.Context) error) *Factory {
	t.Helper()
	db, _, _ := sqlmock.New()
	t.Cleanup(func() { db.Close() })
	places := store.NewPlaceRepo(db)
	embeddings := store.NewEmbeddingRepo(db)
	client := &fakeClient{healthFn: health}
	return NewFactory(client, places, embeddings, 1, 50, 5, 3)
}

func TestFactory_Build_RejectsWrongJobName(t *testing.T) {
	f := newTestFactory(t, nil)
	_, _, err := f.Build(context.Background(), "modulo-crawl", 0)
	if !apperrors.IsType(err, apperrors.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestFactory_Build_RejectsNonZeroWorker(t *testing.T) {
	f := newTestFactory(t, nil)
	_, _, err := f.Build(context.Background(), JobName, 1)
	if !apperrors.IsType(err, apperrors.ConfigError) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestFactory_Build_RefusesWhenServiceUnreachable(t *testing.T) {
	f := newTestFactory(t, func(context.Context) error {
		return apperrors.New(apperrors.ServiceUnavailableError, "down")
	})
	_, _, err := f.Build(context.Background(), JobName, 0)
	if !apperrors.IsType(err, apperrors.ServiceUnavailableError) {
		t.Fatalf("expected ServiceUnavailableError, got %v", err)
	}
}

func TestFactory_Build_SucceedsWhenHealthy(t *testing.T) {
	f := newTestFactory(t, func(context.Context) error { return nil })
	spec, kind, err := f.Build(context.Background(), JobName, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != "embedding" {
		t.Fatalf("unexpected engine kind: %v", kind)
	}
	if spec.Reader == nil || spec.Processor == nil || spec.Writer == nil {
		t.Fatalf("expected fully-wired spec, got %+v", spec)
	}
}
