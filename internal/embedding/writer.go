package embedding

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Writer persists every place's vectors and flips embed_status to COMPLETED
// in the same transaction, per place, so a chunk partially committing never
// leaves a place's vectors without its status transition or vice versa.
type Writer struct {
	places     *store.PlaceRepo
	embeddings *store.EmbeddingRepo
}

// NewWriter binds a Writer to the place and embedding repositories.
func NewWriter(places *store.PlaceRepo, embeddings *store.EmbeddingRepo) *Writer {
	return &Writer{places: places, embeddings: embeddings}
}

// Write commits each item's vectors and status transition as one
// transaction per place.
func (w *Writer) Write(ctx context.Context, items []interface{}) error {
	tracer := otel.Tracer("runner/embedding")
	ctx, span := tracer.Start(ctx, "Writer.Write", oteltrace.WithAttributes())
	defer span.End()

	for _, item := range items {
		res := item.(*Result)
		if err := w.writeOne(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeOne(ctx context.Context, res *Result) error {
	tx, err := w.places.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.embeddings.UpsertVectorsTx(ctx, tx, res.Vectors); err != nil {
		return err
	}
	if err := w.places.SetEmbedStatusTx(ctx, tx, res.Place.ID, models.EmbedCompleted); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}
