package regionsweep

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
)

// Writer persists each chunk's discovered place and marks its region
// checkpoint COMPLETED. A place insert failure leaves the checkpoint
// PROCESSING rather than COMPLETED, so the next ResumeInterrupted pass
// re-queues it.
type Writer struct {
	store  *checkpoint.Store
	places *store.PlaceRepo
}

// NewWriter binds a Writer to the checkpoint store and place repository.
func NewWriter(checkpointStore *checkpoint.Store, places *store.PlaceRepo) *Writer {
	return &Writer{store: checkpointStore, places: places}
}

// Write inserts each result's place and marks its checkpoint COMPLETED.
func (w *Writer) Write(ctx context.Context, items []interface{}) error {
	tracer := otel.Tracer("runner/regionsweep")
	ctx, span := tracer.Start(ctx, "Writer.Write", oteltrace.WithAttributes())
	defer span.End()

	for _, item := range items {
		res := item.(*Result)
		if _, err := w.places.Insert(ctx, res.Place); err != nil {
			return err
		}
		if err := w.store.MarkCompleted(ctx, res.Checkpoint.ID, 1); err != nil {
			return err
		}
	}
	return nil
}
