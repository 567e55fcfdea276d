package crawl

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/partition"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
)

// Reader implements pipeline.Reader over the partition-scoped slice of
// places owned by this worker, translating the ids partition.Reader pages
// through into full *models.Place rows the processor can crawl.
type Reader struct {
	partition *partition.Reader
	places    *store.PlaceRepo
}

// NewReader binds a Reader to the worker's partition and the place repository.
func NewReader(p *partition.Reader, places *store.PlaceRepo) *Reader {
	return &Reader{partition: p, places: places}
}

// Read returns up to one partition page of places after cursor. The page
// size is fixed by the underlying partition.Reader, not by n: the Job
// Controller configures chunk size through the partition reader itself so
// the two stay in step.
func (r *Reader) Read(ctx context.Context, cursor int64, n int) ([]interface{}, int64, error) {
	tracer := otel.Tracer("runner/crawl")
	ctx, span := tracer.Start(ctx, "Reader.Read", oteltrace.WithAttributes())
	defer span.End()

	page, err := r.partition.Next(ctx, cursor)
	if err != nil {
		return nil, cursor, err
	}

	items := make([]interface{}, 0, len(page.IDs))
	for _, id := range page.IDs {
		place, err := r.places.GetByID(ctx, id)
		if err != nil {
			return nil, cursor, err
		}
		items = append(items, place)
	}
	return items, page.NextCursor, nil
}
