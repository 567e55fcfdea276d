package embedding

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/store"
)

// Reader implements pipeline.Reader over places eligible for embedding. It
// performs no worker partitioning: the embedding pipeline is a strict
// single consumer, because the embedding service benefits from tight,
// unsharded batching.
type Reader struct {
	places *store.PlaceRepo
}

// NewReader binds a Reader to the place repository.
func NewReader(places *store.PlaceRepo) *Reader {
	return &Reader{places: places}
}

// Read returns up to n eligible places after cursor, in ascending id order.
func (r *Reader) Read(ctx context.Context, cursor int64, n int) ([]interface{}, int64, error) {
	tracer := otel.Tracer("runner/embedding")
	ctx, span := tracer.Start(ctx, "Reader.Read", oteltrace.WithAttributes())
	defer span.End()

	rows, next, err := r.places.ListPendingEmbedding(ctx, cursor, n)
	if err != nil {
		return nil, cursor, err
	}
	items := make([]interface{}, 0, len(rows))
	for i := range rows {
		p := rows[i]
		items = append(items, &p)
	}
	return items, next, nil
}
