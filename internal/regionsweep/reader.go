package regionsweep

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Reader implements pipeline.Reader by claiming up to n PENDING regions via
// the checkpoint store's FOR UPDATE SKIP LOCKED claim, rather than paging a
// keyset: any number of region-sweep workers can run concurrently and each
// claim is exclusive regardless of worker count, so cursor carries no
// meaning here and is passed through unchanged.
type Reader struct {
	store      *checkpoint.Store
	batchName  string
	regionType models.RegionTier
}

// NewReader binds a Reader to the checkpoint store and the batch/region-type
// this worker sweeps.
func NewReader(store *checkpoint.Store, batchName string, regionType models.RegionTier) *Reader {
	return &Reader{store: store, batchName: batchName, regionType: regionType}
}

// Read claims up to n PENDING regions. Fewer than n (including zero) means
// the batch has no more pending regions right now.
func (r *Reader) Read(ctx context.Context, cursor int64, n int) ([]interface{}, int64, error) {
	tracer := otel.Tracer("runner/regionsweep")
	ctx, span := tracer.Start(ctx, "Reader.Read", oteltrace.WithAttributes())
	defer span.End()

	items := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		cp, err := r.store.NextPending(ctx, r.batchName, r.regionType)
		if err != nil {
			return nil, cursor, err
		}
		if cp == nil {
			break
		}
		items = append(items, cp)
	}
	return items, cursor, nil
}
