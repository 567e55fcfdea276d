package crawl

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Writer persists a chunk's re-crawled places: the refreshed descriptive
// fields plus the crawl_status transition to COMPLETED.
type Writer struct {
	places *store.PlaceRepo
}

// NewWriter binds a Writer to the place repository.
func NewWriter(places *store.PlaceRepo) *Writer {
	return &Writer{places: places}
}

// Write updates every place's fields and flips crawl_status to COMPLETED.
func (w *Writer) Write(ctx context.Context, items []interface{}) error {
	tracer := otel.Tracer("runner/crawl")
	ctx, span := tracer.Start(ctx, "Writer.Write", oteltrace.WithAttributes())
	defer span.End()

	for _, item := range items {
		place := item.(*models.Place)
		if err := w.places.UpdateFields(ctx, place.ID, place.Category, place.Address, place.Latitude, place.Longitude); err != nil {
			return err
		}
		if place.CountryCode != "" {
			if err := w.places.SetCountryCode(ctx, place.ID, place.CountryCode); err != nil {
				return err
			}
		}
		if err := w.places.SetCrawlStatus(ctx, place.ID, models.CrawlCompleted); err != nil {
			return err
		}
	}
	return nil
}
