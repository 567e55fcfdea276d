package crawl

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	"github.com/jamie-anson/placeflow-ingestor/internal/geoip"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Processor re-crawls one place's structured fields through the crawl
// collaborator. Like the embedding processor, it tracks attempts per place
// id across the engine's retries so a place that exhausts its attempts is
// marked FAILED instead of silently left PENDING.
type Processor struct {
	client      *external.CrawlerClient
	places      *store.PlaceRepo
	geo         geoip.Resolver
	maxAttempts int

	mu       sync.Mutex
	attempts map[int64]int
}

// NewProcessor binds a Processor to the crawl client and place repository.
// geo may be nil, in which case listing-origin tagging is skipped.
func NewProcessor(client *external.CrawlerClient, places *store.PlaceRepo, geo geoip.Resolver, maxAttempts int) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Processor{
		client:      client,
		places:      places,
		geo:         geo,
		maxAttempts: maxAttempts,
		attempts:    make(map[int64]int),
	}
}

// Process re-crawls one place and returns the updated row for the writer to
// persist. A failed crawl bumps the place's attempt count and, once
// exhausted, marks it NOT_FOUND-ineligible for retry by flipping its
// crawl_status to FAILED directly.
func (p *Processor) Process(ctx context.Context, item interface{}) (interface{}, error) {
	place := item.(*models.Place)

	tracer := otel.Tracer("runner/crawl")
	ctx, span := tracer.Start(ctx, "Processor.Process", oteltrace.WithAttributes(
		attribute.Int64("place.id", place.ID),
	))
	defer span.End()

	crawled, err := p.client.Crawl(ctx, place.Name, place.Name)
	if err != nil {
		attempt := p.bump(place.ID)
		if attempt >= p.maxAttempts {
			p.forget(place.ID)
			_ = p.places.SetCrawlStatus(ctx, place.ID, models.CrawlFailed)
		}
		return nil, err
	}
	p.forget(place.ID)

	place.Category = crawled.Category
	place.Address = crawled.Address
	place.Latitude = crawled.Latitude
	place.Longitude = crawled.Longitude
	if p.geo != nil && crawled.SourceURL != "" {
		// Lookup failures leave the previous tag; the listing host is
		// advisory metadata, not part of the crawl contract.
		if country, _, err := p.geo.CountryForURL(crawled.SourceURL); err == nil && country != "" {
			place.CountryCode = country
		}
	}
	return place, nil
}

func (p *Processor) bump(placeID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[placeID]++
	return p.attempts[placeID]
}

func (p *Processor) forget(placeID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, placeID)
}
