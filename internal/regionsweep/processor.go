package regionsweep

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Result pairs a claimed checkpoint with the place discovered for it, ready
// for the Writer to persist both in one chunk-level commit.
type Result struct {
	Checkpoint *models.RegionCheckpoint
	Place      *models.Place
}

// Processor discovers one place per claimed region via the crawl
// collaborator. The crawl wire contract returns a single structured place
// per query, so one sweep tick seeds one representative place per region;
// broader per-region business discovery would need a bulk-search
// collaborator endpoint the control surface does not define.
type Processor struct {
	crawler     *external.CrawlerClient
	store       *checkpoint.Store
	maxAttempts int

	mu       sync.Mutex
	attempts map[int64]int
}

// NewProcessor binds a Processor to the crawl collaborator and checkpoint store.
func NewProcessor(crawler *external.CrawlerClient, store *checkpoint.Store, maxAttempts int) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Processor{
		crawler:     crawler,
		store:       store,
		maxAttempts: maxAttempts,
		attempts:    make(map[int64]int),
	}
}

// Process crawls one region's seed place. On exhausted attempts it marks
// the checkpoint FAILED directly, since the engine's retry loop carries no
// attempt-number callback of its own.
func (p *Processor) Process(ctx context.Context, item interface{}) (interface{}, error) {
	cp := item.(*models.RegionCheckpoint)

	tracer := otel.Tracer("runner/regionsweep")
	ctx, span := tracer.Start(ctx, "Processor.Process", oteltrace.WithAttributes(
		attribute.String("checkpoint.region_code", cp.RegionCode),
	))
	defer span.End()

	crawled, err := p.crawler.Crawl(ctx, cp.RegionName, cp.RegionName)
	if err != nil {
		attempt := p.bump(cp.ID)
		if attempt >= p.maxAttempts {
			p.forget(cp.ID)
			_ = p.store.MarkFailed(ctx, cp.ID, err.Error())
		}
		return nil, err
	}
	p.forget(cp.ID)

	place := &models.Place{
		Name:      cp.RegionName,
		Category:  crawled.Category,
		Address:   crawled.Address,
		Latitude:  crawled.Latitude,
		Longitude: crawled.Longitude,
	}
	return &Result{Checkpoint: cp, Place: place}, nil
}

func (p *Processor) bump(checkpointID int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[checkpointID]++
	return p.attempts[checkpointID]
}

func (p *Processor) forget(checkpointID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, checkpointID)
}
