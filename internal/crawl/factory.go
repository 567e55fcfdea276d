// Package crawl implements the modulo-crawl engine kind: a worker-modulo
// partitioned re-crawl of places whose crawl_status has fallen back to
// PENDING, driven by the crawl collaborator's single-place wire contract.
package crawl

import (
	"context"
	"database/sql"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	"github.com/jamie-anson/placeflow-ingestor/internal/geoip"
	"github.com/jamie-anson/placeflow-ingestor/internal/partition"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// JobName is the fixed job_name the Job Controller dispatches to this
// factory; worker_id selects this worker's slice of the places table.
const JobName = "modulo-crawl"

// Factory builds the modulo-crawl engine's pipeline.Spec for one worker_id,
// scoping the partition reader to totalWorkers-way modulo assignment over
// the places table's primary key.
type Factory struct {
	db           *sql.DB
	places       *store.PlaceRepo
	crawler      *external.CrawlerClient
	geo          geoip.Resolver
	totalWorkers int
	chunkSize    int
	skipLimit    int
	maxAttempts  int
}

// NewFactory binds a Factory to its collaborators and tunables. geo may be
// nil when no GeoLite2 database is deployed.
func NewFactory(db *sql.DB, places *store.PlaceRepo, crawler *external.CrawlerClient, geo geoip.Resolver, totalWorkers, chunkSize, skipLimit, maxAttempts int) *Factory {
	return &Factory{
		db:           db,
		places:       places,
		crawler:      crawler,
		geo:          geo,
		totalWorkers: totalWorkers,
		chunkSize:    chunkSize,
		skipLimit:    skipLimit,
		maxAttempts:  maxAttempts,
	}
}

// Build satisfies jobcontrol.EngineFactory.
func (f *Factory) Build(ctx context.Context, jobName string, workerID int) (pipeline.Spec, models.EngineKind, error) {
	if jobName != JobName {
		return pipeline.Spec{}, "", apperrors.Newf(apperrors.ConfigError, "modulo-crawl factory cannot build job %q", jobName)
	}
	if err := f.crawler.Health(ctx); err != nil {
		return pipeline.Spec{}, "", apperrors.Wrap(err, apperrors.ServiceUnavailableError, "crawler service preflight check failed")
	}

	reader, err := partition.NewReader(f.db, "places", "id", "crawl_status = 'PENDING'", f.totalWorkers, workerID, f.chunkSize)
	if err != nil {
		return pipeline.Spec{}, "", err
	}

	retryPolicy := pipeline.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = f.maxAttempts

	spec := pipeline.Spec{
		Name:        JobName,
		Reader:      NewReader(reader, f.places),
		Processor:   NewProcessor(f.crawler, f.places, f.geo, f.maxAttempts),
		Writer:      NewWriter(f.places),
		ChunkSize:   f.chunkSize,
		SkipLimit:   f.skipLimit,
		RetryPolicy: retryPolicy,
		Concurrency: 1,
	}
	return spec, models.EngineKindModuloCrawl, nil
}
