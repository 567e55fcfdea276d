// Package engine composes the per-job-name EngineFactory implementations
// (modulo-crawl, region-sweep, embedding) into the single factory the Job
// Controller is built with, dispatching each Build call by job_name.
package engine

import (
	"context"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/crawl"
	"github.com/jamie-anson/placeflow-ingestor/internal/embedding"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/internal/regionsweep"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// Composite dispatches jobcontrol.EngineFactory.Build to the concrete
// factory registered for the requested job_name. One worker process may hold
// both the region-sweep and modulo-crawl factories; the Job Controller
// refuses to start either while the other is running on any slot.
type Composite struct {
	crawl       *crawl.Factory
	regionSweep *regionsweep.Factory
	embedding   *embedding.Factory
}

// NewComposite binds the Composite to whichever concrete factories the
// deployment enables. A nil factory for a job kind means that kind is
// unavailable in this deployment; Build rejects its job_name.
func NewComposite(crawlFactory *crawl.Factory, regionSweepFactory *regionsweep.Factory, embeddingFactory *embedding.Factory) *Composite {
	return &Composite{crawl: crawlFactory, regionSweep: regionSweepFactory, embedding: embeddingFactory}
}

// Build satisfies jobcontrol.EngineFactory.
func (c *Composite) Build(ctx context.Context, jobName string, workerID int) (pipeline.Spec, models.EngineKind, error) {
	switch jobName {
	case crawl.JobName:
		if c.crawl == nil {
			break
		}
		return c.crawl.Build(ctx, jobName, workerID)
	case regionsweep.JobName:
		if c.regionSweep == nil {
			break
		}
		return c.regionSweep.Build(ctx, jobName, workerID)
	case embedding.JobName:
		if c.embedding == nil {
			break
		}
		return c.embedding.Build(ctx, jobName, workerID)
	}
	return pipeline.Spec{}, "", apperrors.Newf(apperrors.ConfigError, "unknown or disabled job_name %q", jobName)
}
