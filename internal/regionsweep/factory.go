// Package regionsweep implements the region-sweep engine kind: a
// resumable, checkpoint-claimed discovery sweep over an administrative
// region catalog, driven by the crawl collaborator's single-place wire
// contract.
package regionsweep

import (
	"context"
	"sync"

	"github.com/jamie-anson/placeflow-ingestor/internal/checkpoint"
	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/external"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// JobName is the fixed job_name the Job Controller dispatches to this
// factory. Unlike modulo-crawl, region-sweep workers are not
// partition-scoped: every worker claims from the same PENDING pool via the
// checkpoint store's FOR UPDATE SKIP LOCKED select, so any worker_id may run
// concurrently.
const JobName = "region-sweep"

// Factory builds the region-sweep engine's pipeline.Spec and owns the
// batch-execution lifecycle around it: the first worker to build opens the
// BatchExecution (seeding checkpoints from the region catalog and resuming
// an interrupted run when configured), later workers join it, and the last
// worker to finish closes it.
type Factory struct {
	checkpointStore *checkpoint.Store
	places          *store.PlaceRepo
	crawler         *external.CrawlerClient
	batchName       string
	regionType      models.RegionTier
	regions         []models.Region
	autoResume      bool
	chunkSize       int
	skipLimit       int
	maxAttempts     int

	mu          sync.Mutex
	active      int
	executionID string
	sawFailure  bool
	sawStop     bool
}

// NewFactory binds a Factory to its collaborators and tunables. regions
// seeds the checkpoint table idempotently on the first Build; autoResume
// resets PROCESSING leftovers from a crashed run before starting.
func NewFactory(checkpointStore *checkpoint.Store, places *store.PlaceRepo, crawler *external.CrawlerClient, batchName string, regionType models.RegionTier, regions []models.Region, autoResume bool, chunkSize, skipLimit, maxAttempts int) *Factory {
	return &Factory{
		checkpointStore: checkpointStore,
		places:          places,
		crawler:         crawler,
		batchName:       batchName,
		regionType:      regionType,
		regions:         regions,
		autoResume:      autoResume,
		chunkSize:       chunkSize,
		skipLimit:       skipLimit,
		maxAttempts:     maxAttempts,
	}
}

// Build satisfies jobcontrol.EngineFactory.
func (f *Factory) Build(ctx context.Context, jobName string, workerID int) (pipeline.Spec, models.EngineKind, error) {
	if jobName != JobName {
		return pipeline.Spec{}, "", apperrors.Newf(apperrors.ConfigError, "region-sweep factory cannot build job %q", jobName)
	}
	if err := f.crawler.Health(ctx); err != nil {
		return pipeline.Spec{}, "", apperrors.Wrap(err, apperrors.ServiceUnavailableError, "crawler service preflight check failed")
	}

	if err := f.joinExecution(ctx); err != nil {
		return pipeline.Spec{}, "", err
	}

	retryPolicy := pipeline.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = f.maxAttempts

	spec := pipeline.Spec{
		Name:        JobName,
		Reader:      NewReader(f.checkpointStore, f.batchName, f.regionType),
		Processor:   NewProcessor(f.crawler, f.checkpointStore, f.maxAttempts),
		Writer:      NewWriter(f.checkpointStore, f.places),
		ChunkSize:   f.chunkSize,
		SkipLimit:   f.skipLimit,
		RetryPolicy: retryPolicy,
		Concurrency: 1,
		OnComplete: func(pipeline.Result) {
			f.leaveExecution(context.Background(), false, false)
		},
		OnFail: func(result pipeline.Result, err error) {
			f.leaveExecution(context.Background(), result.Status != pipeline.StatusStopped, result.Status == pipeline.StatusStopped)
		},
	}
	return spec, models.EngineKindRegionSweep, nil
}

// joinExecution opens the BatchExecution on the first worker and counts
// later workers into it. Checkpoint seeding and interrupted-run recovery run
// only on open.
func (f *Factory) joinExecution(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active > 0 {
		f.active++
		return nil
	}

	if len(f.regions) > 0 {
		if _, err := f.checkpointStore.Initialize(ctx, f.batchName, f.regionType, f.regions); err != nil {
			return err
		}
	}

	if f.autoResume {
		interrupted, err := f.checkpointStore.HasInterrupted(ctx, f.batchName)
		if err != nil {
			return err
		}
		if interrupted {
			if _, err := f.checkpointStore.ResumeInterrupted(ctx, f.batchName); err != nil {
				return err
			}
		}
	}

	exec, err := f.checkpointStore.StartExecution(ctx, f.batchName)
	if err != nil {
		return err
	}
	f.executionID = exec.ExecutionID
	f.active = 1
	f.sawFailure = false
	f.sawStop = false
	return nil
}

// leaveExecution counts a worker out; the last one closes the ledger row
// with the worst terminal status any worker reported.
func (f *Factory) leaveExecution(ctx context.Context, failed, stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if failed {
		f.sawFailure = true
	}
	if stopped {
		f.sawStop = true
	}
	if f.active == 0 {
		return
	}
	f.active--
	if f.active > 0 {
		return
	}

	status := models.ExecutionCompleted
	switch {
	case f.sawFailure:
		status = models.ExecutionFailed
	case f.sawStop:
		status = models.ExecutionInterrupted
	}
	_ = f.checkpointStore.FinishExecution(ctx, f.executionID, status)
	f.executionID = ""
}
