package embedding

import (
	"context"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/internal/store"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// JobName is the fixed job_name the Job Controller dispatches to this
// factory. The embedding pipeline runs as a single worker slot (worker_id
// 0) since it is strictly single-consumer sequential by policy.
const JobName = "embedding"

// Factory builds the embedding engine's pipeline.Spec. It refuses to start
// when the embedding service is unreachable, and refuses any worker_id
// other than 0 since the embedding pipeline has exactly one slot.
type Factory struct {
	client       Client
	places       *store.PlaceRepo
	embeddings   *store.EmbeddingRepo
	chunkSize    int
	skipLimit    int
	keywordLimit int
	maxAttempts  int
}

// NewFactory binds a Factory to its collaborators and tunables.
func NewFactory(client Client, places *store.PlaceRepo, embeddings *store.EmbeddingRepo, chunkSize, skipLimit, keywordLimit, maxAttempts int) *Factory {
	return &Factory{
		client:       client,
		places:       places,
		embeddings:   embeddings,
		chunkSize:    chunkSize,
		skipLimit:    skipLimit,
		keywordLimit: keywordLimit,
		maxAttempts:  maxAttempts,
	}
}

// Build satisfies jobcontrol.EngineFactory.
func (f *Factory) Build(ctx context.Context, jobName string, workerID int) (pipeline.Spec, models.EngineKind, error) {
	if jobName != JobName {
		return pipeline.Spec{}, "", apperrors.Newf(apperrors.ConfigError, "embedding factory cannot build job %q", jobName)
	}
	if workerID != 0 {
		return pipeline.Spec{}, "", apperrors.Newf(apperrors.ConfigError, "embedding pipeline has a single worker slot, got worker_id %d", workerID)
	}
	if err := f.client.Health(ctx); err != nil {
		return pipeline.Spec{}, "", apperrors.Wrap(err, apperrors.ServiceUnavailableError, "embedding service preflight check failed")
	}

	retryPolicy := pipeline.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = f.maxAttempts

	processor := NewProcessor(f.client, f.places, f.keywordLimit, f.maxAttempts)
	spec := pipeline.Spec{
		Name:        JobName,
		Reader:      NewReader(f.places),
		Processor:   processor,
		Writer:      NewWriter(f.places, f.embeddings),
		ChunkSize:   f.chunkSize,
		SkipLimit:   f.skipLimit,
		RetryPolicy: retryPolicy,
		Concurrency: 1,
	}
	return spec, models.EngineKindEmbedding, nil
}
