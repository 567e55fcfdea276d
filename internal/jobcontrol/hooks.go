package jobcontrol

import (
	"context"

	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// ProgressHooks receives the engine callbacks for every slot the wrapped
// factory builds, after the controller's own slot bookkeeping has run. The
// status stream attaches here; metrics could too.
type ProgressHooks struct {
	OnChunk    func(jobName string, workerID int, stats pipeline.ChunkStats)
	OnComplete func(jobName string, workerID int, result pipeline.Result)
	OnFail     func(jobName string, workerID int, result pipeline.Result, err error)
}

type hookedFactory struct {
	inner EngineFactory
	hooks ProgressHooks
}

// HookFactory decorates factory so every built spec also reports progress
// through hooks. Existing spec callbacks keep running first.
func HookFactory(factory EngineFactory, hooks ProgressHooks) EngineFactory {
	return &hookedFactory{inner: factory, hooks: hooks}
}

func (f *hookedFactory) Build(ctx context.Context, jobName string, workerID int) (pipeline.Spec, models.EngineKind, error) {
	spec, kind, err := f.inner.Build(ctx, jobName, workerID)
	if err != nil {
		return spec, kind, err
	}

	if f.hooks.OnChunk != nil {
		inner := spec.OnChunk
		spec.OnChunk = func(stats pipeline.ChunkStats) {
			if inner != nil {
				inner(stats)
			}
			f.hooks.OnChunk(jobName, workerID, stats)
		}
	}
	if f.hooks.OnComplete != nil {
		inner := spec.OnComplete
		spec.OnComplete = func(result pipeline.Result) {
			if inner != nil {
				inner(result)
			}
			f.hooks.OnComplete(jobName, workerID, result)
		}
	}
	if f.hooks.OnFail != nil {
		inner := spec.OnFail
		spec.OnFail = func(result pipeline.Result, err error) {
			if inner != nil {
				inner(result, err)
			}
			f.hooks.OnFail(jobName, workerID, result, err)
		}
	}
	return spec, kind, nil
}
