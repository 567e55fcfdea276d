package jobcontrol

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// blockingReader serves items until released, so tests can observe a slot in
// its STARTED state deterministically.
type blockingReader struct {
	started chan struct{}
	release chan struct{}
	once    atomic.Bool
	served  atomic.Int64
	total   int64
}

func (r *blockingReader) Read(ctx context.Context, cursor int64, n int) ([]interface{}, int64, error) {
	if r.once.CompareAndSwap(false, true) {
		close(r.started)
	}
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, cursor, nil
	}
	// total < 0 means endless: always serve a full chunk so the engine only
	// terminates through the between-chunks stop check.
	if r.total >= 0 && r.served.Load() >= r.total {
		return nil, cursor, nil
	}
	items := make([]interface{}, 0, n)
	for i := 0; i < n && (r.total < 0 || r.served.Load() < r.total); i++ {
		items = append(items, r.served.Add(1))
	}
	return items, cursor + int64(len(items)), nil
}

type nopProcessor struct{}

func (nopProcessor) Process(ctx context.Context, item interface{}) (interface{}, error) {
	return item, nil
}

type nopWriter struct{}

func (nopWriter) Write(ctx context.Context, items []interface{}) error { return nil }

type stubFactory struct {
	reader pipeline.Reader
	kind   models.EngineKind
	err    error
}

func (f *stubFactory) Build(ctx context.Context, jobName string, workerID int) (pipeline.Spec, models.EngineKind, error) {
	if f.err != nil {
		return pipeline.Spec{}, "", f.err
	}
	return pipeline.Spec{
		Name:      jobName,
		Reader:    f.reader,
		Processor: nopProcessor{},
		Writer:    nopWriter{},
		ChunkSize: 5,
		SkipLimit: 10,
		RetryPolicy: pipeline.RetryPolicy{
			MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1,
		},
	}, f.kind, nil
}

func newBlockedController(t *testing.T, jobName string) (*Controller, *blockingReader) {
	t.Helper()
	reader := &blockingReader{started: make(chan struct{}), release: make(chan struct{}), total: 10}
	factory := &stubFactory{reader: reader, kind: models.EngineKind(jobName)}
	return New(factory), reader
}

func waitForStatus(t *testing.T, c *Controller, jobName string, workerID int, want models.WorkerSlotStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state, err := c.Status(jobName, workerID)
		if err == nil && state.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	state, _ := c.Status(jobName, workerID)
	t.Fatalf("slot never reached %s (last: %s)", want, state.Status)
}

func TestStart_RejectsSecondStartOnSameSlot(t *testing.T) {
	c, reader := newBlockedController(t, "modulo-crawl")

	execID, err := c.Start(context.Background(), "modulo-crawl", 0)
	require.NoError(t, err)
	require.NotEmpty(t, execID)
	<-reader.started

	_, err = c.Start(context.Background(), "modulo-crawl", 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ConflictError))

	close(reader.release)
	waitForStatus(t, c, "modulo-crawl", 0, models.SlotCompleted)
}

func TestStart_SlotReusableAfterCompletion(t *testing.T) {
	c, reader := newBlockedController(t, "modulo-crawl")

	_, err := c.Start(context.Background(), "modulo-crawl", 1)
	require.NoError(t, err)
	close(reader.release)
	waitForStatus(t, c, "modulo-crawl", 1, models.SlotCompleted)

	// A fresh engine can claim the same slot once the first is terminal.
	reader2 := &blockingReader{started: make(chan struct{}), release: make(chan struct{}), total: 1}
	c.factory = &stubFactory{reader: reader2, kind: models.EngineKindModuloCrawl}
	_, err = c.Start(context.Background(), "modulo-crawl", 1)
	require.NoError(t, err)
	close(reader2.release)
	waitForStatus(t, c, "modulo-crawl", 1, models.SlotCompleted)
}

func TestStop_CooperativeStopYieldsStopped(t *testing.T) {
	reader := &blockingReader{started: make(chan struct{}), release: make(chan struct{}), total: -1}
	close(reader.release)
	c := New(&stubFactory{reader: reader, kind: models.EngineKindModuloCrawl})

	_, err := c.Start(context.Background(), "modulo-crawl", 0)
	require.NoError(t, err)
	<-reader.started

	require.NoError(t, c.Stop("modulo-crawl", 0))
	waitForStatus(t, c, "modulo-crawl", 0, models.SlotStopped)
}

func TestStop_UnknownSlotIsNotFound(t *testing.T) {
	c, _ := newBlockedController(t, "modulo-crawl")
	err := c.Stop("modulo-crawl", 9)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.NotFoundError))
}

func TestStartAll_ReportsPerSlotOutcomes(t *testing.T) {
	reader := &blockingReader{started: make(chan struct{}), release: make(chan struct{}), total: 0}
	close(reader.release)
	c := New(&stubFactory{reader: reader, kind: models.EngineKindModuloCrawl})

	outcomes := c.StartAll(context.Background(), "modulo-crawl", 3)
	require.Len(t, outcomes, 3)
	for _, o := range outcomes {
		assert.Empty(t, o.Error)
		assert.NotEmpty(t, o.ExecutionID)
	}
}

func TestStart_FactoryErrorSurfaces(t *testing.T) {
	c := New(&stubFactory{err: apperrors.New(apperrors.ServiceUnavailableError, "crawler down")})
	_, err := c.Start(context.Background(), "modulo-crawl", 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ServiceUnavailableError))
}

func TestStart_RegionSweepAndModuloCrawlAreMutuallyExclusive(t *testing.T) {
	c, reader := newBlockedController(t, "modulo-crawl")

	_, err := c.Start(context.Background(), "modulo-crawl", 0)
	require.NoError(t, err)
	<-reader.started

	_, err = c.Start(context.Background(), "region-sweep", 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ConflictError))

	close(reader.release)
	waitForStatus(t, c, "modulo-crawl", 0, models.SlotCompleted)
}

func TestCurrentJobs_ListsOnlyLiveSlots(t *testing.T) {
	c, reader := newBlockedController(t, "embedding")

	_, err := c.Start(context.Background(), "embedding", 0)
	require.NoError(t, err)
	<-reader.started

	running := c.CurrentJobs()
	require.Len(t, running, 1)
	assert.Equal(t, "embedding", running[0].JobName)

	close(reader.release)
	waitForStatus(t, c, "embedding", 0, models.SlotCompleted)
	assert.Empty(t, c.CurrentJobs())
}
