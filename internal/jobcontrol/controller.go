// Package jobcontrol is the named-job registry and lifecycle manager that
// external collaborators drive through the batch control API.
package jobcontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
	"github.com/jamie-anson/placeflow-ingestor/internal/logging"
	"github.com/jamie-anson/placeflow-ingestor/internal/pipeline"
	"github.com/jamie-anson/placeflow-ingestor/pkg/models"
)

// slotKey uniquely identifies one worker slot.
type slotKey struct {
	jobName  string
	workerID int
}

// EngineFactory builds the pipeline.Spec for one (job_name, worker_id) slot.
// Implementations bind the partition-scoped reader, processor, and writer
// for the engine kind the job name resolves to.
type EngineFactory interface {
	Build(ctx context.Context, jobName string, workerID int) (pipeline.Spec, models.EngineKind, error)
}

// slot is the controller's private bookkeeping for one worker slot.
type slot struct {
	mu     sync.Mutex
	state  models.SlotState
	cancel context.CancelFunc
}

// Controller serializes start/stop across named worker slots and tracks
// their live status. At most one engine runs per (job_name, worker_id) slot
// at a time.
type Controller struct {
	mu      sync.Mutex
	slots   map[slotKey]*slot
	factory EngineFactory
	engine  *pipeline.Engine
}

// New builds a Controller backed by factory for constructing per-slot
// pipeline specs.
func New(factory EngineFactory) *Controller {
	return &Controller{
		slots:   make(map[slotKey]*slot),
		factory: factory,
		engine:  pipeline.New(),
	}
}

// StartOutcome reports per-slot start results for start_all.
type StartOutcome struct {
	WorkerID    int    `json:"worker_id"`
	ExecutionID string `json:"execution_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Start launches an engine for (jobName, workerID) unless one is already
// live, returning a ConflictError carrying the live execution id if one is.
// Launch is asynchronous: Start returns as
// soon as the slot is claimed.
func (c *Controller) Start(ctx context.Context, jobName string, workerID int) (executionID string, err error) {
	tracer := otel.Tracer("runner/jobcontrol")
	ctx, span := tracer.Start(ctx, "Controller.Start", oteltrace.WithAttributes(
		attribute.String("jobcontrol.job_name", jobName),
		attribute.Int("jobcontrol.worker_id", workerID),
	))
	defer span.End()

	// region-sweep and modulo-crawl are mutually exclusive deployments over
	// the same places table; refuse to run both at once.
	if other, conflict := exclusiveConflict(jobName); conflict {
		for _, running := range c.CurrentJobs() {
			if running.JobName == other {
				return "", apperrors.New(apperrors.ConflictError,
					fmt.Sprintf("job %q cannot start while %q is running", jobName, other))
			}
		}
	}

	key := slotKey{jobName: jobName, workerID: workerID}
	c.mu.Lock()
	s, exists := c.slots[key]
	if !exists {
		s = &slot{state: models.SlotState{JobName: jobName, WorkerID: workerID, Status: models.SlotNotStarted}}
		c.slots[key] = s
	}
	c.mu.Unlock()

	s.mu.Lock()
	if s.state.Status == models.SlotStarting || s.state.Status == models.SlotStarted {
		current := s.state.ExecutionID
		s.mu.Unlock()
		return current, apperrors.New(apperrors.ConflictError, fmt.Sprintf("job %q worker %d already running", jobName, workerID))
	}

	spec, kind, err := c.factory.Build(ctx, jobName, workerID)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	execID := newExecutionID(jobName, workerID)
	runCtx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	s.state = models.SlotState{
		JobName:     jobName,
		WorkerID:    workerID,
		Kind:        kind,
		Status:      models.SlotStarting,
		ExecutionID: execID,
		StartedAt:   &now,
	}
	s.cancel = cancel
	s.mu.Unlock()

	spec.OnChunk = wrapOnChunk(s, spec.OnChunk)
	spec.OnComplete = wrapOnComplete(s, spec.OnComplete)
	spec.OnFail = wrapOnFail(s, spec.OnFail)

	go c.run(runCtx, s, spec)

	span.SetAttributes(attribute.String("jobcontrol.execution_id", execID))
	return execID, nil
}

func (c *Controller) run(ctx context.Context, s *slot, spec pipeline.Spec) {
	l := logging.FromContext(ctx)
	s.mu.Lock()
	s.state.Status = models.SlotStarted
	s.mu.Unlock()

	result, err := c.engine.Run(ctx, spec)
	if err != nil {
		l.Warn().Err(err).Str("job_name", s.state.JobName).Int("worker_id", s.state.WorkerID).Msg("engine run ended with error")
	}
	_ = result
}

func wrapOnChunk(s *slot, inner func(pipeline.ChunkStats)) func(pipeline.ChunkStats) {
	return func(stats pipeline.ChunkStats) {
		s.mu.Lock()
		s.state.Counters = models.EngineCounters(stats.Counters)
		s.mu.Unlock()
		if inner != nil {
			inner(stats)
		}
	}
}

func wrapOnComplete(s *slot, inner func(pipeline.Result)) func(pipeline.Result) {
	return func(result pipeline.Result) {
		now := time.Now().UTC()
		s.mu.Lock()
		s.state.Status = models.SlotCompleted
		s.state.EndedAt = &now
		s.state.Counters = models.EngineCounters(result.Counters)
		s.mu.Unlock()
		if inner != nil {
			inner(result)
		}
	}
}

func wrapOnFail(s *slot, inner func(pipeline.Result, error)) func(pipeline.Result, error) {
	return func(result pipeline.Result, err error) {
		now := time.Now().UTC()
		s.mu.Lock()
		if result.Status == pipeline.StatusStopped {
			s.state.Status = models.SlotStopped
		} else {
			s.state.Status = models.SlotFailed
		}
		s.state.EndedAt = &now
		s.state.Counters = models.EngineCounters(result.Counters)
		if err != nil {
			s.state.LastError = err.Error()
		}
		s.mu.Unlock()
		if inner != nil {
			inner(result, err)
		}
	}
}

// StartAll starts jobName on worker slots 0..workerCount-1 and reports each
// slot's outcome.
func (c *Controller) StartAll(ctx context.Context, jobName string, workerCount int) []StartOutcome {
	outcomes := make([]StartOutcome, 0, workerCount)
	for w := 0; w < workerCount; w++ {
		execID, err := c.Start(ctx, jobName, w)
		outcome := StartOutcome{WorkerID: w, ExecutionID: execID}
		if err != nil {
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Stop sets the cooperative stop flag for (jobName, workerID); the engine
// finishes its current chunk before transitioning to STOPPED.
func (c *Controller) Stop(jobName string, workerID int) error {
	key := slotKey{jobName: jobName, workerID: workerID}
	c.mu.Lock()
	s, exists := c.slots[key]
	c.mu.Unlock()
	if !exists {
		return apperrors.NewNotFoundError(fmt.Sprintf("job %q worker %d", jobName, workerID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Status != models.SlotStarted && s.state.Status != models.SlotStarting {
		return apperrors.New(apperrors.ConflictError, fmt.Sprintf("job %q worker %d is not running", jobName, workerID))
	}
	s.state.Status = models.SlotStopping
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// StopAll sets the cooperative stop flag across every slot for jobName.
func (c *Controller) StopAll(jobName string) []StartOutcome {
	c.mu.Lock()
	var keys []slotKey
	for k := range c.slots {
		if k.jobName == jobName {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	outcomes := make([]StartOutcome, 0, len(keys))
	for _, k := range keys {
		err := c.Stop(k.jobName, k.workerID)
		outcome := StartOutcome{WorkerID: k.workerID}
		if err != nil {
			outcome.Error = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// Status returns the live state of one worker slot.
func (c *Controller) Status(jobName string, workerID int) (models.SlotState, error) {
	key := slotKey{jobName: jobName, workerID: workerID}
	c.mu.Lock()
	s, exists := c.slots[key]
	c.mu.Unlock()
	if !exists {
		return models.SlotState{}, apperrors.NewNotFoundError(fmt.Sprintf("job %q worker %d", jobName, workerID))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// StatusAll returns the live state of every slot for jobName.
func (c *Controller) StatusAll(jobName string) []models.SlotState {
	c.mu.Lock()
	var keys []slotKey
	for k := range c.slots {
		if k.jobName == jobName {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	states := make([]models.SlotState, 0, len(keys))
	for _, k := range keys {
		s, err := c.Status(k.jobName, k.workerID)
		if err == nil {
			states = append(states, s)
		}
	}
	return states
}

// CurrentJobs enumerates every currently-running slot across all job names.
func (c *Controller) CurrentJobs() []models.SlotState {
	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	var running []models.SlotState
	for _, s := range slots {
		s.mu.Lock()
		if s.state.Status == models.SlotStarting || s.state.Status == models.SlotStarted || s.state.Status == models.SlotStopping {
			running = append(running, s.state)
		}
		s.mu.Unlock()
	}
	return running
}

func exclusiveConflict(jobName string) (other string, conflict bool) {
	switch models.EngineKind(jobName) {
	case models.EngineKindRegionSweep:
		return string(models.EngineKindModuloCrawl), true
	case models.EngineKindModuloCrawl:
		return string(models.EngineKindRegionSweep), true
	default:
		return "", false
	}
}

func newExecutionID(jobName string, workerID int) string {
	return fmt.Sprintf("%s-w%d-%d", jobName, workerID, time.Now().UnixNano())
}
