package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jamie-anson/placeflow-ingestor/internal/logging"
)

// Supervisor runs the background visibility-timeout recovery and retry
// promotion passes: it periodically scans update:inflight:* for expired
// entries and update:retry for ready ones, re-enqueueing both onto
// update:pending.
type Supervisor struct {
	queue    *UpdateQueueImpl
	interval time.Duration
}

// NewSupervisor builds a Supervisor that sweeps every interval.
func NewSupervisor(queue *UpdateQueueImpl, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Supervisor{queue: queue, interval: interval}
}

// Run blocks, sweeping until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	l := logging.FromContext(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	tracer := otel.Tracer("runner/queue/supervisor")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, span := tracer.Start(ctx, "Supervisor.Sweep")
			recovered, err := s.queue.RecoverVisibilityTimeouts(sweepCtx)
			if err != nil {
				l.Warn().Err(err).Msg("visibility timeout sweep failed")
			}
			promoted, err := s.queue.PromoteRetries(sweepCtx)
			if err != nil {
				l.Warn().Err(err).Msg("retry promotion sweep failed")
			}
			if recovered > 0 || promoted > 0 {
				l.Info().Int("recovered", recovered).Int("promoted", promoted).Msg("queue supervisor swept")
			}
			span.End()
		}
	}
}
