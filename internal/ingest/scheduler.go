package ingest

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is how often the scheduler checks for due sources.
const DefaultInterval = 15 * time.Minute

// Scheduler periodically runs the ingestion worker against due sources.
type Scheduler struct {
	worker   *Worker
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler creates an ingestion scheduler with the default interval.
func NewScheduler(worker *Worker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		worker:   worker,
		interval: DefaultInterval,
		logger:   logger,
	}
}

// Run fires one cycle immediately, then on every tick, and blocks until ctx
// is canceled. Callers must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.worker.Run(ctx, time.Now())
	if err != nil {
		s.logger.Warn("ingestion cycle failed", "error", err)
		return
	}
	if stats.Claimed > 0 {
		s.logger.Debug("ingestion cycle done",
			"claimed", stats.Claimed, "failed", stats.Failed, "chunks", stats.Chunks)
	}
}
