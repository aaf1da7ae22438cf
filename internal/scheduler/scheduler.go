package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Job is one scheduled unit of work. Its error is logged and does not stop the schedule.
type Job func(ctx context.Context) error

// Scheduler runs a job immediately and then on every tick until its context is done.
type Scheduler struct {
	job  Job
	log  *slog.Logger
	tick time.Duration
}

// New creates a Scheduler that runs job every interval.
func New(job Job, interval time.Duration, log *slog.Logger) *Scheduler {
	return &Scheduler{
		job:  job,
		log:  log,
		tick: interval,
	}
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.tick)
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
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.log.Info("scheduled run started")
	if err := s.job(ctx); err != nil {
		s.log.Error("scheduled run failed", "error", err, "duration", time.Since(start))
		return
	}
	s.log.Info("scheduled run finished", "duration", time.Since(start), "next_in", s.tick)
}
