package pipeline

import (
	"context"
	"log"
	"time"
)

// Scheduler drives detection cycles on a fixed interval. At most one
// cycle runs at a time; the ticker loop only fires the next cycle after
// the previous one returned.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
}

func NewScheduler(p *Pipeline, interval time.Duration) *Scheduler {
	return &Scheduler{pipeline: p, interval: interval}
}

// Run executes a first cycle immediately, then one per interval until
// the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.pipeline.RunCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.pipeline.RunCycle(ctx)
		}
	}
}

// RunOnce executes a single cycle, for the --once flag.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.pipeline.RunCycle(ctx)
}
