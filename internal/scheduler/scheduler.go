// Package scheduler runs the pipeline's periodic background loops:
// usage sync, challenge stats sync and reward settlement. The loops are
// independent of each other and each one survives its own failures.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one periodic task. Run executes a single iteration; an error
// (or panic) in one iteration is logged and the next tick still fires.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs. Each job runs once immediately
// on start, then on its own ticker. Iterations of one job are strictly
// sequential; cancellation is observed at iteration boundaries.
type Scheduler struct {
	jobs []Job
	wg   sync.WaitGroup
}

// New creates a scheduler for the given jobs.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start launches one goroutine per job. The loops stop when ctx is
// cancelled; Wait blocks until they have all exited.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			s.runLoop(ctx, j)
		}(job)
	}
}

// Wait blocks until all job loops have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, j Job) {
	log.Info().
		Str("job", j.Name).
		Dur("interval", j.Interval).
		Msg("Scheduler loop started")

	s.runOnce(ctx, j)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("job", j.Name).Msg("Scheduler loop stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

// runOnce executes a single iteration, containing both errors and
// panics so the loop outlives any one bad cycle.
func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job", j.Name).
				Interface("panic", r).
				Msg("Scheduler iteration panicked")
		}
	}()

	start := time.Now()
	if err := j.Run(ctx); err != nil {
		log.Error().
			Err(err).
			Str("job", j.Name).
			Msg("Scheduler iteration failed")
		return
	}

	log.Debug().
		Str("job", j.Name).
		Dur("elapsed", time.Since(start)).
		Msg("Scheduler iteration completed")
}
