// Package scheduler wraps robfig/cron to drive the collection cycle on
// a fixed cadence, following the teacher's trader-go/internal/scheduler
// wrapper shape.
package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler wraps a cron.Cron instance with logged job execution.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New constructs a Scheduler with second-level precision (spec's cycle
// interval may be sub-minute).
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob schedules job on the given cron spec, logging any run error
// (errors never escape the cron goroutine).
func (s *Scheduler) AddJob(spec string, job Job) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("scheduled job failed")
		}
	})
}

// RunNow executes job immediately, outside the cron schedule.
func (s *Scheduler) RunNow(job Job) {
	if err := job.Run(); err != nil {
		s.log.Error().Err(err).Str("job", job.Name()).Msg("immediate job run failed")
	}
}

// Start begins the cron scheduler's background goroutine.
func (s *Scheduler) Start() {
	s.log.Info().Msg("scheduler starting")
	s.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}
