package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// JobFunc is the unit of work run by the scheduler.
type JobFunc func(ctx context.Context) error

// Scheduler runs the tracker's background jobs: the startup backfill and
// the optional head-follow poll.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    zerolog.Logger
}

func NewScheduler(logger zerolog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		scheduler: s,
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// AddStartupJob runs fn once, as soon as the scheduler starts.
func (s *Scheduler) AddStartupJob(ctx context.Context, name string, fn JobFunc) error {
	_, err := s.scheduler.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartImmediately()),
		gocron.NewTask(s.run, ctx, name, fn),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// AddIntervalJob runs fn every interval. A run that overlaps the next tick
// delays it instead of running concurrently.
func (s *Scheduler) AddIntervalJob(ctx context.Context, name string, every time.Duration, fn JobFunc) error {
	if every <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(s.run, ctx, name, fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info().Str("job", name).Dur("every", every).Msg("Scheduled interval job")
	return nil
}

func (s *Scheduler) Start() {
	s.logger.Info().Int("jobs", len(s.scheduler.Jobs())).Msg("Scheduler started")
	s.scheduler.Start()
}

func (s *Scheduler) Stop() {
	s.logger.Info().Msg("Stopping scheduler")
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down scheduler")
	}
}

func (s *Scheduler) run(ctx context.Context, name string, fn JobFunc) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			s.logger.Info().Str("job", name).Msg("Job interrupted by shutdown")
			return
		}
		s.logger.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("Job failed")
		return
	}
	s.logger.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Job completed")
}
