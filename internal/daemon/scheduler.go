package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
)

// Scheduler wraps a gocron scheduler. Every job runs in singleton mode: a tick that
// arrives while the previous one is still executing is rescheduled, not stacked.
type Scheduler struct {
	scheduler gocron.Scheduler
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler", slog.Int("jobs", len(s.scheduler.Jobs())))
	s.scheduler.Start()
}

// Stop shuts down the scheduler, waiting for running jobs until ctx is done. A job
// still running then is left to finish on its own.
func (s *Scheduler) Stop(ctx context.Context) error {
	slog.Info("Stopping scheduler")
	done := make(chan error, 1)
	go func() { done <- s.scheduler.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown abandoned: %w", ctx.Err())
	}
}

// ScheduleCron runs fn on the five-field cron expression expr and returns the job ID.
func (s *Scheduler) ScheduleCron(name, expr string, fn func()) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create cron job %q: %w", expr, err)
	}
	slog.Info("Scheduled job", slog.String("name", name), logfields.Schedule(expr))
	return job.ID().String(), nil
}

// ScheduleEvery runs fn every interval and returns the job ID.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, fn func()) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create periodic job: %w", err)
	}
	slog.Info("Scheduled job", slog.String("name", name), logfields.Schedule(interval.String()))
	return job.ID().String(), nil
}
