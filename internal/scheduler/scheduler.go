// Package scheduler runs periodic background jobs on gocron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/goodeedhub/backend/internal/logging"
)

// JobFunc is a unit of periodic work. The context is cancelled on shutdown.
type JobFunc func(ctx context.Context) error

// Scheduler owns a gocron scheduler.
type Scheduler struct {
	s      gocron.Scheduler
	logger *slog.Logger
}

// New creates a stopped Scheduler.
func New(logger *slog.Logger) (*Scheduler, error) {
	logger = logging.OrDefault(logger)
	s, err := gocron.NewScheduler(gocron.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{s: s, logger: logger}, nil
}

// Every registers fn to run every interval, starting immediately once the
// scheduler is started. A run still in progress when the next is due causes
// that next run to be skipped.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}
	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func(ctx context.Context) {
			started := time.Now()
			if err := fn(ctx); err != nil {
				s.logger.Error("job failed", "job", name, "error", err)
				return
			}
			s.logger.Debug("job finished", "job", name, "duration_ms", time.Since(started).Milliseconds())
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Start begins running registered jobs.
func (s *Scheduler) Start() {
	s.s.Start()
	s.logger.Info("scheduler started", "jobs", len(s.s.Jobs()))
}

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error {
	return s.s.Shutdown()
}
