package usecase

import (
	"context"
	"log/slog"
	"time"

	"KnowledgeDigest/internal/logging"
	"KnowledgeDigest/internal/ports"
)

// Scheduler wires the periodic driver with the runner and the optional retention sweep.
type Scheduler struct {
	driver ports.Scheduler
	runner *Runner
	sweep  *RetentionSweep
	logger *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs. sweep may be nil.
func NewScheduler(driver ports.Scheduler, runner *Runner, sweep *RetentionSweep, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{driver: driver, runner: runner, sweep: sweep, logger: logger}
}

// Start registers the run with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.runner == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Debug("scheduled run triggered", "at", trigger)
		if _, err := s.runner.Run(ctx); err != nil {
			s.logger.Error("scheduled run", "error", err)
		}
		if s.sweep == nil {
			return
		}
		if _, err := s.sweep.Sweep(ctx); err != nil {
			s.logger.Error("scheduled retention sweep", "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
