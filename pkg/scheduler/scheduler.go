// Package scheduler runs the periodic sweeps that fire due Wait timers and
// time out executions past their deadline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const DefaultInterval = time.Second

var ErrInvalidInterval = errors.New("sweep interval must be positive")

// Sweeper is implemented by the workflow engine.
type Sweeper interface {
	FireTimers(ctx context.Context) (int, error)
	ExpireOverdue(ctx context.Context) (int, error)
}

type Scheduler struct {
	Interval time.Duration

	sweeper Sweeper
	logger  *slog.Logger
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(sweeper Sweeper, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	return &Scheduler{
		Interval: interval,
		sweeper:  sweeper,
		logger:   logger.With("module", "scheduler", "interval", interval),
	}, nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler")

	s.ctx, s.cancel = context.WithCancel(ctx)

	cronLogger := cronLogger{logger: s.logger}
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	spec := "@every " + s.Interval.String()

	for name, job := range map[string]func(){
		"fire_timers":    s.fireTimers,
		"expire_overdue": s.expireOverdue,
	} {
		id, err := s.cron.AddFunc(spec, job)
		if err != nil {
			s.cancel()

			return fmt.Errorf("failed to add %s job: %w", name, err)
		}

		s.logger.DebugContext(ctx, "Added cron job", "job", name, "id", id)
	}

	s.cron.Start()

	return nil
}

// Stop waits for running sweeps to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.InfoContext(ctx, "Stopping scheduler")

	if s.cron == nil {
		return
	}

	s.cancel()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep runs both sweeps once.
func (s *Scheduler) Sweep(ctx context.Context) error {
	fired, err := s.sweeper.FireTimers(ctx)
	if err != nil {
		return err
	}

	expired, err := s.sweeper.ExpireOverdue(ctx)
	if err != nil {
		return err
	}

	if fired > 0 || expired > 0 {
		s.logger.InfoContext(ctx, "Swept executions", "fired", fired, "expired", expired)
	}

	return nil
}

func (s *Scheduler) fireTimers() {
	fired, err := s.sweeper.FireTimers(s.ctx)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "Failed to fire timers", "error", err)

		return
	}

	if fired > 0 {
		s.logger.InfoContext(s.ctx, "Fired timers", "count", fired)
	}
}

func (s *Scheduler) expireOverdue() {
	expired, err := s.sweeper.ExpireOverdue(s.ctx)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "Failed to expire executions", "error", err)

		return
	}

	if expired > 0 {
		s.logger.InfoContext(s.ctx, "Timed out executions", "count", expired)
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
