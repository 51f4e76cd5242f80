package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per evaluation cycle.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval       time.Duration
	Jitter         time.Duration
	StartupDelay   time.Duration
	RunImmediately bool
	// Rand returns a value in [0, n). Defaults to math/rand.
	Rand func(n int64) int64
}

// Scheduler drives the periodic evaluation loop.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.Rand == nil {
		opts.Rand = rand.Int64N
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick every interval plus a random jitter until ctx is cancelled.
// A cycle that overruns the interval delays the next one rather than overlapping it.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunImmediately {
		s.execute(ctx, tick)
	}

	for {
		delay := s.NextDelay()
		s.logger.Debug().Dur("delay", delay).Msg("waiting for next cycle")
		if err := s.wait(ctx, delay); err != nil {
			return err
		}
		s.execute(ctx, tick)
	}
}

// NextDelay returns the interval plus a fresh jitter sample.
func (s *Scheduler) NextDelay() time.Duration {
	if s.opts.Jitter <= 0 {
		return s.opts.Interval
	}
	return s.opts.Interval + time.Duration(s.opts.Rand(int64(s.opts.Jitter)+1))
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc) {
	now := time.Now().UTC()
	s.logger.Info().Time("tick", now).Msg("executing scheduled cycle")
	if err := tick(ctx, now); err != nil {
		s.logger.Error().Err(err).Time("tick", now).Msg("cycle execution failed")
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
