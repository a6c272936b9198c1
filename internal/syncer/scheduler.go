package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/teemow/mailmirror/internal/logging"
	"github.com/teemow/mailmirror/internal/mailbox"
)

// SchedulerConfig configures periodic background syncs.
type SchedulerConfig struct {
	Interval time.Duration
	// Backoff bounds the wait after consecutive failed rounds.
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	Logger            *slog.Logger
	// OnRound is called after every round with its outcome.
	OnRound func(ctx context.Context, results []Result, err error)
}

// Scheduler runs SyncAll(incremental) on a timer, reconnecting first when
// the controller is disconnected.
type Scheduler struct {
	ctrl    *Controller
	cfg     SchedulerConfig
	backoff *backoff.ExponentialBackOff
	logger  *slog.Logger
}

// NewScheduler creates a scheduler for ctrl.
func NewScheduler(ctrl *Controller, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 10 * time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Minute
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffInitial
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0
	b.Reset()

	return &Scheduler{
		ctrl:    ctrl,
		cfg:     cfg,
		backoff: b,
		logger:  logging.WithComponent(cfg.Logger, "scheduler"),
	}
}

// Run blocks until ctx is done, running one round per tick.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("background sync started", slog.Duration("interval", s.cfg.Interval))
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("background sync stopped")
			return
		case <-timer.C:
			timer.Reset(s.RunOnce(ctx))
		}
	}
}

// RunOnce performs one round and returns the wait before the next.
func (s *Scheduler) RunOnce(ctx context.Context) time.Duration {
	results, err := s.round(ctx)
	if s.cfg.OnRound != nil {
		s.cfg.OnRound(ctx, results, err)
	}
	if ctx.Err() != nil {
		return s.cfg.Interval
	}
	if err != nil {
		wait := s.backoff.NextBackOff()
		s.logger.Warn("background sync failed", logging.Err(err), slog.Duration("retry_in", wait))
		return wait
	}
	s.backoff.Reset()
	return s.cfg.Interval
}

func (s *Scheduler) round(ctx context.Context) ([]Result, error) {
	if !s.ctrl.Connected() {
		if err := s.ctrl.Connect(ctx); err != nil {
			return nil, err
		}
	}
	return s.ctrl.SyncAll(ctx, mailbox.SyncIncremental)
}
