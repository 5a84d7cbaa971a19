// Package scheduler drives the expiry scan on a recurring timer: once after a
// short initial delay, then at a fixed interval until stopped.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"trainflow/internal/expiry/scan"
)

const (
	DefaultInitialDelay = 10 * time.Second
	DefaultInterval     = 24 * time.Hour
)

type Runner interface {
	Run(ctx context.Context, trigger string) (scan.ScanResult, error)
}

type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
}

type Scheduler struct {
	runner Runner
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(runner Runner, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{runner: runner, cfg: cfg, logger: logger}
}

// Start launches the timer loop. It returns an error if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		s.loop(ctx)
	}(s.done)

	s.logger.InfoContext(ctx, "expiry scheduler started",
		"initial_delay", s.cfg.InitialDelay,
		"interval", s.cfg.Interval,
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight tick to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop exits. Nil before Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scheduler stopped")
			return
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runner.Run(ctx, TriggerSchedule); err != nil {
		if errors.Is(err, ErrScanInProgress) || errors.Is(err, context.Canceled) {
			return
		}
		s.logger.ErrorContext(ctx, "scheduled expiry scan failed", "error", err)
	}
}
