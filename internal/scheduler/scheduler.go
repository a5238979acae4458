// Package scheduler drives the monitor cycle on a fixed period and makes
// sure at most one cycle runs at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/stockbot/internal/metrics"
	"github.com/JakeFAU/stockbot/internal/monitor"
)

// DefaultInitialDelay is the wait before the first run after Start.
const DefaultInitialDelay = 10 * time.Second

// Runner executes one monitor cycle.
type Runner interface {
	Run(ctx context.Context) monitor.Summary
}

// Config controls timing.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

// Scheduler is idle or running. RunCheck and ForceCheck skip, never queue,
// when a cycle is already in progress.
type Scheduler struct {
	runner Runner
	cfg    Config
	logger *zap.Logger

	running atomic.Bool

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	loop    sync.WaitGroup
	baseCtx context.Context
	current chan struct{}
}

// New validates cfg and returns an idle Scheduler.
func New(runner Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires a runner")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive, got %s", cfg.Interval)
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{runner: runner, cfg: cfg, logger: logger, baseCtx: context.Background()}, nil
}

// Start arms the periodic timer and the delayed initial run. Cycles run
// detached from ctx's cancellation so that Stop never interrupts one.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	s.baseCtx = context.WithoutCancel(ctx)

	s.loop.Add(1)
	go s.tick(s.baseCtx, s.stop)
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("initial_delay", s.cfg.InitialDelay),
	)
	return nil
}

func (s *Scheduler) tick(ctx context.Context, stop <-chan struct{}) {
	defer s.loop.Done()
	initial := time.NewTimer(s.cfg.InitialDelay)
	defer initial.Stop()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-initial.C:
			s.dispatch(ctx)
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// dispatch starts a timer-driven cycle in the background so the loop stays
// responsive to stop while the cycle runs.
func (s *Scheduler) dispatch(ctx context.Context) bool {
	done, ok := s.acquire()
	if !ok {
		return false
	}
	go s.execute(ctx, done)
	return true
}

// Running reports whether a cycle is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunCheck runs one cycle synchronously. It returns false, without running,
// when another cycle holds the guard.
func (s *Scheduler) RunCheck(ctx context.Context) bool {
	done, ok := s.acquire()
	if !ok {
		return false
	}
	s.execute(ctx, done)
	return true
}

// ForceCheck starts a cycle in the background and returns immediately. It
// reports whether a cycle was started.
func (s *Scheduler) ForceCheck() bool {
	done, ok := s.acquire()
	if !ok {
		return false
	}
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	go s.execute(ctx, done)
	s.logger.Info("manual check triggered")
	return true
}

// acquire takes the single-flight guard. The returned channel is closed when
// the cycle it guards finishes.
func (s *Scheduler) acquire() (chan struct{}, bool) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.ObserveCycleSkip()
		s.logger.Info("check already running, skipping")
		return nil, false
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.current = done
	s.mu.Unlock()
	return done, true
}

func (s *Scheduler) execute(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("check cycle panicked", zap.Any("panic", rec))
		}
	}()
	s.runner.Run(ctx)
}

// Stop disarms the timers and waits, up to ctx's deadline, for an in-flight
// cycle to finish. It does not cancel the cycle.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		close(s.stop)
		s.started = false
	}
	s.mu.Unlock()
	s.loop.Wait()

	s.mu.Lock()
	done := s.current
	s.mu.Unlock()
	if done == nil {
		s.logger.Info("scheduler stopped")
		return nil
	}
	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight cycle: %w", ctx.Err())
	}
}
