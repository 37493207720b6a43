package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTickInProgress is returned by RunOnce when a tick is already running.
var ErrTickInProgress = errors.New("sync tick already in progress")

// Scheduler drives the reconciler on a fixed interval. At most one tick runs
// at any time: overlapping triggers, manual or timed, are dropped.
type Scheduler struct {
	reconciler *Reconciler
	logger     *slog.Logger

	running  atomic.Bool // a tick is executing
	interval time.Duration

	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	reconfigure chan time.Duration

	// Manual async ticks run under the scheduler's own context so Stop can
	// cancel and wait for them.
	trigCtx    context.Context
	trigCancel context.CancelFunc
	trigWG     sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(reconciler *Reconciler, interval time.Duration, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		reconciler: reconciler,
		logger:     logger,
		interval:   interval,
		trigCtx:    ctx,
		trigCancel: cancel,
	}
}

// Start launches the periodic loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.reconfigure = make(chan time.Duration, 1)

	go s.loop(ctx, s.done, s.reconfigure)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
}

// Stop cancels the loop and any manual tick still in flight, waiting for
// both to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done, s.reconfigure = nil, nil, nil
	s.mu.Unlock()

	s.trigCancel()
	s.trigWG.Wait()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Reconfigure applies a new tick interval. The change takes effect
// immediately; the current tick, if any, is not interrupted.
func (s *Scheduler) Reconfigure(interval time.Duration) {
	s.mu.Lock()
	s.interval = interval
	ch := s.reconfigure
	s.mu.Unlock()

	if ch == nil {
		return
	}
	select {
	case ch <- interval:
	default:
		// A pending reconfigure already carries a newer value soon enough.
	}
}

// RunOnce triggers an immediate tick, independent of the timer. Returns
// ErrTickInProgress when one is already running.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		ticksTotal.WithLabelValues("dropped").Inc()
		return ErrTickInProgress
	}
	defer s.running.Store(false)
	return s.reconciler.RunTick(ctx)
}

// TriggerAsync starts a tick in the background under the scheduler's own
// context. Returns ErrTickInProgress without side effects when one is
// already running.
func (s *Scheduler) TriggerAsync() error {
	if !s.running.CompareAndSwap(false, true) {
		ticksTotal.WithLabelValues("dropped").Inc()
		return ErrTickInProgress
	}
	s.trigWG.Add(1)
	go func() {
		defer s.trigWG.Done()
		defer s.running.Store(false)
		if err := s.reconciler.RunTick(s.trigCtx); err != nil {
			s.logger.Error("manual sync tick failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}, reconfigure chan time.Duration) {
	defer close(done)

	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First tick fires immediately so a fresh start syncs without waiting.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case interval = <-reconfigure:
			ticker.Reset(interval)
			s.logger.Info("scheduler interval changed", slog.Duration("interval", interval))
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		// The previous tick is still running; skip this slot entirely
		// rather than queueing behind it.
		ticksTotal.WithLabelValues("dropped").Inc()
		s.logger.Warn("sync tick skipped, previous tick still running")
		return
	}
	defer s.running.Store(false)

	if err := s.reconciler.RunTick(ctx); err != nil {
		s.logger.Error("sync tick failed", slog.String("error", err.Error()))
	}
}
