// Package scheduler runs a function periodically in a single background
// goroutine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"
)

const MinInterval = time.Second

// Func is one iteration. Its count is logged at debug level.
type Func func(ctx context.Context) (int, error)

type Scheduler struct {
	name     string
	interval time.Duration
	fn       Func

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns an idle scheduler. Intervals below MinInterval are raised to
// it.
func New(name string, interval time.Duration, fn Func) *Scheduler {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Scheduler{name: name, interval: interval, fn: fn}
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start launches the loop. It does nothing if the loop is already running.
// The loop context derives from ctx, so cancelling ctx also ends it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, s.done)
}

// Stop cancels the loop, including any in-flight iteration, and waits for
// it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)

	slog.Info("Scheduler started", "name", s.name, "interval", s.interval)
	for {
		s.iterate(ctx)

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Scheduler stopped", "name", s.name)
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler iteration panicked", "name", s.name, "panic", fmt.Sprint(r))
		}
	}()

	count, err := s.fn(ctx)
	if err != nil {
		slog.Error("Scheduler iteration failed", "name", s.name, "error", err)
		return
	}
	slog.Debug("Scheduler iteration completed", "name", s.name, "count", count)
}
