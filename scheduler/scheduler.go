// Package scheduler drives the retry queue: it periodically releases stale
// claims, processes due items and prunes old terminal items.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Queue is the interface the scheduler needs from the queue service.
type Queue interface {
	ReleaseStale(ctx context.Context) (int64, error)
	ProcessDue(ctx context.Context, limit int) (int, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// Config holds scheduler configuration.
type Config struct {
	// PollInterval is how often due items are processed.
	PollInterval time.Duration

	// BatchSize caps the items claimed per tick.
	BatchSize int

	// CleanupInterval is how often terminal items are pruned. 0 disables
	// automatic cleanup.
	CleanupInterval time.Duration

	// CleanupRetention is how long terminal items are kept.
	CleanupRetention time.Duration
}

// Scheduler runs the queue's periodic work.
type Scheduler struct {
	queue  Queue
	cfg    Config
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(queue Queue, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &Scheduler{
		queue:  queue,
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins the poll and cleanup loops.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(ctx)
	}()

	if s.cfg.CleanupInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.cleanupLoop(ctx)
		}()
	}
}

// Stop cancels the loops and waits for in-flight work to settle.
func (s *Scheduler) Stop(_ context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// pollLoop recovers stale claims and processes due items on each tick.
func (s *Scheduler) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.queue.ReleaseStale(ctx); err != nil {
				s.logger.ErrorContext(ctx, "release stale claims failed", "error", err)
			}

			n, err := s.queue.ProcessDue(ctx, s.cfg.BatchSize)
			if err != nil {
				s.logger.ErrorContext(ctx, "process due items failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.DebugContext(ctx, "processed due items", "count", n)
			}
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.queue.Cleanup(ctx, s.cfg.CleanupRetention); err != nil {
				s.logger.ErrorContext(ctx, "queue cleanup failed", "error", err)
			}
		}
	}
}
