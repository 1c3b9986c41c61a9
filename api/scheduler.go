/*
scheduler.go - Periodic checkpoint catch-up and retention

PURPOSE:
  Folds new transactions into stale checkpoints on a fixed interval so the
  read path stays short, and optionally prunes folded history past the
  retention window.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Runs once immediately on start, then on every tick
  - Each run: CatchUpStale(Batch), then PruneAll(now - Retention) when
    Retention is positive
  - A failed run is logged; the next tick tries again

CONFIGURATION:
  - Interval:  How often to run (default: 1 minute)
  - Batch:     Stale keys caught up per run (default: 500)
  - Retention: Age after which folded history is deleted (0 = keep forever)
  - Enabled:   Whether scheduler is active (default: true)

USAGE:
  scheduler := NewCatchUpScheduler(agg, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CatchUpStale and Prune endpoints (manual runs)
  - stock/aggregator.go: Catch-up and retention
*/
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/stock-engine/stock"
)

// RunResult summarises one scheduler run.
type RunResult struct {
	CaughtUp int
	Pruned   int64
}

// CatchUpScheduler keeps checkpoints fresh in the background.
type CatchUpScheduler struct {
	Aggregator *stock.Aggregator
	Interval   time.Duration
	Batch      int
	Retention  time.Duration
	Enabled    bool
	Logger     zerolog.Logger
	Now        func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCatchUpScheduler creates a new scheduler.
func NewCatchUpScheduler(agg *stock.Aggregator, logger zerolog.Logger) *CatchUpScheduler {
	return &CatchUpScheduler{
		Aggregator: agg,
		Interval:   time.Minute,
		Batch:      defaultCatchUpBatch,
		Enabled:    true,
		Logger:     logger,
		Now:        time.Now,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (s *CatchUpScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info().Msg("catch-up scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stop = make(chan struct{})
	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)

	go s.run(ctx)

	s.Logger.Info().
		Dur("interval", s.Interval).
		Int("batch", s.Batch).
		Dur("retention", s.Retention).
		Msg("catch-up scheduler started")
}

// Stop stops the scheduler and waits for a run in progress.
func (s *CatchUpScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		s.cancel()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info().Msg("catch-up scheduler stopped")
	}
}

func (s *CatchUpScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately on start
	s.runLogged(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.runLogged(ctx)
		case <-s.stop:
			return
		}
	}
}

func (s *CatchUpScheduler) runLogged(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.Logger.Error().Err(err).
			Int("caught_up", res.CaughtUp).
			Int64("pruned", res.Pruned).
			Msg("catch-up run failed")
		return
	}
	s.Logger.Debug().
		Int("caught_up", res.CaughtUp).
		Int64("pruned", res.Pruned).
		Msg("catch-up run completed")
}

// RunOnce performs a single catch-up and retention pass.
func (s *CatchUpScheduler) RunOnce(ctx context.Context) (RunResult, error) {
	var res RunResult

	batch := s.Batch
	if batch <= 0 {
		batch = defaultCatchUpBatch
	}
	n, catchUpErr := s.Aggregator.CatchUpStale(ctx, batch)
	res.CaughtUp = n
	if catchUpErr != nil && ctx.Err() != nil {
		return res, catchUpErr
	}

	if s.Retention <= 0 {
		return res, catchUpErr
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	// A key that failed to catch up fails its own prune too; the rest
	// still go through.
	pruned, pruneErr := s.Aggregator.PruneAll(ctx, now().Add(-s.Retention))
	res.Pruned = pruned
	return res, errors.Join(catchUpErr, pruneErr)
}
