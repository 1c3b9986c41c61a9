/*
aggregator.go - Stock levels from checkpoints plus deltas

READ PATH (TotalStockLevel):
  For each location:
    level = checkpoint.qty + sum(transactions after checkpoint.last, through latest)
  The read path never writes the checkpoint. It re-derives the delta on
  every call, so a stale checkpoint costs time, never correctness.
  The checkpoint is read again after the sum; if it moved (a concurrent
  Prune may have folded and deleted the rows being summed) the read is
  retried.

CATCH-UP (UpdateLocationLevel):
  1. Lock the key (Locker, optional)
  2. Read the checkpoint
  3. latest = newest transaction id for the key
  4. delta  = sum(after checkpoint.last, through latest)
  5. CompareAndSetLevel(expected = checkpoint.last, qty + delta, latest)
  6. On ErrConcurrentModification, go back to 2 (bounded)

  Re-running with no new transactions writes the same checkpoint back.
  Running after an arbitrarily long gap folds everything in one step.

RETENTION (Prune):
  Catch up first, then delete only transactions already folded into the
  checkpoint. Anything newer is refused with ErrRetentionViolation.

EXAMPLE:
  Location A: checkpoint 5 @ tx 10, then +2 (tx 11), -1 (tx 12)
  Location B: checkpoint 3 @ tx 20, nothing newer
  TotalStockLevel([A, B]) = (5 + 2 - 1) + 3 = 9
*/
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultCatchUpRetries = 8

// Aggregator computes stock levels and maintains checkpoints.
type Aggregator struct {
	Transactions TransactionStore
	Levels       LevelStore

	// Locker is optional. Without it concurrent catch-ups fall back to
	// compare-and-set retries alone.
	Locker Locker

	// MaxRetries bounds compare-and-set attempts per catch-up.
	MaxRetries int

	Logger zerolog.Logger
}

func NewAggregator(txs TransactionStore, levels LevelStore, locker Locker, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		Transactions: txs,
		Levels:       levels,
		Locker:       locker,
		MaxRetries:   defaultCatchUpRetries,
		Logger:       logger,
	}
}

// =============================================================================
// READ PATH
// =============================================================================

// TotalStockLevel sums the level of entityID over locations.
func (a *Aggregator) TotalStockLevel(ctx context.Context, entityID EntityID, locations []LocationID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, loc := range locations {
		level, err := a.LocationStockLevel(ctx, LevelKey{LocationID: loc, EntityID: entityID})
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(level)
	}
	return total, nil
}

// LocationStockLevel is the authoritative level for one key.
func (a *Aggregator) LocationStockLevel(ctx context.Context, key LevelKey) (decimal.Decimal, error) {
	retries := a.retries()
	for attempt := 0; attempt < retries; attempt++ {
		cp, level, err := a.readOnce(ctx, key)
		if err != nil {
			return decimal.Zero, err
		}

		// Checkpoints only move forward, and retention only deletes rows
		// folded into the checkpoint. An unchanged checkpoint means every
		// row summed above was still there.
		now, err := a.Levels.GetLevel(ctx, key)
		if err != nil {
			return decimal.Zero, WrapStorage("get level", err)
		}
		if now.LastTransactionID == cp.LastTransactionID {
			return level, nil
		}
		a.Logger.Debug().
			Str("key", key.String()).
			Int("attempt", attempt+1).
			Msg("checkpoint moved during read, retrying")
	}
	return decimal.Zero, fmt.Errorf("%w: checkpoint %s kept moving during read", ErrConcurrentModification, key)
}

func (a *Aggregator) readOnce(ctx context.Context, key LevelKey) (LocationLevel, decimal.Decimal, error) {
	cp, err := a.Levels.GetLevel(ctx, key)
	if err != nil {
		return LocationLevel{}, decimal.Zero, WrapStorage("get level", err)
	}
	latest, err := a.Transactions.LatestTransactionID(ctx, key)
	if err != nil {
		return LocationLevel{}, decimal.Zero, WrapStorage("latest transaction id", err)
	}
	if latest <= cp.LastTransactionID {
		return cp, cp.Qty, nil
	}
	delta, err := a.Transactions.SumInRange(ctx, key, cp.LastTransactionID, latest)
	if err != nil {
		return LocationLevel{}, decimal.Zero, WrapStorage("sum in range", err)
	}
	return cp, cp.Qty.Add(delta), nil
}

// IsInStock reports whether the total level over locations is positive.
func (a *Aggregator) IsInStock(ctx context.Context, entityID EntityID, locations []LocationID) (bool, error) {
	level, err := a.TotalStockLevel(ctx, entityID, locations)
	if err != nil {
		return false, err
	}
	return level.IsPositive(), nil
}

// =============================================================================
// CATCH-UP
// =============================================================================

// UpdateLocationLevel folds every transaction newer than the checkpoint
// into it and returns the checkpoint as written.
func (a *Aggregator) UpdateLocationLevel(ctx context.Context, key LevelKey) (LocationLevel, error) {
	if a.Locker != nil {
		unlock, err := a.Locker.Lock(ctx, "stock:level:"+key.String())
		if err != nil {
			return LocationLevel{}, fmt.Errorf("lock %s: %w", key, err)
		}
		defer unlock()
	}

	retries := a.retries()

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		level, err := a.catchUpOnce(ctx, key)
		if err == nil {
			return level, nil
		}
		if !isConflict(err) {
			return LocationLevel{}, err
		}
		lastErr = err
		a.Logger.Debug().
			Str("key", key.String()).
			Int("attempt", attempt+1).
			Msg("checkpoint changed during catch-up, retrying")
	}
	return LocationLevel{}, lastErr
}

func (a *Aggregator) catchUpOnce(ctx context.Context, key LevelKey) (LocationLevel, error) {
	cp, err := a.Levels.GetLevel(ctx, key)
	if err != nil {
		return LocationLevel{}, WrapStorage("get level", err)
	}
	latest, err := a.Transactions.LatestTransactionID(ctx, key)
	if err != nil {
		return LocationLevel{}, WrapStorage("latest transaction id", err)
	}

	next := LocationLevel{
		LocationID:        key.LocationID,
		EntityID:          key.EntityID,
		Qty:               cp.Qty,
		LastTransactionID: cp.LastTransactionID,
	}
	// latest < checkpoint only happens when history past the checkpoint
	// was removed administratively; keep the checkpoint as is.
	if latest > cp.LastTransactionID {
		delta, err := a.Transactions.SumInRange(ctx, key, cp.LastTransactionID, latest)
		if err != nil {
			return LocationLevel{}, WrapStorage("sum in range", err)
		}
		next.Qty = cp.Qty.Add(delta)
		next.LastTransactionID = latest
	}

	if err := a.Levels.CompareAndSetLevel(ctx, cp.LastTransactionID, next); err != nil {
		return LocationLevel{}, WrapStorage("compare and set level", err)
	}
	return next, nil
}

// CatchUpStale runs UpdateLocationLevel for up to limit stale keys and
// returns how many were caught up. A failing key is logged and skipped;
// the failures come back joined.
func (a *Aggregator) CatchUpStale(ctx context.Context, limit int) (int, error) {
	keys, err := a.Levels.StaleLevels(ctx, limit)
	if err != nil {
		return 0, WrapStorage("stale levels", err)
	}
	done := 0
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return done, errors.Join(append(errs, err)...)
		}
		if _, err := a.UpdateLocationLevel(ctx, key); err != nil {
			a.Logger.Warn().Err(err).Str("key", key.String()).Msg("catch-up failed")
			errs = append(errs, fmt.Errorf("catch up %s: %w", key, err))
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// =============================================================================
// RETENTION
// =============================================================================

// Prune deletes transactions for key that are older than cutoff and
// already folded into the checkpoint. Levels are unchanged afterwards.
func (a *Aggregator) Prune(ctx context.Context, key LevelKey, cutoff time.Time) (int64, error) {
	cp, err := a.UpdateLocationLevel(ctx, key)
	if err != nil {
		return 0, err
	}
	if cp.LastTransactionID == 0 {
		return 0, nil
	}
	n, err := a.Transactions.DeleteThrough(ctx, key, cp.LastTransactionID, cutoff)
	if err != nil {
		return 0, WrapStorage("delete through", err)
	}
	if n > 0 {
		a.Logger.Info().
			Str("key", key.String()).
			Int64("deleted", n).
			Int64("through", int64(cp.LastTransactionID)).
			Time("cutoff", cutoff).
			Msg("pruned folded transactions")
	}
	return n, nil
}

// PruneAll applies Prune to every checkpointed key. Like CatchUpStale it
// skips failing keys and returns their errors joined.
func (a *Aggregator) PruneAll(ctx context.Context, cutoff time.Time) (int64, error) {
	levels, err := a.Levels.ListLevels(ctx)
	if err != nil {
		return 0, WrapStorage("list levels", err)
	}
	var (
		total int64
		errs  []error
	)
	for _, l := range levels {
		if err := ctx.Err(); err != nil {
			return total, errors.Join(append(errs, err)...)
		}
		n, err := a.Prune(ctx, l.Key(), cutoff)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", l.Key().String()).Msg("prune failed")
			errs = append(errs, fmt.Errorf("prune %s: %w", l.Key(), err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

func (a *Aggregator) retries() int {
	if a.MaxRetries <= 0 {
		return defaultCatchUpRetries
	}
	return a.MaxRetries
}

func isConflict(err error) bool {
	return err != nil && errors.Is(err, ErrConcurrentModification)
}
