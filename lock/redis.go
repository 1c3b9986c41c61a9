/*
Package lock provides a Redis-backed stock.Locker so checkpoint catch-up
is serialised across processes sharing one database.

BEST EFFORT:
  With BestEffort set, a lock that cannot be obtained (contention past the
  retry budget, Redis down) is logged and the caller proceeds unlocked.
  The checkpoint compare-and-set still prevents lost updates; the lock
  only keeps concurrent catch-ups from retrying against each other.
*/
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/warp/stock-engine/stock"
)

// ErrNotObtained is returned when the lock is held elsewhere and
// BestEffort is off.
var ErrNotObtained = errors.New("lock not obtained")

const (
	DefaultTTL     = 10 * time.Second
	defaultBackoff = 50 * time.Millisecond
	defaultRetries = 20
)

// Redis implements stock.Locker with bsm/redislock.
type Redis struct {
	locker *redislock.Client

	TTL        time.Duration
	Backoff    time.Duration
	Retries    int
	BestEffort bool
	Prefix     string

	Logger zerolog.Logger
}

var _ stock.Locker = (*Redis)(nil)

// NewRedis wraps an existing go-redis client.
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{
		locker:     redislock.New(client),
		TTL:        ttl,
		Backoff:    defaultBackoff,
		Retries:    defaultRetries,
		BestEffort: true,
		Prefix:     "lock:",
		Logger:     logger,
	}
}

// Lock obtains key, retrying with linear backoff.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.Backoff), r.Retries),
	}

	l, err := r.locker.Obtain(ctx, r.Prefix+key, r.TTL, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !r.BestEffort {
			if errors.Is(err, redislock.ErrNotObtained) {
				return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
			}
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		r.Logger.Warn().Err(err).Str("key", key).Msg("could not obtain redis lock; proceeding without it")
		return func() {}, nil
	}

	return func() {
		// Release with a fresh context: the caller's may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.Logger.Warn().Err(err).Str("key", key).Msg("failed to release redis lock")
		}
	}, nil
}
