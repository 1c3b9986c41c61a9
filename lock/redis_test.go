package lock_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/lock"
)

// unreachable points at a port nothing listens on.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

// running starts an in-process Redis for one test.
func running(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedis_ExcludesSecondHolderUntilReleased(t *testing.T) {
	// GIVEN: a lock held on one level key
	// WHEN: a second caller asks for the same key, and for another key
	// THEN: the same key is refused, the other key is free, and release
	//       makes the first key available again

	ctx := context.Background()
	mr, client := running(t)
	l := lock.NewRedis(client, 5*time.Second, zerolog.Nop())
	l.BestEffort = false
	l.Retries = 0

	const k = "stock:level:1/sku-1"
	unlock, err := l.Lock(ctx, k)
	require.NoError(t, err)
	assert.True(t, mr.Exists(l.Prefix+k))

	_, err = l.Lock(ctx, k)
	assert.ErrorIs(t, err, lock.ErrNotObtained)

	other, err := l.Lock(ctx, "stock:level:2/sku-1")
	require.NoError(t, err)
	other()

	unlock()
	assert.False(t, mr.Exists(l.Prefix+k))

	again, err := l.Lock(ctx, k)
	require.NoError(t, err)
	again()
}

func TestRedis_WaiterObtainsAfterRelease(t *testing.T) {
	ctx := context.Background()
	_, client := running(t)
	l := lock.NewRedis(client, 5*time.Second, zerolog.Nop())
	l.BestEffort = false
	l.Backoff = 10 * time.Millisecond
	l.Retries = 100

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(released)
		unlock()
	}()

	second, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	second()

	select {
	case <-released:
	default:
		t.Fatal("second holder obtained the lock before the first released it")
	}
}

func TestRedis_ExpiredLockCanBeTaken(t *testing.T) {
	ctx := context.Background()
	mr, client := running(t)
	l := lock.NewRedis(client, time.Second, zerolog.Nop())
	l.BestEffort = false
	l.Retries = 0

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	defer unlock()

	mr.FastForward(2 * time.Second)

	next, err := l.Lock(ctx, "k")
	require.NoError(t, err)
	next()
}

func TestRedis_BestEffortProceedsWhenRedisIsDown(t *testing.T) {
	var buf bytes.Buffer
	l := lock.NewRedis(unreachable(t), time.Second, zerolog.New(&buf))
	l.Retries = 0

	unlock, err := l.Lock(context.Background(), "stock:level:1/sku-1")
	require.NoError(t, err)
	require.NotNil(t, unlock)
	unlock()

	assert.Contains(t, buf.String(), "proceeding without it")
}

func TestRedis_StrictModeReturnsError(t *testing.T) {
	l := lock.NewRedis(unreachable(t), time.Second, zerolog.Nop())
	l.Retries = 0
	l.BestEffort = false

	_, err := l.Lock(context.Background(), "stock:level:1/sku-1")
	assert.Error(t, err)
}

func TestRedis_CancelledContext(t *testing.T) {
	l := lock.NewRedis(unreachable(t), time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
