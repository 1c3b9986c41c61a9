package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
)

var schedulerNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedLedger(t *testing.T, mem *store.Memory, at time.Time, loc stock.LocationID, qtys ...int64) {
	t.Helper()
	ledger := stock.NewLedger(mem)
	ledger.Now = func() time.Time { return at }
	for _, q := range qtys {
		_, err := ledger.Append(context.Background(), stock.Transaction{
			EntityID:   "sku-1",
			EntityType: "product_variation",
			LocationID: loc,
			Quantity:   decimal.NewFromInt(q),
			Type:       stock.TxStockIn,
		})
		require.NoError(t, err)
	}
}

// stuckLevel refuses checkpoint writes for one location.
type stuckLevel struct {
	stock.LevelStore
	location stock.LocationID
}

var errDiskFull = errors.New("disk full")

func (s stuckLevel) CompareAndSetLevel(ctx context.Context, expectedLast stock.TransactionID, level stock.LocationLevel) error {
	if level.LocationID == s.location {
		return errDiskFull
	}
	return s.LevelStore.CompareAndSetLevel(ctx, expectedLast, level)
}

func TestScheduler_RunOnceContinuesPastFailingKey(t *testing.T) {
	// GIVEN: old history at two locations, checkpoint writes fail at the first
	mem := store.NewMemory()
	seedLedger(t, mem, schedulerNow.AddDate(0, -3, 0), 1, 4)
	seedLedger(t, mem, schedulerNow.AddDate(0, -3, 0), 2, 5)

	agg := stock.NewAggregator(mem, stuckLevel{LevelStore: mem, location: 1}, nil, zerolog.Nop())
	s := NewCatchUpScheduler(agg, zerolog.Nop())
	s.Retention = 30 * 24 * time.Hour
	s.Now = func() time.Time { return schedulerNow }

	// WHEN
	res, err := s.RunOnce(context.Background())

	// THEN: the healthy location is caught up and pruned, the failure is reported
	require.Error(t, err)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 1, res.CaughtUp)
	assert.Equal(t, int64(1), res.Pruned)
}

func TestScheduler_RunOnceCatchesUpStaleLevels(t *testing.T) {
	// GIVEN: two keys with unfolded transactions
	mem := store.NewMemory()
	seedLedger(t, mem, schedulerNow, 1, 3, 4)
	seedLedger(t, mem, schedulerNow, 2, 5)

	s := NewCatchUpScheduler(stock.NewAggregator(mem, mem, nil, zerolog.Nop()), zerolog.Nop())

	// WHEN: one run happens
	res, err := s.RunOnce(context.Background())

	// THEN: both checkpoints are current and nothing is stale
	require.NoError(t, err)
	assert.Equal(t, 2, res.CaughtUp)
	assert.Zero(t, res.Pruned)

	cp, err := mem.GetLevel(context.Background(), stock.LevelKey{LocationID: 1, EntityID: "sku-1"})
	require.NoError(t, err)
	assert.Equal(t, "7", cp.Qty.String())

	stale, err := mem.StaleLevels(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestScheduler_RunOncePrunesPastRetention(t *testing.T) {
	// GIVEN: old history, a recent transaction, and a 30 day retention
	mem := store.NewMemory()
	seedLedger(t, mem, schedulerNow.AddDate(0, -3, 0), 1, 10, -2)
	seedLedger(t, mem, schedulerNow.Add(-time.Hour), 1, 1)

	agg := stock.NewAggregator(mem, mem, nil, zerolog.Nop())
	s := NewCatchUpScheduler(agg, zerolog.Nop())
	s.Retention = 30 * 24 * time.Hour
	s.Now = func() time.Time { return schedulerNow }

	// WHEN
	res, err := s.RunOnce(context.Background())

	// THEN: only the old rows go, the level stays at 9
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Pruned)

	level, err := agg.LocationStockLevel(context.Background(), stock.LevelKey{LocationID: 1, EntityID: "sku-1"})
	require.NoError(t, err)
	assert.Equal(t, "9", level.String())
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	mem := store.NewMemory()
	seedLedger(t, mem, schedulerNow, 1, 2)

	s := NewCatchUpScheduler(stock.NewAggregator(mem, mem, nil, zerolog.Nop()), zerolog.Nop())
	s.Interval = time.Hour
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		stale, err := mem.StaleLevels(context.Background(), 0)
		return err == nil && len(stale) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	mem := store.NewMemory()
	seedLedger(t, mem, schedulerNow, 1, 2)

	s := NewCatchUpScheduler(stock.NewAggregator(mem, mem, nil, zerolog.Nop()), zerolog.Nop())
	s.Enabled = false
	s.Start()
	s.Stop()

	stale, err := mem.StaleLevels(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}
