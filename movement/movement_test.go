package movement_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/movement"
	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/service/alwaysinstock"
	"github.com/warp/stock-engine/service/local"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type env struct {
	mem  *store.Memory
	agg  *stock.Aggregator
	ops  *movement.Operations
	locA stock.LocationID
	locB stock.LocationID
}

var sku = stock.Entity{ID: "sku-1", Type: "product_variation"}

func n(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newEnv(t *testing.T, withLocations bool) *env {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	agg := stock.NewAggregator(mem, mem, stock.NewKeyedMutex(), zerolog.Nop())
	svc := local.New(stock.NewLedger(mem), agg, local.NewLocationCache(mem), local.Options{SyncCatchUp: true})

	reg := service.NewRegistry(service.ResolutionConfig{
		DefaultService: local.ServiceID,
		Overrides:      map[string]string{"gift_card": alwaysinstock.ServiceID},
	}, zerolog.Nop())
	reg.MustRegister(svc)
	reg.MustRegister(alwaysinstock.New(decimal.Zero))

	ops := movement.New(reg, zerolog.Nop())
	ops.NewMoveID = func() string { return "move-fixed" }

	e := &env{mem: mem, agg: agg, ops: ops}
	if withLocations {
		a, err := mem.SaveLocation(ctx, stock.Location{Name: "A", Active: true})
		require.NoError(t, err)
		b, err := mem.SaveLocation(ctx, stock.Location{Name: "B", Active: true})
		require.NoError(t, err)
		e.locA, e.locB = a.ID, b.ID
	}
	return e
}

func (e *env) level(t *testing.T, locs ...stock.LocationID) decimal.Decimal {
	t.Helper()
	l, err := e.agg.TotalStockLevel(context.Background(), sku.ID, locs)
	require.NoError(t, err)
	return l
}

func (e *env) count(t *testing.T) int {
	t.Helper()
	txs, err := e.mem.ListTransactions(context.Background(), stock.TransactionFilter{})
	require.NoError(t, err)
	return len(txs)
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestScenario_BasicLifecycle(t *testing.T) {
	// GIVEN: an item with no transactions
	// WHEN: receiving 10, selling 4 and returning 2 at location 1
	// THEN: the level goes 0 -> 10 -> 6 -> 8

	ctx := context.Background()
	e := newEnv(t, true)

	assert.True(t, e.level(t, e.locA).IsZero())

	_, err := e.ops.Receive(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(10)})
	require.NoError(t, err)
	assert.True(t, e.level(t, e.locA).Equal(n(10)))

	sale, err := e.ops.Sell(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(4), OrderID: "7", UserID: "3"})
	require.NoError(t, err)
	assert.True(t, e.level(t, e.locA).Equal(n(6)))
	assert.Equal(t, stock.TxSale, sale.Type)
	assert.True(t, sale.Quantity.Equal(n(-4)))
	assert.Equal(t, "7", sale.RelatedOrderID)
	assert.Equal(t, "3", sale.RelatedUserID)

	_, err = e.ops.Return(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(2), OrderID: "7", UserID: "3"})
	require.NoError(t, err)
	assert.True(t, e.level(t, e.locA).Equal(n(8)))
}

func TestSignCorrectness(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.ops.Receive(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(20)})
	require.NoError(t, err)

	tests := []struct {
		name  string
		op    func(context.Context, movement.Request) (stock.Transaction, error)
		delta int64
		typ   stock.TransactionType
	}{
		{"sell", e.ops.Sell, -5, stock.TxSale},
		{"receive", e.ops.Receive, 5, stock.TxNewStock},
		{"return", e.ops.Return, 5, stock.TxReturn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := e.level(t, e.locA)
			tx, err := tt.op(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(5)})
			require.NoError(t, err)
			assert.Equal(t, tt.typ, tx.Type)
			assert.True(t, e.level(t, e.locA).Sub(before).Equal(n(tt.delta)))
		})
	}
}

func TestNonPositiveMagnitudeIsRejected(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	for _, q := range []decimal.Decimal{n(0), n(-3)} {
		_, err := e.ops.Sell(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: q})
		assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
		assert.True(t, stock.IsClientError(err))

		_, err = e.ops.Move(ctx, movement.MoveRequest{Entity: sku, FromLocationID: e.locA, ToLocationID: e.locB, Quantity: q})
		assert.ErrorIs(t, err, stock.ErrInvalidQuantity)
	}
	assert.Zero(t, e.count(t))
}

func TestOversellIsRecorded(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	_, err := e.ops.Sell(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(3)})
	require.NoError(t, err)
	assert.True(t, e.level(t, e.locA).Equal(n(-3)))
}

// =============================================================================
// LOCATION RESOLUTION
// =============================================================================

func TestSell_ResolvesLocationWhenOmitted(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	tx, err := e.ops.Sell(ctx, movement.Request{Entity: sku, Quantity: n(1)})
	require.NoError(t, err)
	assert.Equal(t, e.locA, tx.LocationID)
}

func TestSell_NoLocationIsConfigurationErrorAndWritesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)

	_, err := e.ops.Sell(ctx, movement.Request{Entity: sku, Quantity: n(1)})

	var cfgErr *stock.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, sku, cfgErr.Entity)
	assert.Zero(t, e.count(t))
}

func TestAlwaysInStockRecordsNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, false)
	card := stock.Entity{ID: "card-50", Type: "gift_card"}

	tx, err := e.ops.Sell(ctx, movement.Request{Entity: card, Quantity: n(1)})
	require.NoError(t, err)
	assert.Zero(t, tx.ID)
	assert.Zero(t, e.count(t))
}

// =============================================================================
// MOVE
// =============================================================================

func TestMove_Conservation(t *testing.T) {
	// GIVEN: 10 units at A
	// WHEN: moving 7 from A to B
	// THEN: A loses 7, B gains 7, the total is unchanged and the legs are linked

	ctx := context.Background()
	e := newEnv(t, true)
	_, err := e.ops.Receive(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(10)})
	require.NoError(t, err)
	totalBefore := e.level(t, e.locA, e.locB)

	res, err := e.ops.Move(ctx, movement.MoveRequest{
		Entity: sku, FromLocationID: e.locA, ToLocationID: e.locB,
		FromZone: "A-1", ToZone: "B-9", Quantity: n(7), Note: "rebalance",
	})
	require.NoError(t, err)

	assert.True(t, e.level(t, e.locA).Equal(n(3)))
	assert.True(t, e.level(t, e.locB).Equal(n(7)))
	assert.True(t, e.level(t, e.locA, e.locB).Equal(totalBefore))

	assert.Equal(t, res.From.ID, res.To.RelatedTransactionID)
	assert.Equal(t, stock.TxMovementFrom, res.From.Type)
	assert.Equal(t, stock.TxMovementTo, res.To.Type)
	assert.Equal(t, "B-9", res.To.Zone)
	assert.Equal(t, "move-fixed", res.MoveID)
	assert.Equal(t, "move-fixed", res.To.Metadata[stock.MetaMoveID])
	assert.Equal(t, "rebalance", res.From.Metadata[stock.MetaNote])
	assert.Equal(t, "rebalance", res.To.Metadata[stock.MetaNote])
}

func TestMove_ReplayWithIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)
	req := movement.MoveRequest{Entity: sku, FromLocationID: e.locA, ToLocationID: e.locB, Quantity: n(2), IdempotencyKey: "transfer-1"}

	first, err := e.ops.Move(ctx, req)
	require.NoError(t, err)

	e.ops.NewMoveID = func() string { return "move-second" }
	again, err := e.ops.Move(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.From.ID, again.From.ID)
	assert.Equal(t, first.To.ID, again.To.ID)
	assert.Equal(t, "move-fixed", again.MoveID)
	assert.Equal(t, 2, e.count(t))
}

func TestMove_InvalidEndpoints(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	_, err := e.ops.Move(ctx, movement.MoveRequest{Entity: sku, FromLocationID: e.locA, ToLocationID: e.locA, Quantity: n(1)})
	assert.ErrorIs(t, err, stock.ErrInvalidInput)

	_, err = e.ops.Move(ctx, movement.MoveRequest{Entity: sku, FromLocationID: e.locA, Quantity: n(1)})
	assert.ErrorIs(t, err, stock.ErrConfiguration)

	// Same location, different zones is a valid bin transfer
	_, err = e.ops.Move(ctx, movement.MoveRequest{Entity: sku, FromLocationID: e.locA, ToLocationID: e.locA, FromZone: "x", ToZone: "y", Quantity: n(1)})
	require.NoError(t, err)
	assert.True(t, e.level(t, e.locA).IsZero())
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, true)

	up, err := e.ops.Adjust(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(3), Note: "found in back"})
	require.NoError(t, err)
	assert.Equal(t, stock.TxStockIn, up.Type)
	assert.Equal(t, "found in back", up.Metadata[stock.MetaNote])

	down, err := e.ops.Adjust(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(-2)})
	require.NoError(t, err)
	assert.Equal(t, stock.TxStockOut, down.Type)
	assert.True(t, down.Quantity.Equal(n(-2)))

	_, err = e.ops.Adjust(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(0)})
	assert.ErrorIs(t, err, stock.ErrZeroQuantity)

	assert.True(t, e.level(t, e.locA).Equal(n(1)))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentSales_NoLostUpdates(t *testing.T) {
	// GIVEN: level L = 100 at one location, synchronous catch-up
	// WHEN: N = 40 concurrent sells of 1
	// THEN: both the checkpoint and the level end at L - N

	ctx := context.Background()
	e := newEnv(t, true)
	const start, sellers = 100, 40

	_, err := e.ops.Receive(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(start)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.ops.Sell(ctx, movement.Request{Entity: sku, LocationID: e.locA, Quantity: n(1)}); err != nil {
				t.Errorf("sell: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.True(t, e.level(t, e.locA).Equal(n(start-sellers)))

	cp, err := e.mem.GetLevel(ctx, stock.LevelKey{LocationID: e.locA, EntityID: sku.ID})
	require.NoError(t, err)
	assert.True(t, cp.Qty.Equal(n(start-sellers)), "checkpoint %s", cp.Qty)
}
