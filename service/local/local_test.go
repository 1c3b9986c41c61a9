package local_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/service/local"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type fixture struct {
	mem   *store.Memory
	agg   *stock.Aggregator
	cache *local.LocationCache
	svc   *local.Service

	main, outlet, closed stock.Location
}

var sku = stock.Entity{ID: "sku-1", Type: "product_variation"}

func newFixture(t *testing.T, opts local.Options) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	agg := stock.NewAggregator(mem, mem, stock.NewKeyedMutex(), zerolog.Nop())
	f := &fixture{
		mem:   mem,
		agg:   agg,
		cache: local.NewLocationCache(mem),
	}
	f.svc = local.New(stock.NewLedger(mem), agg, f.cache, opts)

	var err error
	f.main, err = mem.SaveLocation(ctx, stock.Location{Name: "Main", Active: true})
	require.NoError(t, err)
	f.outlet, err = mem.SaveLocation(ctx, stock.Location{Name: "Outlet", Active: true})
	require.NoError(t, err)
	f.closed, err = mem.SaveLocation(ctx, stock.Location{Name: "Closed", Active: false})
	require.NoError(t, err)
	return f
}

func (f *fixture) put(t *testing.T, loc stock.LocationID, n int64) stock.Transaction {
	t.Helper()
	tx, err := f.svc.CreateTransaction(context.Background(), stock.Transaction{
		EntityID:   sku.ID,
		EntityType: sku.Type,
		LocationID: loc,
		Quantity:   decimal.NewFromInt(n),
		Type:       stock.TxNewStock,
	})
	require.NoError(t, err)
	return tx
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestAvailabilityLocations_ExcludesInactive(t *testing.T) {
	// GIVEN: stock at an active and an inactive location
	// WHEN: summing over the availability locations
	// THEN: the inactive location's stock is not counted

	ctx := context.Background()
	f := newFixture(t, local.Options{})
	f.put(t, f.main.ID, 4)
	f.put(t, f.closed.ID, 10)

	locs, err := f.svc.AvailabilityLocations(ctx, sku, stock.Context{})
	require.NoError(t, err)
	assert.Equal(t, []stock.LocationID{f.main.ID, f.outlet.ID}, stock.LocationIDs(locs))

	level, err := f.svc.TotalStockLevel(ctx, sku, stock.LocationIDs(locs))
	require.NoError(t, err)
	assert.True(t, level.Equal(decimal.NewFromInt(4)), "got %s", level)

	// Inactive locations stay valid transaction targets
	everywhere, err := f.svc.TotalStockLevel(ctx, sku, []stock.LocationID{f.main.ID, f.closed.ID})
	require.NoError(t, err)
	assert.True(t, everywhere.Equal(decimal.NewFromInt(14)))
}

func TestAvailabilityLocations_FilterExtensionPoint(t *testing.T) {
	ctx := context.Background()
	storePinned := func(_ context.Context, _ stock.Entity, sc stock.Context, locs []stock.Location) ([]stock.Location, error) {
		if sc.StoreID != "outlet" {
			return locs, nil
		}
		var out []stock.Location
		for _, l := range locs {
			if l.Name == "Outlet" {
				out = append(out, l)
			}
		}
		return out, nil
	}
	f := newFixture(t, local.Options{Filter: storePinned})

	locs, err := f.svc.AvailabilityLocations(ctx, sku, stock.Context{StoreID: "outlet"})
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, f.outlet.ID, locs[0].ID)

	loc, err := f.svc.TransactionLocation(ctx, sku, stock.Context{StoreID: "outlet"}, decimal.NewFromInt(-1))
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, f.outlet.ID, loc.ID)
}

func TestTransactionLocation_DefaultsToFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, local.Options{})

	loc, err := f.svc.TransactionLocation(ctx, sku, stock.Context{}, decimal.NewFromInt(-1))
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, f.main.ID, loc.ID)
}

func TestTransactionLocation_HighestStockPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, local.Options{})
	f.svc = local.New(stock.NewLedger(f.mem), f.agg, f.cache, local.Options{Policy: local.HighestStock{Levels: f.agg}})

	f.put(t, f.main.ID, 2)
	f.put(t, f.outlet.ID, 7)

	loc, err := f.svc.TransactionLocation(ctx, sku, stock.Context{}, decimal.NewFromInt(-1))
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, f.outlet.ID, loc.ID)
}

func TestTransactionLocation_NoActiveLocations(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	agg := stock.NewAggregator(mem, mem, nil, zerolog.Nop())
	svc := local.New(stock.NewLedger(mem), agg, local.NewLocationCache(mem), local.Options{})

	locs, err := svc.AvailabilityLocations(ctx, sku, stock.Context{})
	require.NoError(t, err)
	assert.Empty(t, locs)

	loc, err := svc.TransactionLocation(ctx, sku, stock.Context{}, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Nil(t, loc)
}

// =============================================================================
// UPDATER
// =============================================================================

func TestCreateTransaction_SyncCatchUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, local.Options{SyncCatchUp: true})

	tx := f.put(t, f.main.ID, 5)

	cp, err := f.mem.GetLevel(ctx, tx.Key())
	require.NoError(t, err)
	assert.Equal(t, tx.ID, cp.LastTransactionID)
	assert.True(t, cp.Qty.Equal(decimal.NewFromInt(5)))
}

func TestCreateTransaction_DeferredCatchUp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, local.Options{})

	tx := f.put(t, f.main.ID, 5)

	cp, err := f.mem.GetLevel(ctx, tx.Key())
	require.NoError(t, err)
	assert.Zero(t, cp.LastTransactionID, "left for the scheduler")

	stale, err := f.mem.StaleLevels(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []stock.LevelKey{tx.Key()}, stale)

	require.NoError(t, f.svc.UpdateLocationLevel(ctx, tx.Key()))
	cp, err = f.mem.GetLevel(ctx, tx.Key())
	require.NoError(t, err)
	assert.Equal(t, tx.ID, cp.LastTransactionID)
}

// failingCAS refuses every checkpoint write.
type failingCAS struct {
	stock.LevelStore
}

func (failingCAS) CompareAndSetLevel(context.Context, stock.TransactionID, stock.LocationLevel) error {
	return errors.New("read-only replica")
}

func TestCreateTransaction_CatchUpFailureIsLoggedNotReturned(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	agg := stock.NewAggregator(mem, failingCAS{LevelStore: mem}, nil, logger)
	svc := local.New(stock.NewLedger(mem), agg, local.NewLocationCache(mem), local.Options{SyncCatchUp: true, Logger: logger})

	tx, err := svc.CreateTransaction(ctx, stock.Transaction{
		EntityID: "sku-1", LocationID: 1, Quantity: decimal.NewFromInt(3), Type: stock.TxNewStock,
	})
	require.NoError(t, err)
	assert.NotZero(t, tx.ID)
	assert.Contains(t, buf.String(), "catch-up after write failed")

	level, err := svc.TotalStockLevel(ctx, sku, []stock.LocationID{1})
	require.NoError(t, err)
	assert.True(t, level.Equal(decimal.NewFromInt(3)))
}

// =============================================================================
// LOCATION CACHE
// =============================================================================

// countingLocations counts list calls against the underlying store.
type countingLocations struct {
	stock.LocationStore
	lists int
}

func (c *countingLocations) ListLocations(ctx context.Context, activeOnly bool) ([]stock.Location, error) {
	c.lists++
	return c.LocationStore.ListLocations(ctx, activeOnly)
}

func TestLocationCache_InvalidatesOnSave(t *testing.T) {
	ctx := context.Background()
	counting := &countingLocations{LocationStore: store.NewMemory()}
	cache := local.NewLocationCache(counting)

	loc, err := cache.Save(ctx, stock.Location{Name: "Main", Active: true})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		active, err := cache.Active(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 1)
	}
	assert.Equal(t, 1, counting.lists, "served from cache")

	loc.Active = false
	_, err = cache.Save(ctx, loc)
	require.NoError(t, err)

	active, err := cache.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Equal(t, 2, counting.lists)

	got, err := cache.Get(ctx, loc.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	_, err = cache.Get(ctx, 42)
	assert.ErrorIs(t, err, stock.ErrLocationNotFound)
}
