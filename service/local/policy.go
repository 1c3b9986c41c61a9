package local

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// LOCATION FILTER - Extension point for availability
// =============================================================================

// LocationFilter narrows or extends the availability locations for an
// entity. It receives the active locations and returns the ones to use.
type LocationFilter func(ctx context.Context, entity stock.Entity, sc stock.Context, locations []stock.Location) ([]stock.Location, error)

// =============================================================================
// TRANSACTION LOCATION POLICIES
// =============================================================================

// TransactionLocationPolicy picks the single location a new transaction is
// written to. Candidates are the availability locations, in order.
type TransactionLocationPolicy interface {
	Choose(ctx context.Context, entity stock.Entity, sc stock.Context, qty decimal.Decimal, candidates []stock.Location) (*stock.Location, error)
}

// FirstLocation picks the first candidate.
type FirstLocation struct{}

func (FirstLocation) Choose(_ context.Context, _ stock.Entity, _ stock.Context, _ decimal.Decimal, candidates []stock.Location) (*stock.Location, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	loc := candidates[0]
	return &loc, nil
}

// LevelReader is the part of stock.Aggregator HighestStock needs.
type LevelReader interface {
	LocationStockLevel(ctx context.Context, key stock.LevelKey) (decimal.Decimal, error)
}

// HighestStock picks the candidate holding the most stock of the entity.
// Ties go to the earlier candidate.
type HighestStock struct {
	Levels LevelReader
}

func (p HighestStock) Choose(ctx context.Context, entity stock.Entity, _ stock.Context, _ decimal.Decimal, candidates []stock.Location) (*stock.Location, error) {
	var (
		best      *stock.Location
		bestLevel decimal.Decimal
	)
	for i := range candidates {
		level, err := p.Levels.LocationStockLevel(ctx, stock.LevelKey{LocationID: candidates[i].ID, EntityID: entity.ID})
		if err != nil {
			return nil, err
		}
		if best == nil || level.GreaterThan(bestLevel) {
			loc := candidates[i]
			best, bestLevel = &loc, level
		}
	}
	return best, nil
}
