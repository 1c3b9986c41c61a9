package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// DISPATCH - Resolve, then delegate
// =============================================================================

// Availability is the answer to "how much of entity is available".
type Availability struct {
	ServiceID     string
	Level         decimal.Decimal
	InStock       bool
	AlwaysInStock bool
	Locations     []stock.LocationID
}

// Availability resolves the service for entity and sums its level over the
// availability locations. Pass explicit locations to skip resolution.
func (r *Registry) Availability(ctx context.Context, entity stock.Entity, sc stock.Context, locations []stock.LocationID) (Availability, error) {
	svc, err := r.Resolve(entity)
	if err != nil {
		return Availability{}, err
	}

	always, err := svc.IsAlwaysInStock(ctx, entity)
	if err != nil {
		return Availability{}, err
	}

	if locations == nil {
		locs, err := svc.AvailabilityLocations(ctx, entity, sc)
		if err != nil {
			return Availability{}, err
		}
		locations = stock.LocationIDs(locs)
	}

	level, err := svc.TotalStockLevel(ctx, entity, locations)
	if err != nil {
		return Availability{}, err
	}

	return Availability{
		ServiceID:     svc.ID(),
		Level:         level,
		InStock:       always || level.IsPositive(),
		AlwaysInStock: always,
		Locations:     locations,
	}, nil
}

// TransactionLocation resolves where a new transaction of qty for entity
// would be written. No location is a configuration error.
func (r *Registry) TransactionLocation(ctx context.Context, entity stock.Entity, sc stock.Context, qty decimal.Decimal) (stock.Location, error) {
	svc, err := r.Resolve(entity)
	if err != nil {
		return stock.Location{}, err
	}
	loc, err := svc.TransactionLocation(ctx, entity, sc, qty)
	if err != nil {
		return stock.Location{}, err
	}
	if loc == nil {
		return stock.Location{}, &stock.ConfigurationError{Entity: entity, Reason: "no transaction location resolvable"}
	}
	return *loc, nil
}
