/*
Package service defines stock backends and picks the one responsible for
an entity.

FACETS:
  Every backend implements three facets as one cohesive unit:
    Checker:       read stock levels
    Updater:       write transactions and maintain checkpoints
    Configuration: resolve availability and transaction locations

  Variants:
    service/local:         the local ledger (transactions + checkpoints)
    service/alwaysinstock: never runs out, records nothing
    service/remote:        another stock engine over HTTP

RESOLUTION ORDER (Registry.Resolve):
  1. override for "<type>:<bundle>"
  2. override for "<type>"
  3. the configured default service
  4. the first registered service, only if explicitly allowed (logged)
  Anything else is a *stock.ConfigurationError.

CONTEXT:
  stock.Context (user, store) is passed explicitly to every call that
  resolves locations. Backends never look it up on their own.
*/
package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// FACETS
// =============================================================================

// Checker reads stock levels.
type Checker interface {
	TotalStockLevel(ctx context.Context, entity stock.Entity, locations []stock.LocationID) (decimal.Decimal, error)
	IsInStock(ctx context.Context, entity stock.Entity, locations []stock.LocationID) (bool, error)
	IsAlwaysInStock(ctx context.Context, entity stock.Entity) (bool, error)
}

// Updater writes to the backend. Transactions must already carry a
// location; resolving one is the Configuration facet's job.
type Updater interface {
	CreateTransaction(ctx context.Context, tx stock.Transaction) (stock.Transaction, error)
	CreateMovement(ctx context.Context, from, to stock.Transaction) (stock.Transaction, stock.Transaction, error)
	UpdateLocationLevel(ctx context.Context, key stock.LevelKey) error
}

// Configuration resolves locations for an entity in a context.
type Configuration interface {
	// AvailabilityLocations returns the locations whose stock counts
	// towards availability. Empty when none are configured.
	AvailabilityLocations(ctx context.Context, entity stock.Entity, sc stock.Context) ([]stock.Location, error)

	// TransactionLocation returns the location a new transaction of qty
	// should be written to, or nil when there is none.
	TransactionLocation(ctx context.Context, entity stock.Entity, sc stock.Context, qty decimal.Decimal) (*stock.Location, error)
}

// Service is a stock backend registered under a stable id.
type Service interface {
	ID() string
	Label() string

	Checker
	Updater
	Configuration
}

// Info is the listing view of a registered service.
type Info struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Default bool   `json:"default"`
}
