/*
Package local is the local-ledger stock backend.

READS go through stock.Aggregator (checkpoint + delta).
WRITES go through stock.Ledger. With SyncCatchUp the checkpoint is caught
up right after each write; otherwise a scheduler does it later. A failed
catch-up after a successful write is logged, not returned: the write
stands and the read path does not depend on the checkpoint being fresh.

LOCATIONS:
  AvailabilityLocations = active locations, then the optional Filter.
  TransactionLocation   = Policy over the availability locations
                          (FirstLocation unless replaced).
*/
package local

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/stock"
)

// ServiceID is the id the local backend registers under.
const ServiceID = "local_stock"

// Options configures a Service. Zero values are usable.
type Options struct {
	Filter      LocationFilter
	Policy      TransactionLocationPolicy
	SyncCatchUp bool
	Logger      zerolog.Logger
}

// Service implements service.Service over the local ledger.
type Service struct {
	ledger    *stock.Ledger
	agg       *stock.Aggregator
	locations *LocationCache

	filter      LocationFilter
	policy      TransactionLocationPolicy
	syncCatchUp bool
	logger      zerolog.Logger
}

var _ service.Service = (*Service)(nil)

func New(ledger *stock.Ledger, agg *stock.Aggregator, locations *LocationCache, opts Options) *Service {
	policy := opts.Policy
	if policy == nil {
		policy = FirstLocation{}
	}
	return &Service{
		ledger:      ledger,
		agg:         agg,
		locations:   locations,
		filter:      opts.Filter,
		policy:      policy,
		syncCatchUp: opts.SyncCatchUp,
		logger:      opts.Logger,
	}
}

func (s *Service) ID() string    { return ServiceID }
func (s *Service) Label() string { return "Local stock ledger" }

// Locations exposes the location cache for administration.
func (s *Service) Locations() *LocationCache { return s.locations }

// =============================================================================
// CHECKER
// =============================================================================

func (s *Service) TotalStockLevel(ctx context.Context, entity stock.Entity, locations []stock.LocationID) (decimal.Decimal, error) {
	return s.agg.TotalStockLevel(ctx, entity.ID, locations)
}

func (s *Service) IsInStock(ctx context.Context, entity stock.Entity, locations []stock.LocationID) (bool, error) {
	return s.agg.IsInStock(ctx, entity.ID, locations)
}

func (s *Service) IsAlwaysInStock(context.Context, stock.Entity) (bool, error) {
	return false, nil
}

// =============================================================================
// UPDATER
// =============================================================================

func (s *Service) CreateTransaction(ctx context.Context, tx stock.Transaction) (stock.Transaction, error) {
	written, err := s.ledger.Append(ctx, tx)
	if err != nil {
		return stock.Transaction{}, err
	}
	s.afterWrite(ctx, written.Key())
	return written, nil
}

func (s *Service) CreateMovement(ctx context.Context, from, to stock.Transaction) (stock.Transaction, stock.Transaction, error) {
	legA, legB, err := s.ledger.AppendMove(ctx, from, to)
	if err != nil {
		return stock.Transaction{}, stock.Transaction{}, err
	}
	s.afterWrite(ctx, legA.Key())
	s.afterWrite(ctx, legB.Key())
	return legA, legB, nil
}

func (s *Service) UpdateLocationLevel(ctx context.Context, key stock.LevelKey) error {
	_, err := s.agg.UpdateLocationLevel(ctx, key)
	return err
}

func (s *Service) afterWrite(ctx context.Context, key stock.LevelKey) {
	if !s.syncCatchUp {
		return
	}
	if _, err := s.agg.UpdateLocationLevel(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key.String()).Msg("catch-up after write failed, leaving it to the scheduler")
	}
}

// =============================================================================
// CONFIGURATION
// =============================================================================

func (s *Service) AvailabilityLocations(ctx context.Context, entity stock.Entity, sc stock.Context) ([]stock.Location, error) {
	active, err := s.locations.Active(ctx)
	if err != nil {
		return nil, err
	}
	if s.filter == nil {
		return active, nil
	}
	return s.filter(ctx, entity, sc, active)
}

func (s *Service) TransactionLocation(ctx context.Context, entity stock.Entity, sc stock.Context, qty decimal.Decimal) (*stock.Location, error) {
	candidates, err := s.AvailabilityLocations(ctx, entity, sc)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return s.policy.Choose(ctx, entity, sc, qty, candidates)
}
