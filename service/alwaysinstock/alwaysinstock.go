// Package alwaysinstock is a stock backend for items that never run out
// (digital goods, made to order). It records nothing.
package alwaysinstock

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/stock"
)

const ServiceID = "always_in_stock"

// DefaultLevel is reported when no level is configured.
var DefaultLevel = decimal.NewFromInt(999)

type Service struct {
	level decimal.Decimal
}

var _ service.Service = (*Service)(nil)

// New returns a backend reporting level; zero means DefaultLevel.
func New(level decimal.Decimal) *Service {
	if !level.IsPositive() {
		level = DefaultLevel
	}
	return &Service{level: level}
}

func (s *Service) ID() string    { return ServiceID }
func (s *Service) Label() string { return "Always in stock" }

func (s *Service) TotalStockLevel(context.Context, stock.Entity, []stock.LocationID) (decimal.Decimal, error) {
	return s.level, nil
}

func (s *Service) IsInStock(context.Context, stock.Entity, []stock.LocationID) (bool, error) {
	return true, nil
}

func (s *Service) IsAlwaysInStock(context.Context, stock.Entity) (bool, error) {
	return true, nil
}

// CreateTransaction returns tx unchanged; its ID stays zero.
func (s *Service) CreateTransaction(_ context.Context, tx stock.Transaction) (stock.Transaction, error) {
	return tx, nil
}

func (s *Service) CreateMovement(_ context.Context, from, to stock.Transaction) (stock.Transaction, stock.Transaction, error) {
	return from, to, nil
}

func (s *Service) UpdateLocationLevel(context.Context, stock.LevelKey) error {
	return nil
}

func (s *Service) AvailabilityLocations(context.Context, stock.Entity, stock.Context) ([]stock.Location, error) {
	return nil, nil
}

func (s *Service) TransactionLocation(context.Context, stock.Entity, stock.Context, decimal.Decimal) (*stock.Location, error) {
	return nil, nil
}
