/*
Package movement turns named business actions into signed transactions.

OPERATIONS:
  Receive  -> new_stock,      +qty
  Sell     -> sale,           -qty (order and user recorded)
  Return   -> return,         +qty (order and user recorded)
  Move     -> movement_from,  -qty at the source
              movement_to,    +qty at the target, related to the first leg
  Adjust   -> stock_in / stock_out for a signed manual correction

  Receive, Sell, Return and Move take a positive magnitude and apply the
  sign themselves. Adjust takes a signed, non-zero quantity.

LOCATIONS:
  A zero location is resolved through the entity's service. If nothing
  resolves, the operation fails with a *stock.ConfigurationError and
  writes nothing.

OVERSELLING:
  Operations never check availability. The ledger records what happened;
  blocking a sale is the caller's decision.
*/
package movement

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/stock"
)

// Resolver picks the service responsible for an entity.
type Resolver interface {
	Resolve(entity stock.Entity) (service.Service, error)
}

// Operations runs movement operations against the resolved service.
type Operations struct {
	Services Resolver
	Logger   zerolog.Logger

	// NewMoveID correlates the two legs of a move.
	NewMoveID func() string
}

func New(services Resolver, logger zerolog.Logger) *Operations {
	return &Operations{
		Services:  services,
		Logger:    logger,
		NewMoveID: func() string { return uuid.NewString() },
	}
}

// Request describes a single-location movement.
type Request struct {
	Entity  stock.Entity
	Context stock.Context

	// LocationID zero means "resolve through the service".
	LocationID stock.LocationID
	Zone       string

	// Quantity is a magnitude for Receive/Sell/Return and a signed
	// correction for Adjust.
	Quantity     decimal.Decimal
	UnitCost     decimal.NullDecimal
	CurrencyCode string

	OrderID string
	UserID  string
	Note    string

	IdempotencyKey string
}

// MoveRequest describes a transfer between two locations.
type MoveRequest struct {
	Entity  stock.Entity
	Context stock.Context

	// FromLocationID zero means "resolve through the service".
	FromLocationID stock.LocationID
	ToLocationID   stock.LocationID
	FromZone       string
	ToZone         string

	Quantity     decimal.Decimal
	UnitCost     decimal.NullDecimal
	CurrencyCode string
	Note         string

	// IdempotencyKey, when set, keys the legs as "<key>:from" and "<key>:to".
	IdempotencyKey string
}

// MoveResult holds both legs of a move.
type MoveResult struct {
	MoveID string
	From   stock.Transaction
	To     stock.Transaction
}

// =============================================================================
// SINGLE-LEG OPERATIONS
// =============================================================================

// Receive records new stock arriving at a location.
func (o *Operations) Receive(ctx context.Context, req Request) (stock.Transaction, error) {
	return o.single(ctx, req, stock.TxNewStock, 1)
}

// Sell records stock leaving through an order.
func (o *Operations) Sell(ctx context.Context, req Request) (stock.Transaction, error) {
	return o.single(ctx, req, stock.TxSale, -1)
}

// Return records stock coming back from an order.
func (o *Operations) Return(ctx context.Context, req Request) (stock.Transaction, error) {
	return o.single(ctx, req, stock.TxReturn, 1)
}

// Adjust records a signed manual correction.
func (o *Operations) Adjust(ctx context.Context, req Request) (stock.Transaction, error) {
	if req.Quantity.IsZero() {
		return stock.Transaction{}, stock.ErrZeroQuantity
	}
	if req.Quantity.IsPositive() {
		return o.write(ctx, req, stock.TxStockIn, req.Quantity)
	}
	return o.write(ctx, req, stock.TxStockOut, req.Quantity)
}

func (o *Operations) single(ctx context.Context, req Request, typ stock.TransactionType, sign int64) (stock.Transaction, error) {
	if !req.Quantity.IsPositive() {
		return stock.Transaction{}, fmt.Errorf("%w: %s %s", stock.ErrInvalidQuantity, typ, req.Quantity)
	}
	return o.write(ctx, req, typ, req.Quantity.Abs().Mul(decimal.NewFromInt(sign)))
}

func (o *Operations) write(ctx context.Context, req Request, typ stock.TransactionType, signed decimal.Decimal) (stock.Transaction, error) {
	svc, err := o.Services.Resolve(req.Entity)
	if err != nil {
		return stock.Transaction{}, err
	}

	loc, err := o.location(ctx, svc, req.Entity, req.Context, req.LocationID, signed)
	if err != nil {
		return stock.Transaction{}, err
	}

	tx := stock.Transaction{
		EntityID:       req.Entity.ID,
		EntityType:     req.Entity.Type,
		LocationID:     loc,
		Zone:           req.Zone,
		Quantity:       signed,
		UnitCost:       req.UnitCost,
		CurrencyCode:   req.CurrencyCode,
		Type:           typ,
		RelatedOrderID: req.OrderID,
		RelatedUserID:  req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       noteMetadata(req.Note),
	}

	written, err := svc.CreateTransaction(ctx, tx)
	if err != nil {
		return stock.Transaction{}, err
	}

	o.Logger.Debug().
		Str("service", svc.ID()).
		Str("entity", req.Entity.String()).
		Str("type", typ.String()).
		Str("quantity", signed.String()).
		Int64("location_id", int64(loc)).
		Int64("transaction_id", int64(written.ID)).
		Msg("stock movement recorded")
	return written, nil
}

// =============================================================================
// MOVE
// =============================================================================

// Move transfers a magnitude from one location to another as two linked
// transactions.
func (o *Operations) Move(ctx context.Context, req MoveRequest) (MoveResult, error) {
	if !req.Quantity.IsPositive() {
		return MoveResult{}, fmt.Errorf("%w: move %s", stock.ErrInvalidQuantity, req.Quantity)
	}

	svc, err := o.Services.Resolve(req.Entity)
	if err != nil {
		return MoveResult{}, err
	}

	magnitude := req.Quantity.Abs()
	from, err := o.location(ctx, svc, req.Entity, req.Context, req.FromLocationID, magnitude.Neg())
	if err != nil {
		return MoveResult{}, err
	}
	if req.ToLocationID == 0 {
		return MoveResult{}, &stock.ConfigurationError{Entity: req.Entity, Reason: "move has no target location"}
	}
	if from == req.ToLocationID && req.FromZone == req.ToZone {
		return MoveResult{}, fmt.Errorf("%w: move source and target are the same", stock.ErrInvalidInput)
	}

	moveID := o.newMoveID()
	meta := noteMetadata(req.Note)
	if meta == nil {
		meta = map[string]string{}
	}
	meta[stock.MetaMoveID] = moveID

	legA := stock.Transaction{
		EntityID:     req.Entity.ID,
		EntityType:   req.Entity.Type,
		LocationID:   from,
		Zone:         req.FromZone,
		Quantity:     magnitude.Neg(),
		UnitCost:     req.UnitCost,
		CurrencyCode: req.CurrencyCode,
		Type:         stock.TxMovementFrom,
		Metadata:     meta,
	}
	legB := legA
	legB.LocationID = req.ToLocationID
	legB.Zone = req.ToZone
	legB.Quantity = magnitude
	legB.Type = stock.TxMovementTo
	legB.Metadata = copyMetadata(meta)

	if req.IdempotencyKey != "" {
		legA.IdempotencyKey = req.IdempotencyKey + ":from"
		legB.IdempotencyKey = req.IdempotencyKey + ":to"
	}

	writtenA, writtenB, err := svc.CreateMovement(ctx, legA, legB)
	if err != nil {
		return MoveResult{}, err
	}

	// A replayed move carries the id it was first written with.
	if id := writtenA.Metadata[stock.MetaMoveID]; id != "" {
		moveID = id
	}
	return MoveResult{MoveID: moveID, From: writtenA, To: writtenB}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (o *Operations) location(ctx context.Context, svc service.Service, entity stock.Entity, sc stock.Context, explicit stock.LocationID, qty decimal.Decimal) (stock.LocationID, error) {
	if explicit != 0 {
		return explicit, nil
	}

	// Backends that record nothing need no location.
	always, err := svc.IsAlwaysInStock(ctx, entity)
	if err != nil {
		return 0, err
	}

	loc, err := svc.TransactionLocation(ctx, entity, sc, qty)
	if err != nil {
		return 0, err
	}
	if loc == nil {
		if always {
			return 0, nil
		}
		return 0, &stock.ConfigurationError{Entity: entity, Reason: "no transaction location resolvable"}
	}
	return loc.ID, nil
}

func (o *Operations) newMoveID() string {
	if o.NewMoveID != nil {
		return o.NewMoveID()
	}
	return uuid.NewString()
}

func noteMetadata(note string) map[string]string {
	if note == "" {
		return nil
	}
	return map[string]string{stock.MetaNote: note}
}

func copyMetadata(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
