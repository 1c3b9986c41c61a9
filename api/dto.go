/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model in package stock from the external API contract. The
  remote backend (service/remote) speaks the same contract, so these
  types are exported.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  Quantities and costs are decimal strings ("2.5"), never floats.

VALIDATION:
  Request structs carry go-playground/validator tags, checked by
  Handler.decode before any domain call. Sign rules (positive magnitudes,
  non-zero adjustments) are enforced by the domain and surface as 400s.

SEE ALSO:
  - handlers.go: Uses these types
  - service/remote: Client side of the same contract
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/service"
	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID                   int64             `json:"id"`
	EntityID             string            `json:"entity_id"`
	EntityType           string            `json:"entity_type"`
	LocationID           int64             `json:"location_id"`
	Zone                 string            `json:"zone,omitempty"`
	Quantity             decimal.Decimal   `json:"quantity"`
	UnitCost             *decimal.Decimal  `json:"unit_cost,omitempty"`
	CurrencyCode         string            `json:"currency_code,omitempty"`
	TransactionTime      time.Time         `json:"transaction_time"`
	Type                 string            `json:"type"`
	TypeCode             int               `json:"type_code"`
	RelatedTransactionID int64             `json:"related_transaction_id,omitempty"`
	RelatedOrderID       string            `json:"related_order_id,omitempty"`
	RelatedUserID        string            `json:"related_user_id,omitempty"`
	IdempotencyKey       string            `json:"idempotency_key,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// TransactionRequest creates a raw transaction. A zero location_id is
// resolved through the entity's service.
type TransactionRequest struct {
	EntityID             string            `json:"entity_id" validate:"required,max=255"`
	EntityType           string            `json:"entity_type" validate:"required,max=64"`
	Bundle               string            `json:"bundle,omitempty" validate:"max=64"`
	LocationID           int64             `json:"location_id" validate:"gte=0"`
	Zone                 string            `json:"zone,omitempty" validate:"max=64"`
	Quantity             decimal.Decimal   `json:"quantity"`
	UnitCost             *decimal.Decimal  `json:"unit_cost,omitempty"`
	CurrencyCode         string            `json:"currency_code,omitempty" validate:"omitempty,len=3"`
	TransactionTime      *time.Time        `json:"transaction_time,omitempty"`
	Type                 string            `json:"type" validate:"required"`
	RelatedTransactionID int64             `json:"related_transaction_id,omitempty" validate:"gte=0"`
	RelatedOrderID       string            `json:"related_order_id,omitempty"`
	RelatedUserID        string            `json:"related_user_id,omitempty"`
	IdempotencyKey       string            `json:"idempotency_key,omitempty" validate:"max=255"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	UserID               string            `json:"user_id,omitempty"`
	StoreID              string            `json:"store_id,omitempty"`
}

// MovementLegsRequest writes both legs of a move in one call.
type MovementLegsRequest struct {
	From TransactionRequest `json:"from"`
	To   TransactionRequest `json:"to"`
}

// MovementLegsResponse returns both written legs.
type MovementLegsResponse struct {
	MoveID string         `json:"move_id,omitempty"`
	From   TransactionDTO `json:"from"`
	To     TransactionDTO `json:"to"`
}

// =============================================================================
// MOVEMENTS
// =============================================================================

// MovementRequest drives receive, sell, return and adjust.
type MovementRequest struct {
	EntityID       string           `json:"entity_id" validate:"required,max=255"`
	EntityType     string           `json:"entity_type" validate:"required,max=64"`
	Bundle         string           `json:"bundle,omitempty" validate:"max=64"`
	LocationID     int64            `json:"location_id" validate:"gte=0"`
	Zone           string           `json:"zone,omitempty" validate:"max=64"`
	Quantity       decimal.Decimal  `json:"quantity"`
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	CurrencyCode   string           `json:"currency_code,omitempty" validate:"omitempty,len=3"`
	OrderID        string           `json:"order_id,omitempty"`
	UserID         string           `json:"user_id,omitempty"`
	StoreID        string           `json:"store_id,omitempty"`
	Note           string           `json:"note,omitempty" validate:"max=1000"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"max=255"`
}

// MoveRequest drives a move between two locations.
type MoveRequest struct {
	EntityID       string           `json:"entity_id" validate:"required,max=255"`
	EntityType     string           `json:"entity_type" validate:"required,max=64"`
	Bundle         string           `json:"bundle,omitempty" validate:"max=64"`
	FromLocationID int64            `json:"from_location_id" validate:"gte=0"`
	ToLocationID   int64            `json:"to_location_id" validate:"required,gt=0"`
	FromZone       string           `json:"from_zone,omitempty" validate:"max=64"`
	ToZone         string           `json:"to_zone,omitempty" validate:"max=64"`
	Quantity       decimal.Decimal  `json:"quantity"`
	UnitCost       *decimal.Decimal `json:"unit_cost,omitempty"`
	CurrencyCode   string           `json:"currency_code,omitempty" validate:"omitempty,len=3"`
	UserID         string           `json:"user_id,omitempty"`
	StoreID        string           `json:"store_id,omitempty"`
	Note           string           `json:"note,omitempty" validate:"max=1000"`
	IdempotencyKey string           `json:"idempotency_key,omitempty" validate:"max=255"`
}

// =============================================================================
// STOCK LEVELS
// =============================================================================

// StockLevelDTO answers "how much is available".
type StockLevelDTO struct {
	EntityID      string          `json:"entity_id"`
	EntityType    string          `json:"entity_type"`
	ServiceID     string          `json:"service_id"`
	Level         decimal.Decimal `json:"level"`
	InStock       bool            `json:"in_stock"`
	AlwaysInStock bool            `json:"always_in_stock"`
	Locations     []int64         `json:"locations"`
}

// LevelDTO shows a checkpoint next to the level it implies.
type LevelDTO struct {
	LocationID        int64           `json:"location_id"`
	EntityID          string          `json:"entity_id"`
	CheckpointQty     decimal.Decimal `json:"checkpoint_qty"`
	LastTransactionID int64           `json:"last_transaction_id"`
	Level             decimal.Decimal `json:"level"`
}

// =============================================================================
// LOCATIONS
// =============================================================================

// LocationDTO represents a stock location.
type LocationDTO struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SaveLocationRequest creates or updates a location. Active defaults to
// true on create.
type SaveLocationRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Active  *bool  `json:"active,omitempty"`
	OwnerID string `json:"owner_id,omitempty" validate:"max=255"`
}

// =============================================================================
// ADMIN
// =============================================================================

// CatchUpRequest limits a stale-level catch-up run. Zero means the
// handler's default batch.
type CatchUpRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=100000"`
}

type CatchUpResponse struct {
	CaughtUp int `json:"caught_up"`
}

// PruneRequest deletes folded history for one key. Before defaults to
// now minus the configured retention.
type PruneRequest struct {
	LocationID int64      `json:"location_id" validate:"required,gt=0"`
	EntityID   string     `json:"entity_id" validate:"required"`
	Before     *time.Time `json:"before,omitempty"`
}

type PruneResponse struct {
	Deleted int64     `json:"deleted"`
	Before  time.Time `json:"before"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ServiceDTO lists a registered stock service.
type ServiceDTO = service.Info

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

// ToTransactionDTO converts a domain transaction for the wire.
func ToTransactionDTO(tx stock.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                   int64(tx.ID),
		EntityID:             string(tx.EntityID),
		EntityType:           string(tx.EntityType),
		LocationID:           int64(tx.LocationID),
		Zone:                 tx.Zone,
		Quantity:             tx.Quantity,
		CurrencyCode:         tx.CurrencyCode,
		TransactionTime:      tx.TransactionTime,
		Type:                 tx.Type.String(),
		TypeCode:             int(tx.Type),
		RelatedTransactionID: int64(tx.RelatedTransactionID),
		RelatedOrderID:       tx.RelatedOrderID,
		RelatedUserID:        tx.RelatedUserID,
		IdempotencyKey:       tx.IdempotencyKey,
		Metadata:             tx.Metadata,
	}
	if tx.UnitCost.Valid {
		cost := tx.UnitCost.Decimal
		dto.UnitCost = &cost
	}
	return dto
}

func toTransactionDTOs(txs []stock.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = ToTransactionDTO(tx)
	}
	return dtos
}

// Transaction converts a wire transaction back into the domain type.
func (d TransactionDTO) Transaction() stock.Transaction {
	tx := stock.Transaction{
		ID:                   stock.TransactionID(d.ID),
		EntityID:             stock.EntityID(d.EntityID),
		EntityType:           stock.EntityType(d.EntityType),
		LocationID:           stock.LocationID(d.LocationID),
		Zone:                 d.Zone,
		Quantity:             d.Quantity,
		CurrencyCode:         d.CurrencyCode,
		TransactionTime:      d.TransactionTime,
		Type:                 stock.TransactionType(d.TypeCode),
		RelatedTransactionID: stock.TransactionID(d.RelatedTransactionID),
		RelatedOrderID:       d.RelatedOrderID,
		RelatedUserID:        d.RelatedUserID,
		IdempotencyKey:       d.IdempotencyKey,
		Metadata:             d.Metadata,
	}
	if d.UnitCost != nil {
		tx.UnitCost = decimal.NewNullDecimal(*d.UnitCost)
	}
	return tx
}

// NewTransactionRequest is the request a client sends to write tx.
func NewTransactionRequest(tx stock.Transaction, bundle string) TransactionRequest {
	req := TransactionRequest{
		EntityID:             string(tx.EntityID),
		EntityType:           string(tx.EntityType),
		Bundle:               bundle,
		LocationID:           int64(tx.LocationID),
		Zone:                 tx.Zone,
		Quantity:             tx.Quantity,
		CurrencyCode:         tx.CurrencyCode,
		Type:                 tx.Type.String(),
		RelatedTransactionID: int64(tx.RelatedTransactionID),
		RelatedOrderID:       tx.RelatedOrderID,
		RelatedUserID:        tx.RelatedUserID,
		IdempotencyKey:       tx.IdempotencyKey,
		Metadata:             tx.Metadata,
	}
	if tx.UnitCost.Valid {
		cost := tx.UnitCost.Decimal
		req.UnitCost = &cost
	}
	if !tx.TransactionTime.IsZero() {
		t := tx.TransactionTime
		req.TransactionTime = &t
	}
	return req
}

// Entity returns the entity the request is about.
func (r TransactionRequest) Entity() stock.Entity {
	return stock.Entity{ID: stock.EntityID(r.EntityID), Type: stock.EntityType(r.EntityType), Bundle: r.Bundle}
}

// Transaction converts the request into a domain transaction.
func (r TransactionRequest) Transaction() (stock.Transaction, error) {
	typ, err := stock.ParseTransactionType(r.Type)
	if err != nil {
		return stock.Transaction{}, err
	}
	tx := stock.Transaction{
		EntityID:             stock.EntityID(r.EntityID),
		EntityType:           stock.EntityType(r.EntityType),
		LocationID:           stock.LocationID(r.LocationID),
		Zone:                 r.Zone,
		Quantity:             r.Quantity,
		CurrencyCode:         r.CurrencyCode,
		Type:                 typ,
		RelatedTransactionID: stock.TransactionID(r.RelatedTransactionID),
		RelatedOrderID:       r.RelatedOrderID,
		RelatedUserID:        r.RelatedUserID,
		IdempotencyKey:       r.IdempotencyKey,
		Metadata:             r.Metadata,
	}
	if r.UnitCost != nil {
		tx.UnitCost = decimal.NewNullDecimal(*r.UnitCost)
	}
	if r.TransactionTime != nil {
		tx.TransactionTime = *r.TransactionTime
	}
	return tx, nil
}

func toLocationDTO(l stock.Location) LocationDTO {
	return LocationDTO{
		ID:        int64(l.ID),
		Name:      l.Name,
		Active:    l.Active,
		OwnerID:   l.OwnerID,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func toLocationDTOs(locs []stock.Location) []LocationDTO {
	dtos := make([]LocationDTO, len(locs))
	for i, l := range locs {
		dtos[i] = toLocationDTO(l)
	}
	return dtos
}

// Location converts a wire location back into the domain type.
func (d LocationDTO) Location() stock.Location {
	return stock.Location{
		ID:        stock.LocationID(d.ID),
		Name:      d.Name,
		Active:    d.Active,
		OwnerID:   d.OwnerID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func toLocationIDs(ids []stock.LocationID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
