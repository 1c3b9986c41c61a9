/*
Package stock provides the core stock ledger and level-aggregation engine.

PURPOSE:
  This package tracks quantities of purchasable items across stock
  locations. Every movement is an immutable transaction in an append-only
  log; per-(location, entity) checkpoints make level queries cost
  O(transactions since the last catch-up) instead of O(history).

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: An immutable, signed stock movement
  - TransactionType: Closed enumeration of movement kinds
  - LocationLevel: The checkpoint (qty + last folded transaction id)
  - Location: A physical or logical place that holds stock
  - Entity: The purchasable item, as supplied by the catalog
  - Context: Who is asking (user, store), used only for location resolution

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified
  2. Precision: Uses decimal.Decimal for quantities and costs
  3. Ordering: Transaction ids are strictly increasing and act as a logical clock
  4. Checkpoints are an optimisation: dropping one never changes a level

USAGE:
  tx := stock.Transaction{
      EntityID:   "sku-123",
      EntityType: "product_variation",
      LocationID: 1,
      Quantity:   decimal.NewFromInt(10),
      Type:       stock.TxNewStock,
  }

SEE ALSO:
  - ledger.go: Validated append path
  - aggregator.go: Level computation and catch-up
  - store.go: Persistence interfaces
*/
package stock

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// TransactionID is assigned by the store on append. Zero means "none".
type TransactionID int64

// LocationID identifies a stock location. Zero means "no location".
type LocationID int64

type EntityID string
type EntityType string

func (id TransactionID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id LocationID) String() string    { return strconv.FormatInt(int64(id), 10) }

// ParseLocationID parses a decimal location id.
func ParseLocationID(s string) (LocationID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid location id %q", s)
	}
	return LocationID(v), nil
}

// =============================================================================
// ENTITY & CONTEXT
// =============================================================================

// Entity is a purchasable item. The engine never interprets it beyond
// (ID, Type); Bundle is only used for service overrides.
type Entity struct {
	ID     EntityID
	Type   EntityType
	Bundle string
}

func (e Entity) String() string {
	if e.Bundle != "" {
		return fmt.Sprintf("%s:%s/%s", e.Type, e.Bundle, e.ID)
	}
	return fmt.Sprintf("%s/%s", e.Type, e.ID)
}

// Context parameterises location resolution. It is passed explicitly on
// every call that needs it and is otherwise opaque.
type Context struct {
	UserID  string
	StoreID string
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionType values are persisted and must never be renumbered.
type TransactionType int

const (
	TxStockIn      TransactionType = 1
	TxStockOut     TransactionType = 2
	TxNewStock     TransactionType = 4
	TxSale         TransactionType = 5
	TxReturn       TransactionType = 6
	TxMovementFrom TransactionType = 7
	TxMovementTo   TransactionType = 8
)

var transactionTypeNames = map[TransactionType]string{
	TxStockIn:      "stock_in",
	TxStockOut:     "stock_out",
	TxNewStock:     "new_stock",
	TxSale:         "sale",
	TxReturn:       "return",
	TxMovementFrom: "movement_from",
	TxMovementTo:   "movement_to",
}

func (t TransactionType) Valid() bool {
	_, ok := transactionTypeNames[t]
	return ok
}

func (t TransactionType) String() string {
	if name, ok := transactionTypeNames[t]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// ParseTransactionType accepts either the name ("sale") or the numeric code ("5").
func ParseTransactionType(s string) (TransactionType, error) {
	for t, name := range transactionTypeNames {
		if name == s {
			return t, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && TransactionType(n).Valid() {
		return TransactionType(n), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTransactionType, s)
}

// =============================================================================
// TRANSACTION - Immutable stock movement
// =============================================================================

type Transaction struct {
	ID         TransactionID
	EntityID   EntityID
	EntityType EntityType
	LocationID LocationID
	Zone       string // bin/shelf, ignored by aggregation

	// Positive adds stock, negative removes it.
	Quantity     decimal.Decimal
	UnitCost     decimal.NullDecimal
	CurrencyCode string

	TransactionTime time.Time
	Type            TransactionType

	RelatedTransactionID TransactionID
	RelatedOrderID       string
	RelatedUserID        string

	IdempotencyKey string
	Metadata       map[string]string
}

// Key returns the (location, entity) pair the transaction belongs to.
func (t Transaction) Key() LevelKey {
	return LevelKey{LocationID: t.LocationID, EntityID: t.EntityID}
}

// Metadata keys written by movement operations.
const (
	MetaNote   = "note"
	MetaMoveID = "move_id"
)

// =============================================================================
// LOCATION LEVEL - Checkpoint per (location, entity)
// =============================================================================

type LevelKey struct {
	LocationID LocationID
	EntityID   EntityID
}

func (k LevelKey) String() string {
	return k.LocationID.String() + "/" + string(k.EntityID)
}

// LocationLevel is the cached sum of all transactions for Key with
// id <= LastTransactionID. The zero value is a valid empty checkpoint.
type LocationLevel struct {
	LocationID        LocationID
	EntityID          EntityID
	Qty               decimal.Decimal
	LastTransactionID TransactionID
}

func (l LocationLevel) Key() LevelKey {
	return LevelKey{LocationID: l.LocationID, EntityID: l.EntityID}
}

// =============================================================================
// LOCATION
// =============================================================================

// Location is a stock location. Deactivation is soft: inactive locations
// are excluded from availability but stay valid transaction targets.
type Location struct {
	ID        LocationID
	Name      string
	Active    bool
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActiveOnly filters out inactive locations, preserving order.
func ActiveOnly(locs []Location) []Location {
	out := make([]Location, 0, len(locs))
	for _, l := range locs {
		if l.Active {
			out = append(out, l)
		}
	}
	return out
}

// LocationIDs extracts the ids of locs.
func LocationIDs(locs []Location) []LocationID {
	ids := make([]LocationID, len(locs))
	for i, l := range locs {
		ids[i] = l.ID
	}
	return ids
}
