/*
store.go - Persistence interfaces for transactions, checkpoints and locations

KEY INTERFACES:
  TransactionStore: Append-only transaction log with range sums
  TxStore:          TransactionStore with multi-row atomic writes
  LevelStore:       Checkpoint key-value store with compare-and-set
  LocationStore:    Location administration

ACCESS PATTERNS:
  Any engine that supports these is conformant:
  - point lookup by (location_id, entity_id)
  - range sum by (location_id, entity_id) plus an id bound
  The SQLite store backs them with an index on
  transactions(location_id, entity_id, id) and a unique checkpoint key.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via sqlx
  - stock/store/memory.go: In-memory for tests and development
*/
package stock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION STORE - Append-only
// =============================================================================

// TransactionStore persists transactions.
// IMPORTANT: there is no Update. DeleteThrough exists only for retention
// and is reached exclusively through Aggregator.Prune.
type TransactionStore interface {
	// Append persists tx and returns its id. Ids are strictly increasing.
	// Returns ErrDuplicateIdempotencyKey if the key already exists.
	// Zero quantities are accepted; rejecting them is the caller's job.
	Append(ctx context.Context, tx Transaction) (TransactionID, error)

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// FindByIdempotencyKey returns nil, nil when the key is unknown.
	FindByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// LatestTransactionID returns the newest id for key, or 0 if none.
	LatestTransactionID(ctx context.Context, key LevelKey) (TransactionID, error)

	// SumInRange sums quantities with after < id <= through.
	// A zero through means unbounded above.
	SumInRange(ctx context.Context, key LevelKey, after, through TransactionID) (decimal.Decimal, error)

	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)

	// DeleteThrough removes transactions for key with id <= through and
	// TransactionTime before cutoff, returning how many rows went away.
	// Stores that also hold checkpoints return ErrRetentionViolation when
	// through is past the key's checkpoint.
	DeleteThrough(ctx context.Context, key LevelKey, through TransactionID, cutoff time.Time) (int64, error)
}

// TransactionFilter narrows ListTransactions. Zero fields match everything.
type TransactionFilter struct {
	LocationID LocationID
	EntityID   EntityID
	AfterID    TransactionID
	Limit      int
}

// TxStore wraps TransactionStore with transaction support.
// Use this when several rows must land together (the two legs of a move).
type TxStore interface {
	TransactionStore

	// WithTx executes fn within a storage transaction.
	// If fn returns error, everything is rolled back.
	WithTx(ctx context.Context, fn func(TransactionStore) error) error
}

// =============================================================================
// LEVEL STORE - Checkpoints
// =============================================================================

type LevelStore interface {
	// GetLevel returns the checkpoint for key, or an empty one if absent.
	GetLevel(ctx context.Context, key LevelKey) (LocationLevel, error)

	// SetLevel upserts unconditionally. Idempotent.
	SetLevel(ctx context.Context, level LocationLevel) error

	// CompareAndSetLevel writes level only if the stored checkpoint still
	// has LastTransactionID == expectedLast (an absent checkpoint counts
	// as 0). Returns ErrConcurrentModification otherwise.
	CompareAndSetLevel(ctx context.Context, expectedLast TransactionID, level LocationLevel) error

	// StaleLevels lists keys whose newest transaction is newer than their
	// checkpoint, including keys with no checkpoint at all.
	StaleLevels(ctx context.Context, limit int) ([]LevelKey, error)

	ListLevels(ctx context.Context) ([]LocationLevel, error)
}

// =============================================================================
// LOCATION STORE
// =============================================================================

type LocationStore interface {
	// SaveLocation creates loc when loc.ID is zero, otherwise updates it.
	// Returns ErrLocationNotFound when updating an unknown id.
	SaveLocation(ctx context.Context, loc Location) (Location, error)

	// GetLocation returns nil, nil if the location does not exist.
	GetLocation(ctx context.Context, id LocationID) (*Location, error)

	ListLocations(ctx context.Context, activeOnly bool) ([]Location, error)
}
