/*
ledger.go - Validated, idempotent append path over a TransactionStore

CRITICAL INVARIANTS:
  1. APPEND-ONLY: the ledger never updates or deletes a transaction.
  2. NO NULL LOCATIONS: a transaction without a location is a
     configuration error and is never written.
  3. NO NO-OPS: zero quantities are rejected before reaching the store.
  4. IDEMPOTENT: a repeated idempotency key returns the row written the
     first time instead of writing a second one.

MOVES:
  AppendMove writes both legs of a movement. When the store implements
  TxStore the legs share one storage transaction. Either way each leg
  carries its own idempotency key, so a retry after a partial failure
  finds the first leg and only writes what is missing.

NOTE:
  Without idempotency keys the ledger does not deduplicate. Callers must
  not invoke a sale or return twice for the same logical event.
*/
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ledger is the write path for the transaction log.
type Ledger struct {
	Store TransactionStore

	// Now stamps transactions that arrive without a TransactionTime.
	Now func() time.Time
}

func NewLedger(store TransactionStore) *Ledger {
	return &Ledger{Store: store, Now: time.Now}
}

// Append validates tx and writes it. The returned transaction carries the
// assigned id (or the original one on an idempotent replay).
func (l *Ledger) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	if err := validateTransaction(tx); err != nil {
		return Transaction{}, err
	}
	return l.appendIdempotent(ctx, l.Store, tx)
}

// AppendMove writes the outgoing leg, then the incoming leg with
// RelatedTransactionID pointing at the outgoing one.
func (l *Ledger) AppendMove(ctx context.Context, from, to Transaction) (Transaction, Transaction, error) {
	if err := validateTransaction(from); err != nil {
		return Transaction{}, Transaction{}, err
	}
	if err := validateTransaction(to); err != nil {
		return Transaction{}, Transaction{}, err
	}
	if from.Type != TxMovementFrom || to.Type != TxMovementTo {
		return Transaction{}, Transaction{}, fmt.Errorf("%w: move legs must be movement_from and movement_to", ErrInvalidTransactionType)
	}

	var legA, legB Transaction
	write := func(s TransactionStore) error {
		var err error
		legA, err = l.appendIdempotent(ctx, s, from)
		if err != nil {
			return err
		}
		to.RelatedTransactionID = legA.ID
		legB, err = l.appendIdempotent(ctx, s, to)
		return err
	}

	var err error
	if ts, ok := l.Store.(TxStore); ok {
		err = ts.WithTx(ctx, write)
	} else {
		err = write(l.Store)
	}
	if err != nil {
		return Transaction{}, Transaction{}, WrapStorage("append move", err)
	}
	return legA, legB, nil
}

// Get returns a single transaction.
func (l *Ledger) Get(ctx context.Context, id TransactionID) (*Transaction, error) {
	tx, err := l.Store.GetTransaction(ctx, id)
	if err != nil {
		return nil, WrapStorage("get transaction", err)
	}
	if tx == nil {
		return nil, fmt.Errorf("%w: %d", ErrTransactionNotFound, id)
	}
	return tx, nil
}

// Transactions lists history, oldest first.
func (l *Ledger) Transactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	txs, err := l.Store.ListTransactions(ctx, filter)
	return txs, WrapStorage("list transactions", err)
}

func (l *Ledger) appendIdempotent(ctx context.Context, s TransactionStore, tx Transaction) (Transaction, error) {
	if tx.IdempotencyKey != "" {
		existing, err := s.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
		if err != nil {
			return Transaction{}, WrapStorage("find idempotency key", err)
		}
		if existing != nil {
			return *existing, nil
		}
	}

	if tx.TransactionTime.IsZero() {
		tx.TransactionTime = l.now()
	}

	id, err := s.Append(ctx, tx)
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost a race against a concurrent replay of the same key.
		existing, ferr := s.FindByIdempotencyKey(ctx, tx.IdempotencyKey)
		if ferr == nil && existing != nil {
			return *existing, nil
		}
		return Transaction{}, err
	}
	if err != nil {
		return Transaction{}, WrapStorage("append", err)
	}
	tx.ID = id
	return tx, nil
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func validateTransaction(tx Transaction) error {
	entity := Entity{ID: tx.EntityID, Type: tx.EntityType}
	if tx.EntityID == "" {
		return fmt.Errorf("%w: entity id is required", ErrInvalidInput)
	}
	if tx.LocationID == 0 {
		return &ConfigurationError{Entity: entity, Reason: "transaction has no location"}
	}
	if tx.Quantity.IsZero() {
		return ErrZeroQuantity
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidTransactionType, int(tx.Type))
	}
	return nil
}
