// Package store provides in-memory implementations of the stock stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements stock.TxStore, stock.LevelStore and stock.LocationStore.
type Memory struct {
	mu sync.RWMutex

	lastID       stock.TransactionID
	transactions map[stock.LevelKey][]stock.Transaction // ordered by id
	keyOf        map[stock.TransactionID]stock.LevelKey
	idempotency  map[string]stock.TransactionID

	// pruned keeps keyed rows removed by retention so replays still
	// resolve to the original transaction.
	pruned map[string]stock.Transaction

	levels map[stock.LevelKey]stock.LocationLevel

	lastLocationID stock.LocationID
	locations      map[stock.LocationID]stock.Location

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		transactions: make(map[stock.LevelKey][]stock.Transaction),
		keyOf:        make(map[stock.TransactionID]stock.LevelKey),
		idempotency:  make(map[string]stock.TransactionID),
		pruned:       make(map[string]stock.Transaction),
		levels:       make(map[stock.LevelKey]stock.LocationLevel),
		locations:    make(map[stock.LocationID]stock.Location),
		now:          time.Now,
	}
}

var (
	_ stock.TxStore       = (*Memory)(nil)
	_ stock.LevelStore    = (*Memory)(nil)
	_ stock.LocationStore = (*Memory)(nil)
)

// =============================================================================
// TRANSACTIONS
// =============================================================================

// Append adds a single transaction. Append-only.
func (m *Memory) Append(_ context.Context, tx stock.Transaction) (stock.TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tx)
}

func (m *Memory) appendLocked(tx stock.Transaction) (stock.TransactionID, error) {
	if tx.IdempotencyKey != "" {
		if _, ok := m.idempotency[tx.IdempotencyKey]; ok {
			return 0, stock.ErrDuplicateIdempotencyKey
		}
		if _, ok := m.pruned[tx.IdempotencyKey]; ok {
			return 0, stock.ErrDuplicateIdempotencyKey
		}
	}

	m.lastID++
	tx.ID = m.lastID
	tx.Metadata = copyMetadata(tx.Metadata)

	k := tx.Key()
	m.transactions[k] = append(m.transactions[k], tx)
	m.keyOf[tx.ID] = k
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = tx.ID
	}
	return tx.ID, nil
}

func (m *Memory) GetTransaction(_ context.Context, id stock.TransactionID) (*stock.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id), nil
}

func (m *Memory) getLocked(id stock.TransactionID) *stock.Transaction {
	k, ok := m.keyOf[id]
	if !ok {
		return nil
	}
	txs := m.transactions[k]
	i := sort.Search(len(txs), func(i int) bool { return txs[i].ID >= id })
	if i == len(txs) || txs[i].ID != id {
		return nil
	}
	tx := txs[i]
	tx.Metadata = copyMetadata(tx.Metadata)
	return &tx
}

func (m *Memory) FindByIdempotencyKey(_ context.Context, key string) (*stock.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(key), nil
}

func (m *Memory) findLocked(key string) *stock.Transaction {
	id, ok := m.idempotency[key]
	if !ok {
		if tx, ok := m.pruned[key]; ok {
			tx.Metadata = copyMetadata(tx.Metadata)
			return &tx
		}
		return nil
	}
	return m.getLocked(id)
}

func (m *Memory) LatestTransactionID(_ context.Context, key stock.LevelKey) (stock.TransactionID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLocked(key), nil
}

func (m *Memory) latestLocked(key stock.LevelKey) stock.TransactionID {
	txs := m.transactions[key]
	if len(txs) == 0 {
		return 0
	}
	return txs[len(txs)-1].ID
}

func (m *Memory) SumInRange(_ context.Context, key stock.LevelKey, after, through stock.TransactionID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumLocked(key, after, through), nil
}

func (m *Memory) sumLocked(key stock.LevelKey, after, through stock.TransactionID) decimal.Decimal {
	txs := m.transactions[key]
	// Binary search for the first id past the checkpoint: O(log n + delta)
	i := sort.Search(len(txs), func(i int) bool { return txs[i].ID > after })
	sum := decimal.Zero
	for ; i < len(txs); i++ {
		if through != 0 && txs[i].ID > through {
			break
		}
		sum = sum.Add(txs[i].Quantity)
	}
	return sum
}

func (m *Memory) ListTransactions(_ context.Context, filter stock.TransactionFilter) ([]stock.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) listLocked(filter stock.TransactionFilter) []stock.Transaction {
	var result []stock.Transaction
	for k, txs := range m.transactions {
		if filter.LocationID != 0 && k.LocationID != filter.LocationID {
			continue
		}
		if filter.EntityID != "" && k.EntityID != filter.EntityID {
			continue
		}
		for _, tx := range txs {
			if tx.ID > filter.AfterID {
				tx.Metadata = copyMetadata(tx.Metadata)
				result = append(result, tx)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func (m *Memory) DeleteThrough(_ context.Context, key stock.LevelKey, through stock.TransactionID, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(key, through, cutoff)
}

func (m *Memory) deleteLocked(key stock.LevelKey, through stock.TransactionID, cutoff time.Time) (int64, error) {
	if through > m.levels[key].LastTransactionID {
		return 0, stock.ErrRetentionViolation
	}
	txs := m.transactions[key]
	kept := txs[:0:0]
	var deleted int64
	for _, tx := range txs {
		if tx.ID <= through && tx.TransactionTime.Before(cutoff) {
			delete(m.keyOf, tx.ID)
			if tx.IdempotencyKey != "" {
				delete(m.idempotency, tx.IdempotencyKey)
				m.pruned[tx.IdempotencyKey] = tx
			}
			deleted++
			continue
		}
		kept = append(kept, tx)
	}
	m.transactions[key] = kept
	return deleted, nil
}

// =============================================================================
// LEVELS
// =============================================================================

func (m *Memory) GetLevel(_ context.Context, key stock.LevelKey) (stock.LocationLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.levels[key]; ok {
		return l, nil
	}
	return stock.LocationLevel{LocationID: key.LocationID, EntityID: key.EntityID, Qty: decimal.Zero}, nil
}

func (m *Memory) SetLevel(_ context.Context, level stock.LocationLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[level.Key()] = level
	return nil
}

func (m *Memory) CompareAndSetLevel(_ context.Context, expectedLast stock.TransactionID, level stock.LocationLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels[level.Key()].LastTransactionID != expectedLast {
		return stock.ErrConcurrentModification
	}
	m.levels[level.Key()] = level
	return nil
}

func (m *Memory) StaleLevels(_ context.Context, limit int) ([]stock.LevelKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []stock.LevelKey
	for k := range m.transactions {
		if m.latestLocked(k) > m.levels[k].LastTransactionID {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

func (m *Memory) ListLevels(_ context.Context) ([]stock.LocationLevel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	levels := make([]stock.LocationLevel, 0, len(m.levels))
	for _, l := range m.levels {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool {
		return keyLess(levels[i].Key(), levels[j].Key())
	})
	return levels, nil
}

// =============================================================================
// LOCATIONS
// =============================================================================

func (m *Memory) SaveLocation(_ context.Context, loc stock.Location) (stock.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if loc.ID == 0 {
		m.lastLocationID++
		loc.ID = m.lastLocationID
		loc.CreatedAt = now
	} else {
		existing, ok := m.locations[loc.ID]
		if !ok {
			return stock.Location{}, stock.ErrLocationNotFound
		}
		loc.CreatedAt = existing.CreatedAt
	}
	loc.UpdatedAt = now
	m.locations[loc.ID] = loc
	return loc, nil
}

func (m *Memory) GetLocation(_ context.Context, id stock.LocationID) (*stock.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (m *Memory) ListLocations(_ context.Context, activeOnly bool) ([]stock.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	locs := make([]stock.Location, 0, len(m.locations))
	for _, l := range m.locations {
		if activeOnly && !l.Active {
			continue
		}
		locs = append(locs, l)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].ID < locs[j].ID })
	return locs, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(stock.TransactionStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	lastID       stock.TransactionID
	transactions map[stock.LevelKey][]stock.Transaction
	keyOf        map[stock.TransactionID]stock.LevelKey
	idempotency  map[string]stock.TransactionID
	pruned       map[string]stock.Transaction
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		lastID:       m.lastID,
		transactions: make(map[stock.LevelKey][]stock.Transaction, len(m.transactions)),
		keyOf:        make(map[stock.TransactionID]stock.LevelKey, len(m.keyOf)),
		idempotency:  make(map[string]stock.TransactionID, len(m.idempotency)),
		pruned:       make(map[string]stock.Transaction, len(m.pruned)),
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]stock.Transaction(nil), v...)
	}
	for k, v := range m.keyOf {
		s.keyOf[k] = v
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.pruned {
		s.pruned[k] = v
	}
	return s
}

// restore keeps lastID monotonic: ids consumed by a rolled back write are
// never handed out again.
func (m *Memory) restore(s memorySnapshot) {
	m.transactions = s.transactions
	m.keyOf = s.keyOf
	m.idempotency = s.idempotency
	m.pruned = s.pruned
}

// txMemoryView runs under the parent's write lock.
type txMemoryView struct {
	parent *Memory
}

func (v *txMemoryView) Append(_ context.Context, tx stock.Transaction) (stock.TransactionID, error) {
	return v.parent.appendLocked(tx)
}

func (v *txMemoryView) GetTransaction(_ context.Context, id stock.TransactionID) (*stock.Transaction, error) {
	return v.parent.getLocked(id), nil
}

func (v *txMemoryView) FindByIdempotencyKey(_ context.Context, key string) (*stock.Transaction, error) {
	return v.parent.findLocked(key), nil
}

func (v *txMemoryView) LatestTransactionID(_ context.Context, key stock.LevelKey) (stock.TransactionID, error) {
	return v.parent.latestLocked(key), nil
}

func (v *txMemoryView) SumInRange(_ context.Context, key stock.LevelKey, after, through stock.TransactionID) (decimal.Decimal, error) {
	return v.parent.sumLocked(key, after, through), nil
}

func (v *txMemoryView) ListTransactions(_ context.Context, filter stock.TransactionFilter) ([]stock.Transaction, error) {
	return v.parent.listLocked(filter), nil
}

func (v *txMemoryView) DeleteThrough(_ context.Context, key stock.LevelKey, through stock.TransactionID, cutoff time.Time) (int64, error) {
	return v.parent.deleteLocked(key, through, cutoff)
}

// =============================================================================
// HELPERS
// =============================================================================

func copyMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

func keyLess(a, b stock.LevelKey) bool {
	if a.LocationID != b.LocationID {
		return a.LocationID < b.LocationID
	}
	return a.EntityID < b.EntityID
}

func sortKeys(keys []stock.LevelKey) {
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })
}

// Reset clears all data. Id counters keep counting so ids stay monotonic.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transactions = make(map[stock.LevelKey][]stock.Transaction)
	m.keyOf = make(map[stock.TransactionID]stock.LevelKey)
	m.idempotency = make(map[string]stock.TransactionID)
	m.pruned = make(map[string]stock.Transaction)
	m.levels = make(map[stock.LevelKey]stock.LocationLevel)
	m.locations = make(map[stock.LocationID]stock.Location)
	return nil
}
