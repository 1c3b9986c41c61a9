/*
Package sqlite provides a SQLite-backed implementation of the stock stores.

PURPOSE:
  Implements every persistence interface of package stock (TxStore,
  LevelStore, LocationStore) on SQLite through sqlx. The same access
  patterns map directly onto PostgreSQL or MySQL.

INTERFACES IMPLEMENTED:
  stock.TransactionStore: Append-only transaction log
  stock.TxStore:          Multi-row atomic writes (move legs)
  stock.LevelStore:       Checkpoints with compare-and-set
  stock.LocationStore:    Location administration

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on the transactions table
  - DELETE only through DeleteThrough, which refuses anything past the
    key's checkpoint

KEY TABLES:
  transactions:        Immutable ledger of stock movements
  pruned_transactions: Keyed rows removed by retention (replay lookups only)
  location_levels:     One checkpoint per (location_id, entity_id)
  locations:           Stock locations (soft-deactivated, never deleted)

INDEXES:
  - idx_transactions_key: (location_id, entity_id, id), the range-sum hot path
  - idempotency_key UNIQUE: replay detection
  - location_levels PRIMARY KEY (location_id, entity_id): point lookups

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; SQLite allows a single writer.
  Checkpoint updates are additionally guarded by a conditional write on
  last_transaction_id, so a second process sharing the file cannot lose
  an update either.

PRECISION:
  Quantities are stored as decimal text and summed with shopspring/decimal
  in Go. SQLite's SUM would go through float64.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store)
  agg := stock.NewAggregator(store, store, nil, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/stock"
)

// timeLayout sorts lexicographically in UTC, which DeleteThrough relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db  *sqlx.DB
	mu  sync.RWMutex
	now func() time.Time
}

var (
	_ stock.TxStore       = (*Store)(nil)
	_ stock.LevelStore    = (*Store)(nil)
	_ stock.LocationStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := Open(db)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Open wraps an existing connection without migrating it.
func Open(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the database schema.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		location_id INTEGER NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		unit_cost TEXT,
		currency_code TEXT NOT NULL DEFAULT '',
		transaction_time TEXT NOT NULL,
		transaction_type INTEGER NOT NULL,
		related_transaction_id INTEGER,
		related_order_id TEXT NOT NULL DEFAULT '',
		related_user_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT
	);

	-- Range sums per (location, entity) past a checkpoint (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_key
		ON transactions(location_id, entity_id, id);

	CREATE INDEX IF NOT EXISTS idx_transactions_order
		ON transactions(related_order_id) WHERE related_order_id != '';

	-- Keyed rows removed by retention, kept for idempotent replays
	CREATE TABLE IF NOT EXISTS pruned_transactions (
		id INTEGER PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		location_id INTEGER NOT NULL,
		zone TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		unit_cost TEXT,
		currency_code TEXT NOT NULL DEFAULT '',
		transaction_time TEXT NOT NULL,
		transaction_type INTEGER NOT NULL,
		related_transaction_id INTEGER,
		related_order_id TEXT NOT NULL DEFAULT '',
		related_user_id TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		metadata_json TEXT
	);

	-- Checkpoints
	CREATE TABLE IF NOT EXISTS location_levels (
		location_id INTEGER NOT NULL,
		entity_id TEXT NOT NULL,
		qty TEXT NOT NULL,
		last_transaction_id INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (location_id, entity_id)
	);

	-- Locations
	CREATE TABLE IF NOT EXISTS locations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		owner_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_locations_active
		ON locations(active);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTION STORE (stock.TransactionStore interface)
// =============================================================================

type transactionRow struct {
	ID                   int64          `db:"id"`
	EntityID             string         `db:"entity_id"`
	EntityType           string         `db:"entity_type"`
	LocationID           int64          `db:"location_id"`
	Zone                 string         `db:"zone"`
	Quantity             string         `db:"quantity"`
	UnitCost             sql.NullString `db:"unit_cost"`
	CurrencyCode         string         `db:"currency_code"`
	TransactionTime      string         `db:"transaction_time"`
	Type                 int            `db:"transaction_type"`
	RelatedTransactionID sql.NullInt64  `db:"related_transaction_id"`
	RelatedOrderID       string         `db:"related_order_id"`
	RelatedUserID        string         `db:"related_user_id"`
	IdempotencyKey       sql.NullString `db:"idempotency_key"`
	MetadataJSON         sql.NullString `db:"metadata_json"`
}

const transactionColumns = `id, entity_id, entity_type, location_id, zone, quantity, unit_cost,
	currency_code, transaction_time, transaction_type, related_transaction_id,
	related_order_id, related_user_id, idempotency_key, metadata_json`

func (r transactionRow) toTransaction() (stock.Transaction, error) {
	q, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return stock.Transaction{}, fmt.Errorf("transaction %d: bad quantity %q: %w", r.ID, r.Quantity, err)
	}
	tx := stock.Transaction{
		ID:             stock.TransactionID(r.ID),
		EntityID:       stock.EntityID(r.EntityID),
		EntityType:     stock.EntityType(r.EntityType),
		LocationID:     stock.LocationID(r.LocationID),
		Zone:           r.Zone,
		Quantity:       q,
		CurrencyCode:   r.CurrencyCode,
		Type:           stock.TransactionType(r.Type),
		RelatedOrderID: r.RelatedOrderID,
		RelatedUserID:  r.RelatedUserID,
		IdempotencyKey: r.IdempotencyKey.String,
	}
	if r.UnitCost.Valid {
		cost, err := decimal.NewFromString(r.UnitCost.String)
		if err != nil {
			return stock.Transaction{}, fmt.Errorf("transaction %d: bad unit cost %q: %w", r.ID, r.UnitCost.String, err)
		}
		tx.UnitCost = decimal.NewNullDecimal(cost)
	}
	if r.RelatedTransactionID.Valid {
		tx.RelatedTransactionID = stock.TransactionID(r.RelatedTransactionID.Int64)
	}
	tx.TransactionTime, err = time.Parse(timeLayout, r.TransactionTime)
	if err != nil {
		return stock.Transaction{}, fmt.Errorf("transaction %d: bad time %q: %w", r.ID, r.TransactionTime, err)
	}
	if r.MetadataJSON.Valid && r.MetadataJSON.String != "" {
		if err := json.Unmarshal([]byte(r.MetadataJSON.String), &tx.Metadata); err != nil {
			return stock.Transaction{}, fmt.Errorf("transaction %d: bad metadata: %w", r.ID, err)
		}
	}
	return tx, nil
}

// Append adds a transaction to the ledger.
func (s *Store) Append(ctx context.Context, tx stock.Transaction) (stock.TransactionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return appendTx(ctx, s.db, tx)
}

func appendTx(ctx context.Context, db sqlx.ExtContext, tx stock.Transaction) (stock.TransactionID, error) {
	if tx.IdempotencyKey != "" {
		var pruned int
		err := sqlx.GetContext(ctx, db, &pruned,
			"SELECT COUNT(*) FROM pruned_transactions WHERE idempotency_key = ?", tx.IdempotencyKey)
		if err != nil {
			return 0, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if pruned > 0 {
			return 0, stock.ErrDuplicateIdempotencyKey
		}
	}

	var metadataJSON sql.NullString
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	var unitCost sql.NullString
	if tx.UnitCost.Valid {
		unitCost = sql.NullString{String: tx.UnitCost.Decimal.String(), Valid: true}
	}

	query := `
		INSERT INTO transactions
		(entity_id, entity_type, location_id, zone, quantity, unit_cost, currency_code,
		 transaction_time, transaction_type, related_transaction_id, related_order_id,
		 related_user_id, idempotency_key, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := db.ExecContext(ctx, query,
		string(tx.EntityID),
		string(tx.EntityType),
		int64(tx.LocationID),
		tx.Zone,
		tx.Quantity.String(),
		unitCost,
		tx.CurrencyCode,
		tx.TransactionTime.UTC().Format(timeLayout),
		int(tx.Type),
		nullInt(int64(tx.RelatedTransactionID)),
		tx.RelatedOrderID,
		tx.RelatedUserID,
		nullString(tx.IdempotencyKey),
		metadataJSON,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, stock.ErrDuplicateIdempotencyKey
		}
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transaction id: %w", err)
	}
	return stock.TransactionID(id), nil
}

// GetTransaction returns a specific transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id stock.TransactionID) (*stock.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getTransaction(ctx, s.db, "id = ?", int64(id))
}

// FindByIdempotencyKey returns nil, nil if the key was never written.
func (s *Store) FindByIdempotencyKey(ctx context.Context, key string) (*stock.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return findByIdempotencyKey(ctx, s.db, key)
}

// findByIdempotencyKey falls back to rows removed by retention.
func findByIdempotencyKey(ctx context.Context, q sqlx.QueryerContext, key string) (*stock.Transaction, error) {
	tx, err := getTransaction(ctx, q, "idempotency_key = ?", key)
	if err != nil || tx != nil {
		return tx, err
	}
	return getTransactionFrom(ctx, q, "pruned_transactions", "idempotency_key = ?", key)
}

func getTransaction(ctx context.Context, q sqlx.QueryerContext, where string, arg any) (*stock.Transaction, error) {
	return getTransactionFrom(ctx, q, "transactions", where, arg)
}

func getTransactionFrom(ctx context.Context, q sqlx.QueryerContext, table, where string, arg any) (*stock.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+transactionColumns+" FROM "+table+" WHERE "+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	tx, err := row.toTransaction()
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// LatestTransactionID returns the newest id for key, or 0.
func (s *Store) LatestTransactionID(ctx context.Context, key stock.LevelKey) (stock.TransactionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return latestTransactionID(ctx, s.db, key)
}

func latestTransactionID(ctx context.Context, q sqlx.QueryerContext, key stock.LevelKey) (stock.TransactionID, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id,
		"SELECT COALESCE(MAX(id), 0) FROM transactions WHERE location_id = ? AND entity_id = ?",
		int64(key.LocationID), string(key.EntityID))
	if err != nil {
		return 0, fmt.Errorf("failed to get latest transaction id: %w", err)
	}
	return stock.TransactionID(id), nil
}

// SumInRange sums quantities with after < id <= through (unbounded if through is 0).
func (s *Store) SumInRange(ctx context.Context, key stock.LevelKey, after, through stock.TransactionID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return sumInRange(ctx, s.db, key, after, through)
}

func sumInRange(ctx context.Context, q sqlx.QueryerContext, key stock.LevelKey, after, through stock.TransactionID) (decimal.Decimal, error) {
	query := "SELECT quantity FROM transactions WHERE location_id = ? AND entity_id = ? AND id > ?"
	args := []any{int64(key.LocationID), string(key.EntityID), int64(after)}
	if through != 0 {
		query += " AND id <= ?"
		args = append(args, int64(through))
	}

	var quantities []string
	if err := sqlx.SelectContext(ctx, q, &quantities, query, args...); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum transactions: %w", err)
	}

	sum := decimal.Zero
	for _, raw := range quantities {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad quantity %q: %w", raw, err)
		}
		sum = sum.Add(v)
	}
	return sum, nil
}

// ListTransactions returns matching transactions, oldest first.
func (s *Store) ListTransactions(ctx context.Context, filter stock.TransactionFilter) ([]stock.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listTransactions(ctx, s.db, filter)
}

func listTransactions(ctx context.Context, q sqlx.QueryerContext, filter stock.TransactionFilter) ([]stock.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.LocationID != 0 {
		where = append(where, "location_id = ?")
		args = append(args, int64(filter.LocationID))
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, string(filter.EntityID))
	}
	if filter.AfterID != 0 {
		where = append(where, "id > ?")
		args = append(args, int64(filter.AfterID))
	}

	query := "SELECT " + transactionColumns + " FROM transactions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	txs := make([]stock.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := r.toTransaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// DeleteThrough removes folded transactions older than cutoff. The
// checkpoint check and the delete run in one database transaction.
func (s *Store) DeleteThrough(ctx context.Context, key stock.LevelKey, through stock.TransactionID, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	n, err := deleteThrough(ctx, sqlTx, key, through, cutoff)
	if err != nil {
		return 0, err
	}
	if err := sqlTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return n, nil
}

func deleteThrough(ctx context.Context, db sqlx.ExtContext, key stock.LevelKey, through stock.TransactionID, cutoff time.Time) (int64, error) {
	cp, err := getLevel(ctx, db, key)
	if err != nil {
		return 0, err
	}
	if through > cp.LastTransactionID {
		return 0, stock.ErrRetentionViolation
	}

	args := []any{int64(key.LocationID), string(key.EntityID), int64(through), cutoff.UTC().Format(timeLayout)}
	_, err = db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pruned_transactions (`+transactionColumns+`)
		SELECT `+transactionColumns+` FROM transactions
		WHERE location_id = ? AND entity_id = ? AND id <= ? AND transaction_time < ?
			AND idempotency_key IS NOT NULL`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to keep pruned idempotency keys: %w", err)
	}

	res, err := db.ExecContext(ctx, `
		DELETE FROM transactions
		WHERE location_id = ? AND entity_id = ? AND id <= ? AND transaction_time < ?`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions: %w", err)
	}
	return res.RowsAffected()
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(stock.TransactionStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction. It never takes
// the parent's mutex, which WithTx already holds.
type txStore struct {
	tx *sqlx.Tx
}

func (ts *txStore) Append(ctx context.Context, tx stock.Transaction) (stock.TransactionID, error) {
	return appendTx(ctx, ts.tx, tx)
}

func (ts *txStore) GetTransaction(ctx context.Context, id stock.TransactionID) (*stock.Transaction, error) {
	return getTransaction(ctx, ts.tx, "id = ?", int64(id))
}

func (ts *txStore) FindByIdempotencyKey(ctx context.Context, key string) (*stock.Transaction, error) {
	return findByIdempotencyKey(ctx, ts.tx, key)
}

func (ts *txStore) LatestTransactionID(ctx context.Context, key stock.LevelKey) (stock.TransactionID, error) {
	return latestTransactionID(ctx, ts.tx, key)
}

func (ts *txStore) SumInRange(ctx context.Context, key stock.LevelKey, after, through stock.TransactionID) (decimal.Decimal, error) {
	return sumInRange(ctx, ts.tx, key, after, through)
}

func (ts *txStore) ListTransactions(ctx context.Context, filter stock.TransactionFilter) ([]stock.Transaction, error) {
	return listTransactions(ctx, ts.tx, filter)
}

func (ts *txStore) DeleteThrough(ctx context.Context, key stock.LevelKey, through stock.TransactionID, cutoff time.Time) (int64, error) {
	return deleteThrough(ctx, ts.tx, key, through, cutoff)
}

// =============================================================================
// LEVEL STORE (stock.LevelStore interface)
// =============================================================================

type levelRow struct {
	LocationID        int64  `db:"location_id"`
	EntityID          string `db:"entity_id"`
	Qty               string `db:"qty"`
	LastTransactionID int64  `db:"last_transaction_id"`
}

func (r levelRow) toLevel() (stock.LocationLevel, error) {
	q, err := decimal.NewFromString(r.Qty)
	if err != nil {
		return stock.LocationLevel{}, fmt.Errorf("level %d/%s: bad qty %q: %w", r.LocationID, r.EntityID, r.Qty, err)
	}
	return stock.LocationLevel{
		LocationID:        stock.LocationID(r.LocationID),
		EntityID:          stock.EntityID(r.EntityID),
		Qty:               q,
		LastTransactionID: stock.TransactionID(r.LastTransactionID),
	}, nil
}

// GetLevel returns the checkpoint, or an empty one if none was written.
func (s *Store) GetLevel(ctx context.Context, key stock.LevelKey) (stock.LocationLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getLevel(ctx, s.db, key)
}

func getLevel(ctx context.Context, q sqlx.QueryerContext, key stock.LevelKey) (stock.LocationLevel, error) {
	var row levelRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT location_id, entity_id, qty, last_transaction_id
		FROM location_levels WHERE location_id = ? AND entity_id = ?`,
		int64(key.LocationID), string(key.EntityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stock.LocationLevel{LocationID: key.LocationID, EntityID: key.EntityID, Qty: decimal.Zero}, nil
		}
		return stock.LocationLevel{}, fmt.Errorf("failed to get level: %w", err)
	}
	return row.toLevel()
}

// SetLevel upserts a checkpoint unconditionally.
func (s *Store) SetLevel(ctx context.Context, level stock.LocationLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO location_levels (location_id, entity_id, qty, last_transaction_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(location_id, entity_id) DO UPDATE SET
			qty = excluded.qty,
			last_transaction_id = excluded.last_transaction_id,
			updated_at = excluded.updated_at`,
		int64(level.LocationID), string(level.EntityID), level.Qty.String(),
		int64(level.LastTransactionID), s.timestamp())
	if err != nil {
		return fmt.Errorf("failed to set level: %w", err)
	}
	return nil
}

// CompareAndSetLevel writes level only if last_transaction_id still equals
// expectedLast. A missing row matches an expectedLast of 0.
func (s *Store) CompareAndSetLevel(ctx context.Context, expectedLast stock.TransactionID, level stock.LocationLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	if expectedLast == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO location_levels (location_id, entity_id, qty, last_transaction_id, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(location_id, entity_id) DO UPDATE SET
				qty = excluded.qty,
				last_transaction_id = excluded.last_transaction_id,
				updated_at = excluded.updated_at
			WHERE location_levels.last_transaction_id = 0`,
			int64(level.LocationID), string(level.EntityID), level.Qty.String(),
			int64(level.LastTransactionID), s.timestamp())
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE location_levels
			SET qty = ?, last_transaction_id = ?, updated_at = ?
			WHERE location_id = ? AND entity_id = ? AND last_transaction_id = ?`,
			level.Qty.String(), int64(level.LastTransactionID), s.timestamp(),
			int64(level.LocationID), string(level.EntityID), int64(expectedLast))
	}
	if err != nil {
		return fmt.Errorf("failed to update level: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rowsAffected == 0 {
		return stock.ErrConcurrentModification
	}
	return nil
}

// StaleLevels lists keys whose newest transaction is past the checkpoint.
func (s *Store) StaleLevels(ctx context.Context, limit int) ([]stock.LevelKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	var rows []struct {
		LocationID int64  `db:"location_id"`
		EntityID   string `db:"entity_id"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT t.location_id, t.entity_id
		FROM transactions t
		LEFT JOIN location_levels l
			ON l.location_id = t.location_id AND l.entity_id = t.entity_id
		GROUP BY t.location_id, t.entity_id
		HAVING MAX(t.id) > COALESCE(MAX(l.last_transaction_id), 0)
		ORDER BY t.location_id, t.entity_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale levels: %w", err)
	}

	keys := make([]stock.LevelKey, len(rows))
	for i, r := range rows {
		keys[i] = stock.LevelKey{LocationID: stock.LocationID(r.LocationID), EntityID: stock.EntityID(r.EntityID)}
	}
	return keys, nil
}

// ListLevels returns every checkpoint ordered by key.
func (s *Store) ListLevels(ctx context.Context) ([]stock.LocationLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []levelRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT location_id, entity_id, qty, last_transaction_id
		FROM location_levels
		ORDER BY location_id, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}

	levels := make([]stock.LocationLevel, 0, len(rows))
	for _, r := range rows {
		l, err := r.toLevel()
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, nil
}

// =============================================================================
// LOCATION STORE (stock.LocationStore interface)
// =============================================================================

type locationRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Active    bool   `db:"active"`
	OwnerID   string `db:"owner_id"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r locationRow) toLocation() (stock.Location, error) {
	created, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return stock.Location{}, fmt.Errorf("location %d: bad created_at %q: %w", r.ID, r.CreatedAt, err)
	}
	updated, err := time.Parse(timeLayout, r.UpdatedAt)
	if err != nil {
		return stock.Location{}, fmt.Errorf("location %d: bad updated_at %q: %w", r.ID, r.UpdatedAt, err)
	}
	return stock.Location{
		ID:        stock.LocationID(r.ID),
		Name:      r.Name,
		Active:    r.Active,
		OwnerID:   r.OwnerID,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

const locationColumns = "id, name, active, owner_id, created_at, updated_at"

// SaveLocation creates (ID == 0) or updates a location.
func (s *Store) SaveLocation(ctx context.Context, loc stock.Location) (stock.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timestamp()
	if loc.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO locations (name, active, owner_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			loc.Name, loc.Active, loc.OwnerID, now, now)
		if err != nil {
			return stock.Location{}, fmt.Errorf("failed to create location: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return stock.Location{}, fmt.Errorf("failed to read location id: %w", err)
		}
		loc.ID = stock.LocationID(id)
	} else {
		res, err := s.db.ExecContext(ctx, `
			UPDATE locations SET name = ?, active = ?, owner_id = ?, updated_at = ?
			WHERE id = ?`,
			loc.Name, loc.Active, loc.OwnerID, now, int64(loc.ID))
		if err != nil {
			return stock.Location{}, fmt.Errorf("failed to update location: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return stock.Location{}, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if n == 0 {
			return stock.Location{}, stock.ErrLocationNotFound
		}
	}

	saved, err := getLocation(ctx, s.db, loc.ID)
	if err != nil {
		return stock.Location{}, err
	}
	if saved == nil {
		return stock.Location{}, stock.ErrLocationNotFound
	}
	return *saved, nil
}

// GetLocation returns nil, nil if the location does not exist.
func (s *Store) GetLocation(ctx context.Context, id stock.LocationID) (*stock.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getLocation(ctx, s.db, id)
}

func getLocation(ctx context.Context, q sqlx.QueryerContext, id stock.LocationID) (*stock.Location, error) {
	var row locationRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT "+locationColumns+" FROM locations WHERE id = ?", int64(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get location: %w", err)
	}
	loc, err := row.toLocation()
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// ListLocations returns locations ordered by id.
func (s *Store) ListLocations(ctx context.Context, activeOnly bool) ([]stock.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + locationColumns + " FROM locations"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id"

	var rows []locationRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}

	locs := make([]stock.Location, len(rows))
	for i, r := range rows {
		loc, err := r.toLocation()
		if err != nil {
			return nil, err
		}
		locs[i] = loc
	}
	return locs, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "pruned_transactions", "location_levels", "locations"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v int64) sql.NullInt64 {
	if v == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
