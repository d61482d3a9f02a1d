/*
Package sqlite provides a SQLite-backed implementation of settlement.TxStore.

PURPOSE:
  Persists obligations, their settlement history, the ledger facts owned by
  the transaction/payment workflow, balance corrections and drift-scan runs.
  In production, the same patterns apply to PostgreSQL with minor dialect
  differences.

INTERFACES IMPLEMENTED:
  settlement.TxStore:      Obligations, ledger facts, balance writes, audit lookups
  settlement.ScanRunStore: Drift-scan run records

APPEND-ONLY ENFORCEMENT:
  - expenses.amount is never updated; only settled_at is written, once
  - expense_settlements rows are never updated or deleted
  - trg_settlement_cap aborts any insert that would settle more than the
    obligation amount, so over-settlement is impossible even for writers
    that bypass this package

KEY TABLES:
  expenses:            Obligations (expense, advance, adjustment)
  expense_settlements: Immutable repayment records
  users:               Cached balance with a version for compare-and-set
  transactions, payments, payment_allocations: Ledger facts (read-only here)
  balance_corrections: Audit trail of FixBalanceDrift writes
  drift_scan_runs:     Scheduler history

MONEY:
  Amounts are stored as TEXT decimal strings and summed in Go with
  shopspring/decimal. SQLite's SUM would go through float64.

CONCURRENCY:
  The DSN sets _txlock=immediate, so WithTx starts with BEGIN IMMEDIATE and
  holds the write lock for the whole allocation. Concurrent writers wait up to
  _busy_timeout. ":memory:" databases are pinned to a single connection,
  because every new connection would otherwise open an empty database.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := settlement.NewService(store)

SEE ALSO:
  - settlement/store.go: Interface definitions
  - settlement/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/settlement"
)

// tsLayout is fixed-width so lexical order in SQL matches time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements settlement.Store against a querier. Store uses it over
// the pool; WithTx uses it over a *sql.Tx.
type queries struct {
	q querier
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

var (
	_ settlement.TxStore      = (*Store)(nil)
	_ settlement.ScanRunStore = (*Store)(nil)
	_ settlement.Store        = (*queries)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		shop_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		role TEXT NOT NULL,
		balance TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_shop ON users(shop_id);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	-- Ledger facts written by the transaction/payment workflow
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY,
		shop_id INTEGER NOT NULL,
		farmer_id INTEGER NOT NULL,
		buyer_id INTEGER NOT NULL,
		total_amount TEXT NOT NULL,
		farmer_earning TEXT NOT NULL,
		commission TEXT NOT NULL DEFAULT '0',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_farmer ON transactions(farmer_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_buyer ON transactions(buyer_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_shop ON transactions(shop_id);

	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY,
		shop_id INTEGER NOT NULL,
		payer_type TEXT NOT NULL,
		payee_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_shop ON payments(shop_id);

	CREATE TABLE IF NOT EXISTS payment_allocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id INTEGER NOT NULL REFERENCES payments(id),
		transaction_id INTEGER NOT NULL REFERENCES transactions(id),
		allocated_amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_payment ON payment_allocations(payment_id);
	CREATE INDEX IF NOT EXISTS idx_allocations_transaction ON payment_allocations(transaction_id);

	-- Obligations (amount immutable, settled_at written once)
	CREATE TABLE IF NOT EXISTS expenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		shop_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		transaction_id INTEGER,
		amount TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'expense',
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		settled_at TEXT
	);

	-- FIFO hot path
	CREATE INDEX IF NOT EXISTS idx_expenses_pending
		ON expenses(shop_id, user_id, created_at, id) WHERE settled_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_expenses_user ON expenses(user_id);

	-- Settlements (append-only)
	CREATE TABLE IF NOT EXISTS expense_settlements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		expense_id INTEGER NOT NULL REFERENCES expenses(id),
		payment_id INTEGER,
		amount TEXT NOT NULL,
		settled_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_expense ON expense_settlements(expense_id);

	CREATE TRIGGER IF NOT EXISTS trg_settlement_cap
	BEFORE INSERT ON expense_settlements
	BEGIN
		SELECT RAISE(ABORT, 'over_settlement')
		WHERE (SELECT COALESCE(SUM(CAST(amount AS REAL)), 0) FROM expense_settlements WHERE expense_id = NEW.expense_id)
			+ CAST(NEW.amount AS REAL)
			> (SELECT CAST(amount AS REAL) FROM expenses WHERE id = NEW.expense_id) + 0.000001;
	END;

	CREATE TABLE IF NOT EXISTS balance_corrections (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		before_balance TEXT NOT NULL,
		after_balance TEXT NOT NULL,
		drift TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_corrections_user ON balance_corrections(user_id, created_at);

	CREATE TABLE IF NOT EXISTS drift_scan_runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		scanned INTEGER NOT NULL DEFAULT 0,
		drifted INTEGER NOT NULL DEFAULT 0,
		fixed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes fn within a database transaction. Every read and write fn
// makes through the supplied Store goes through the same *sql.Tx.
func (s *Store) WithTx(ctx context.Context, fn func(store settlement.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset deletes every row and restarts AUTOINCREMENT sequences. Children
// go first so foreign keys hold throughout.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"expense_settlements",
		"expenses",
		"payment_allocations",
		"payments",
		"transactions",
		"balance_corrections",
		"drift_scan_runs",
		"users",
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := sqlTx.ExecContext(ctx, `DELETE FROM sqlite_sequence`); err != nil {
		return fmt.Errorf("failed to reset sequences: %w", err)
	}

	return sqlTx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// sumDecimals runs a query returning one TEXT amount column and sums it.
func (r *queries) sumDecimals(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		d, err := parseAmount(v)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// parseAmount reads a TEXT amount column. Rows written by the payment
// workflow are not validated here on insert, so a bad value is an error.
func parseAmount(v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", v, err)
	}
	return d, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isOverSettlementError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "over_settlement")
}
