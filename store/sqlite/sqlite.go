/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists accounts, categories, transactions, debts, notifications,
  device tokens and calendar events. Every query is scoped by user_id;
  a row owned by another user is reported as ledger.ErrNotFound.

KEY TABLES:
  accounts:        per-user accounts, one flagged is_default
  categories:      UNIQUE(user_id, name, type)
  transactions:    amount stored as TEXT (exact decimal), occurred_date
                   precomputed in the business time zone for range filters
  debts:           CHECK that closed_at is set iff is_closed
  notifications:   payload as JSON text
  device_tokens:   UNIQUE(token)
  calendar_events: starts_date precomputed like occurred_date

INDEXES:
  - idx_accounts_one_default: at most one default account per user; this
    is what makes concurrent EnsureDefaultAccount calls create one row
  - idx_transactions_user_occurred: dashboard "last transactions" (hot path)
  - idx_transactions_user_type_date: summary/by-category aggregation

ATOMICITY:
  WithTx() begins an IMMEDIATE transaction (see _txlock in the DSN) and
  hands fn a Store bound to it. Nested WithTx calls reuse the outer
  transaction.

CASE-INSENSITIVE SEARCH:
  SQLite's lower() only folds ASCII. The driver registers ulower() backed
  by strings.ToLower so Cyrillic titles match `q` filters too.

USAGE:
  store, err := sqlite.New("./data/finance.db", sqlite.WithLocation(loc))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/finance-engine/ledger"
)

const driverName = "sqlite3_finance"

var registerOnce sync.Once

func registerDriver() {
	registerOnce.Do(func() {
		sql.Register(driverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("ulower", strings.ToLower, true)
			},
		})
	})
}

// timeLayout is fixed-width UTC so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Ensure Store implements ledger.Store
var _ ledger.Store = (*Store)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Store using SQLite.
type Store struct {
	db   *sql.DB
	q    querier
	inTx bool
	loc  *time.Location
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the time zone business dates are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// WithClock overrides time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	registerDriver()

	memory := dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if !memory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, q: db, loc: time.UTC, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Location returns the business time zone.
func (s *Store) Location() *time.Location {
	return s.loc
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'KGS',
		is_default INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_user
		ON accounts(user_id, id);

	-- One lazily-created default account per user
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_one_default
		ON accounts(user_id) WHERE is_default = 1;

	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('INCOME', 'EXPENSE')),
		created_at TEXT NOT NULL,
		UNIQUE(user_id, name, type)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
		type TEXT NOT NULL CHECK (type IN ('INCOME', 'EXPENSE')),
		amount TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		occurred_at TEXT NOT NULL,
		occurred_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_occurred
		ON transactions(user_id, occurred_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_type_date
		ON transactions(user_id, type, occurred_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_category
		ON transactions(category_id) WHERE category_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id);

	CREATE TABLE IF NOT EXISTS debts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		kind TEXT NOT NULL CHECK (kind IN ('RECEIVABLE', 'PAYABLE')),
		person_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		due_date TEXT,
		description TEXT NOT NULL DEFAULT '',
		is_closed INTEGER NOT NULL DEFAULT 0,
		closed_at TEXT,
		created_at TEXT NOT NULL,
		CHECK ((is_closed = 1) = (closed_at IS NOT NULL))
	);

	CREATE INDEX IF NOT EXISTS idx_debts_user
		ON debts(user_id, is_closed, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		type TEXT NOT NULL DEFAULT 'SYSTEM',
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		payload_json TEXT NOT NULL DEFAULT '{}',
		is_read INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user
		ON notifications(user_id, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS device_tokens (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token TEXT NOT NULL UNIQUE,
		platform TEXT NOT NULL DEFAULT 'ANDROID',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_device_tokens_user
		ON device_tokens(user_id) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS calendar_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		starts_at TEXT NOT NULL,
		starts_date TEXT NOT NULL,
		repeat TEXT NOT NULL DEFAULT 'NONE',
		reminder_minutes INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_calendar_events_user
		ON calendar_events(user_id, starts_at, id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx, inTx: true, loc: s.loc, now: s.now}
	if err := fn(txStore); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// atomic runs fn in a transaction unless one is already open.
func (s *Store) atomic(ctx context.Context, fn func(*Store) error) error {
	return s.WithTx(ctx, func(tx ledger.Store) error {
		return fn(tx.(*Store))
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func (s *Store) businessDate(t time.Time) string {
	return ledger.BusinessDate(t, s.loc)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

func parseNullDate(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(ledger.DateLayout, v.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(ledger.DateLayout), Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError reports a UNIQUE or PRIMARY KEY violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// affectedOrNotFound turns a zero-row UPDATE/DELETE into a NotFoundError.
func affectedOrNotFound(res sql.Result, resource string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &ledger.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

// like builds the ulower() search needle for a free-text query.
func like(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
