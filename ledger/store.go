/*
store.go - Persistence contract for the ledger

PURPOSE:
  Defines the interface between the domain services and the database.
  Every method is scoped by UserID: a row owned by another user behaves
  exactly like a missing row (ErrNotFound).

KEY INTERFACES:
  AccountStore, CategoryStore, TransactionStore, DebtStore:  ledger CRUD
  NotificationStore, DeviceStore, EventStore:                 notification side
  Store:  all of the above plus WithTx for atomic units of work

ATOMIC UNITS:
  WithTx() runs fn against a Store bound to one database transaction.
  If fn returns an error everything is rolled back. The debt settlement
  workflow (service/settlement.go) closes the debt and appends the
  settlement transaction through a single WithTx call.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via database/sql

SEE ALSO:
  - types.go: row types
  - accounts.go: default account resolution on top of AccountStore
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// FILTERS
// =============================================================================

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	Type       TxType
	AccountID  int64
	CategoryID int64
	Query      string // case-insensitive substring of title or note
	Range      DateRange
	Limit      int
}

// AmountFilter narrows AmountRows for aggregation.
type AmountFilter struct {
	Type  TxType
	Range DateRange
}

// AmountRow is the projection the aggregation engine sums over.
type AmountRow struct {
	Type         TxType
	CategoryID   *int64
	CategoryName string
	Amount       Money
}

// DebtFilter narrows ListDebts.
type DebtFilter struct {
	Kind     DebtKind
	IsClosed *bool
	Query    string // case-insensitive substring of person name or description
	DueRange DateRange
}

// =============================================================================
// STORES
// =============================================================================

type AccountStore interface {
	ListAccounts(ctx context.Context, user UserID) ([]Account, error)
	GetAccount(ctx context.Context, user UserID, id int64) (Account, error)
	CreateAccount(ctx context.Context, acc Account) (Account, error)
	UpdateAccount(ctx context.Context, acc Account) (Account, error)
	// DeleteAccount returns ErrLastAccount when id is the user's only account.
	DeleteAccount(ctx context.Context, user UserID, id int64) error

	// FirstAccount returns the user's lowest-id account, if any.
	FirstAccount(ctx context.Context, user UserID) (Account, bool, error)
	// CreateDefaultAccount inserts the default account guarded by a
	// per-user uniqueness constraint. Returns ErrConflict if another
	// caller created it first.
	CreateDefaultAccount(ctx context.Context, user UserID) (Account, error)
}

type CategoryStore interface {
	ListCategories(ctx context.Context, user UserID, typ TxType) ([]Category, error)
	GetCategory(ctx context.Context, user UserID, id int64) (Category, error)
	// CreateCategory and UpdateCategory return a ConflictError when
	// (user, name, type) already exists.
	CreateCategory(ctx context.Context, c Category) (Category, error)
	UpdateCategory(ctx context.Context, c Category) (Category, error)
	// DeleteCategory detaches referencing transactions (category -> NULL).
	DeleteCategory(ctx context.Context, user UserID, id int64) error
}

type TransactionStore interface {
	ListTransactions(ctx context.Context, user UserID, f TransactionFilter) ([]Transaction, error)
	GetTransaction(ctx context.Context, user UserID, id int64) (Transaction, error)
	CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	UpdateTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	DeleteTransaction(ctx context.Context, user UserID, id int64) error

	// AmountRows returns the (type, category, amount) projection for aggregation.
	AmountRows(ctx context.Context, user UserID, f AmountFilter) ([]AmountRow, error)
}

type DebtStore interface {
	ListDebts(ctx context.Context, user UserID, f DebtFilter) ([]Debt, error)
	GetDebt(ctx context.Context, user UserID, id int64) (Debt, error)
	CreateDebt(ctx context.Context, d Debt) (Debt, error)
	UpdateDebt(ctx context.Context, d Debt) (Debt, error)
	DeleteDebt(ctx context.Context, user UserID, id int64) error

	// MarkDebtClosed flips an open debt to closed. Returns false if the
	// debt was already closed, so concurrent closes settle exactly once.
	MarkDebtClosed(ctx context.Context, user UserID, id int64, at time.Time) (bool, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n Notification) (Notification, error)
	ListNotifications(ctx context.Context, user UserID, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, user UserID, id int64) error
	MarkAllNotificationsRead(ctx context.Context, user UserID) (int64, error)
}

type DeviceStore interface {
	// UpsertDeviceToken inserts or re-assigns token to d.UserID and reactivates it.
	UpsertDeviceToken(ctx context.Context, d DeviceToken) (DeviceToken, error)
	ActiveDeviceTokens(ctx context.Context, user UserID) ([]DeviceToken, error)
	DeactivateDeviceToken(ctx context.Context, token string) error
}

type EventStore interface {
	ListEvents(ctx context.Context, user UserID, r DateRange) ([]CalendarEvent, error)
	GetEvent(ctx context.Context, user UserID, id int64) (CalendarEvent, error)
	CreateEvent(ctx context.Context, e CalendarEvent) (CalendarEvent, error)
	UpdateEvent(ctx context.Context, e CalendarEvent) (CalendarEvent, error)
	DeleteEvent(ctx context.Context, user UserID, id int64) error
}

// Store is the full ledger persistence surface.
type Store interface {
	AccountStore
	CategoryStore
	TransactionStore
	DebtStore
	NotificationStore
	DeviceStore
	EventStore

	// WithTx executes fn within a database transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
