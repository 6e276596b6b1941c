/*
Package ledger provides the domain model of the personal finance backend.

PURPOSE:
  Accounts, categories, transactions and debts owned by a single user,
  plus the notification records produced from financial activity. The
  package is I/O free: persistence lives behind the Store interface
  (store.go) and is implemented in store/sqlite.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: exact fixed-point amount with two fractional digits
  - TxType: INCOME or EXPENSE
  - DebtKind: RECEIVABLE (owed to the user) or PAYABLE (owed by the user)
  - Account, Category, Transaction, Debt: ledger rows, always user-scoped
  - Notification, DeviceToken, CalendarEvent: notification side records

DESIGN PRINCIPLES:
  1. Precision: Money wraps decimal.Decimal, never float64
  2. Ownership: every row carries its UserID; cross-user references are
     rejected at write time (see validate.go)
  3. Type Safety: TxType/DebtKind are closed string enums with Valid()

SEE ALSO:
  - store.go: persistence contract
  - errors.go: error taxonomy
  - period.go: business-date ranges
*/
package ledger

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact fixed-point amount
// =============================================================================

// MoneyScale is the number of fractional digits every amount is rounded to.
const MoneyScale = 2

// maxMoney bounds amounts to 12 digits total (10 integer + 2 fractional).
var maxMoney = decimal.New(1, 10)

// Money is a monetary amount. The zero value is 0.00.
type Money struct {
	Decimal decimal.Decimal
}

// NewMoney parses a decimal string such as "1500" or "12.50".
func NewMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d)
}

// MoneyFromDecimal validates precision and magnitude of d.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if !d.Equal(d.Round(MoneyScale)) {
		return Money{}, fmt.Errorf("amount %s has more than %d decimal places", d, MoneyScale)
	}
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return Money{}, fmt.Errorf("amount %s exceeds 10 integer digits", d)
	}
	return Money{Decimal: d}, nil
}

// MustMoney is NewMoney for constants and tests. Panics on bad input.
func MustMoney(s string) Money {
	m, err := NewMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func MoneyFromInt(v int64) Money { return Money{Decimal: decimal.NewFromInt(v)} }
func ZeroMoney() Money { return Money{Decimal: decimal.Zero} }

func (m Money) Add(o Money) Money { return Money{Decimal: m.Decimal.Add(o.Decimal)} }
func (m Money) Sub(o Money) Money { return Money{Decimal: m.Decimal.Sub(o.Decimal)} }
func (m Money) Cmp(o Money) int { return m.Decimal.Cmp(o.Decimal) }
func (m Money) Equal(o Money) bool { return m.Decimal.Equal(o.Decimal) }
func (m Money) IsZero() bool { return m.Decimal.IsZero() }
func (m Money) IsNegative() bool { return m.Decimal.IsNegative() }
func (m Money) IsPositive() bool { return m.Decimal.IsPositive() }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Decimal.GreaterThanOrEqual(o.Decimal) }

// String renders the amount with exactly two fractional digits.
func (m Money) String() string { return m.Decimal.StringFixed(MoneyScale) }

// MarshalJSON encodes as a quoted fixed-point string ("1500.00").
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.5.
func (m *Money) UnmarshalJSON(b []byte) error {
	var raw json.RawMessage = b
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("amount must be a decimal string or number")
		}
		s = n.String()
	}
	parsed, err := NewMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the amount as TEXT so SQLite never coerces it to REAL.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Scan reads TEXT, BLOB or numeric columns.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("scan money: %w", err)
	}
	m.Decimal = d
	return nil
}

// =============================================================================
// IDENTIFIERS & ENUMS
// =============================================================================

// UserID is the opaque authenticated user identifier issued by the auth layer.
type UserID int64

type TxType string

const (
	Income  TxType = "INCOME"
	Expense TxType = "EXPENSE"
)

func (t TxType) Valid() bool { return t == Income || t == Expense }

type DebtKind string

const (
	Receivable DebtKind = "RECEIVABLE" // money owed to the user
	Payable    DebtKind = "PAYABLE"    // money the user owes
)

func (k DebtKind) Valid() bool { return k == Receivable || k == Payable }

// SettlementType is the transaction type recorded when a debt of this kind is closed.
func (k DebtKind) SettlementType() TxType {
	if k == Receivable {
		return Income
	}
	return Expense
}

// =============================================================================
// LEDGER ROWS
// =============================================================================

const (
	DefaultAccountName = "Основной"
	DefaultCurrency    = "KGS"
)

type Account struct {
	ID        int64
	UserID    UserID
	Name      string
	Currency  string
	CreatedAt time.Time
}

type Category struct {
	ID        int64
	UserID    UserID
	Name      string
	Type      TxType
	CreatedAt time.Time
}

// Transaction is a single income or expense. OccurredAt is the business
// timestamp; CreatedAt is the audit timestamp.
type Transaction struct {
	ID           int64
	UserID       UserID
	AccountID    int64
	CategoryID   *int64
	CategoryName string // joined, empty when CategoryID is nil
	Type         TxType
	Amount       Money
	Title        string
	Note         string
	OccurredAt   time.Time
	CreatedAt    time.Time
}

// Debt transitions exactly once from open to closed.
// Invariant: ClosedAt != nil iff IsClosed.
type Debt struct {
	ID          int64
	UserID      UserID
	Kind        DebtKind
	PersonName  string
	Amount      Money
	DueDate     *time.Time
	Description string
	IsClosed    bool
	ClosedAt    *time.Time
	CreatedAt   time.Time
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationType string

const (
	NotificationCalendar NotificationType = "CALENDAR"
	NotificationSystem   NotificationType = "SYSTEM"
)

func (t NotificationType) Valid() bool {
	return t == NotificationCalendar || t == NotificationSystem
}

// Notification is append-only except for IsRead.
type Notification struct {
	ID        int64
	UserID    UserID
	Type      NotificationType
	Title     string
	Body      string
	Payload   map[string]any
	IsRead    bool
	CreatedAt time.Time
}

type Platform string

const (
	PlatformAndroid Platform = "ANDROID"
	PlatformIOS     Platform = "IOS"
	PlatformWeb     Platform = "WEB"
)

func (p Platform) Valid() bool {
	return p == PlatformAndroid || p == PlatformIOS || p == PlatformWeb
}

// DeviceToken is unique by Token; the latest owner wins on upsert.
type DeviceToken struct {
	ID        int64
	UserID    UserID
	Token     string
	Platform  Platform
	IsActive  bool
	CreatedAt time.Time
}

type Repeat string

const (
	RepeatNone    Repeat = "NONE"
	RepeatDaily   Repeat = "DAILY"
	RepeatWeekly  Repeat = "WEEKLY"
	RepeatMonthly Repeat = "MONTHLY"
)

func (r Repeat) Valid() bool {
	switch r {
	case RepeatNone, RepeatDaily, RepeatWeekly, RepeatMonthly:
		return true
	}
	return false
}

type CalendarEvent struct {
	ID              int64
	UserID          UserID
	Title           string
	Note            string
	StartsAt        time.Time
	Repeat          Repeat
	ReminderMinutes *int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
