package ledger

import (
	"strings"
	"time"
	"unicode/utf8"
)

// =============================================================================
// INPUTS - Client-supplied fields, validated before any mutation
// =============================================================================

const (
	maxNameLen     = 100
	maxTitleLen    = 255
	maxPersonLen   = 120
	maxCurrencyLen = 5
)

var minDebtAmount = MustMoney("0.01")

type AccountInput struct {
	Name     string
	Currency string
}

// WithDefaults fills omitted fields the way a freshly created account has them.
func (in AccountInput) WithDefaults() AccountInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Name == "" {
		in.Name = DefaultAccountName
	}
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}
	return in
}

func (in AccountInput) Validate() error {
	v := &ValidationError{}
	if utf8.RuneCountInString(in.Name) > maxNameLen {
		v.Add("name", "must be at most 100 characters")
	}
	if utf8.RuneCountInString(in.Currency) > maxCurrencyLen {
		v.Add("currency", "must be at most 5 characters")
	}
	return v.OrNil()
}

type CategoryInput struct {
	Name string
	Type TxType
}

func (in CategoryInput) WithDefaults() CategoryInput {
	in.Name = strings.TrimSpace(in.Name)
	if in.Type == "" {
		in.Type = Expense
	}
	return in
}

func (in CategoryInput) Validate() error {
	v := &ValidationError{}
	switch {
	case in.Name == "":
		v.Add("name", "this field is required")
	case utf8.RuneCountInString(in.Name) > maxNameLen:
		v.Add("name", "must be at most 100 characters")
	}
	if !in.Type.Valid() {
		v.Add("type", "must be INCOME or EXPENSE")
	}
	return v.OrNil()
}

type TransactionInput struct {
	AccountID  *int64 // nil selects the default account
	CategoryID *int64
	Type       TxType
	Amount     *Money
	Title      string
	Note       string
	OccurredAt *time.Time
}

func (in TransactionInput) Validate() error {
	v := &ValidationError{}
	if !in.Type.Valid() {
		v.Add("type", "must be INCOME or EXPENSE")
	}
	switch {
	case in.Amount == nil:
		v.Add("amount", "this field is required")
	case in.Amount.IsNegative():
		v.Add("amount", "must not be negative")
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLen {
		v.Add("title", "must be at most 255 characters")
	}
	if in.OccurredAt == nil || in.OccurredAt.IsZero() {
		v.Add("occurred_at", "this field is required")
	}
	return v.OrNil()
}

type DebtInput struct {
	Kind        DebtKind
	PersonName  string
	Amount      *Money
	DueDate     *time.Time
	Description string
}

func (in DebtInput) Validate() error {
	v := &ValidationError{}
	if !in.Kind.Valid() {
		v.Add("kind", "must be RECEIVABLE or PAYABLE")
	}
	name := strings.TrimSpace(in.PersonName)
	switch {
	case name == "":
		v.Add("person_name", "this field is required")
	case utf8.RuneCountInString(name) > maxPersonLen:
		v.Add("person_name", "must be at most 120 characters")
	}
	switch {
	case in.Amount == nil:
		v.Add("amount", "this field is required")
	case in.Amount.Cmp(minDebtAmount) < 0:
		v.Add("amount", "must be at least 0.01")
	}
	return v.OrNil()
}

type EventInput struct {
	Title           string
	Note            string
	StartsAt        *time.Time
	Repeat          Repeat
	ReminderMinutes *int
}

func (in EventInput) WithDefaults() EventInput {
	in.Title = strings.TrimSpace(in.Title)
	if in.Repeat == "" {
		in.Repeat = RepeatNone
	}
	return in
}

func (in EventInput) Validate() error {
	v := &ValidationError{}
	switch {
	case in.Title == "":
		v.Add("title", "this field is required")
	case utf8.RuneCountInString(in.Title) > maxTitleLen:
		v.Add("title", "must be at most 255 characters")
	}
	if in.StartsAt == nil || in.StartsAt.IsZero() {
		v.Add("starts_at", "this field is required")
	}
	if !in.Repeat.Valid() {
		v.Add("repeat", "must be one of NONE, DAILY, WEEKLY, MONTHLY")
	}
	if in.ReminderMinutes != nil && *in.ReminderMinutes < 0 {
		v.Add("reminder_minutes", "must not be negative")
	}
	return v.OrNil()
}
