/*
engine.go - Aggregation engine over a user's transactions

PURPOSE:
  Answers "how much came in, how much went out, where did it go?" without
  mutating anything. Results are plain values the cache layer can store
  as JSON.

OPERATIONS:
  Summary(user, range)          income_total, expense_total, balance
  ByCategory(user, type, range) totals per category, largest first
  Dashboard(user)               all-time totals, open debts, last 10 transactions

NUMERIC SEMANTICS:
  Amounts are summed as decimal.Decimal (via ledger.Money). The store
  returns raw rows and the sum happens here, so no REAL arithmetic in the
  database ever touches an amount. An empty set sums to zero.

ORDERING:
  ByCategory sorts by total desc, then category id asc with the
  uncategorized bucket (nil id) last.
  Dashboard.LastTransactions is (occurred_at desc, id desc).

SEE ALSO:
  - ledger/store.go: AmountRows projection
  - cache/readthrough.go: how results are cached
*/
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/warp/finance-engine/ledger"
)

// UncategorizedLabel names the bucket for transactions without a category.
const UncategorizedLabel = "Без категории"

// LastTransactionsLimit is the size of the dashboard's recent-activity list.
const LastTransactionsLimit = 10

// Source is the read side of the ledger the engine needs.
type Source interface {
	AmountRows(ctx context.Context, user ledger.UserID, f ledger.AmountFilter) ([]ledger.AmountRow, error)
	ListTransactions(ctx context.Context, user ledger.UserID, f ledger.TransactionFilter) ([]ledger.Transaction, error)
	ListDebts(ctx context.Context, user ledger.UserID, f ledger.DebtFilter) ([]ledger.Debt, error)
}

// Engine computes aggregates. It holds no state besides its source.
type Engine struct {
	src Source
}

func NewEngine(src Source) *Engine {
	return &Engine{src: src}
}

// =============================================================================
// RESULTS
// =============================================================================

type Summary struct {
	IncomeTotal  ledger.Money `json:"income_total"`
	ExpenseTotal ledger.Money `json:"expense_total"`
	Balance      ledger.Money `json:"balance"`
}

type CategoryTotal struct {
	CategoryID   *int64       `json:"category_id"`
	CategoryName string       `json:"category_name"`
	Total        ledger.Money `json:"total"`
}

type DebtTotals struct {
	Receivable ledger.Money `json:"receivable"`
	Payable    ledger.Money `json:"payable"`
}

// TransactionLine is the dashboard's view of a recent transaction.
type TransactionLine struct {
	ID           int64         `json:"id"`
	Account      int64         `json:"account"`
	Category     *int64        `json:"category"`
	CategoryName string        `json:"category_name"`
	Type         ledger.TxType `json:"type"`
	Amount       ledger.Money  `json:"amount"`
	Title        string        `json:"title"`
	Note         string        `json:"note"`
	OccurredAt   string        `json:"occurred_at"`
}

type Dashboard struct {
	Balance          ledger.Money      `json:"balance"`
	IncomeTotal      ledger.Money      `json:"income_total"`
	ExpenseTotal     ledger.Money      `json:"expense_total"`
	Debts            DebtTotals        `json:"debts"`
	LastTransactions []TransactionLine `json:"last_transactions"`
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Summary totals INCOME and EXPENSE over the inclusive business-date range.
func (e *Engine) Summary(ctx context.Context, user ledger.UserID, r ledger.DateRange) (Summary, error) {
	rows, err := e.src.AmountRows(ctx, user, ledger.AmountFilter{Range: r})
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	return summarize(rows), nil
}

func summarize(rows []ledger.AmountRow) Summary {
	income, expense := ledger.ZeroMoney(), ledger.ZeroMoney()
	for _, row := range rows {
		switch row.Type {
		case ledger.Income:
			income = income.Add(row.Amount)
		case ledger.Expense:
			expense = expense.Add(row.Amount)
		}
	}
	return Summary{
		IncomeTotal:  income,
		ExpenseTotal: expense,
		Balance:      income.Sub(expense),
	}
}

// ByCategory groups transactions of typ by category. An empty typ means EXPENSE.
func (e *Engine) ByCategory(ctx context.Context, user ledger.UserID, typ ledger.TxType, r ledger.DateRange) ([]CategoryTotal, error) {
	if typ == "" {
		typ = ledger.Expense
	}
	rows, err := e.src.AmountRows(ctx, user, ledger.AmountFilter{Type: typ, Range: r})
	if err != nil {
		return nil, fmt.Errorf("by category: %w", err)
	}
	return groupByCategory(rows), nil
}

func groupByCategory(rows []ledger.AmountRow) []CategoryTotal {
	const uncategorized int64 = -1

	index := make(map[int64]int)
	out := []CategoryTotal{}
	for _, row := range rows {
		key := uncategorized
		if row.CategoryID != nil {
			key = *row.CategoryID
		}
		i, ok := index[key]
		if !ok {
			ct := CategoryTotal{CategoryName: UncategorizedLabel, Total: ledger.ZeroMoney()}
			if row.CategoryID != nil {
				id := *row.CategoryID
				ct.CategoryID = &id
				ct.CategoryName = row.CategoryName
			}
			i = len(out)
			index[key] = i
			out = append(out, ct)
		}
		out[i].Total = out[i].Total.Add(row.Amount)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		a, b := out[i].CategoryID, out[j].CategoryID
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out
}

// Dashboard is the all-time snapshot: totals, open debts by kind and the
// most recent transactions.
func (e *Engine) Dashboard(ctx context.Context, user ledger.UserID) (Dashboard, error) {
	sum, err := e.Summary(ctx, user, ledger.DateRange{})
	if err != nil {
		return Dashboard{}, err
	}

	open := false
	debts, err := e.src.ListDebts(ctx, user, ledger.DebtFilter{IsClosed: &open})
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard debts: %w", err)
	}
	totals := DebtTotals{Receivable: ledger.ZeroMoney(), Payable: ledger.ZeroMoney()}
	for _, d := range debts {
		switch d.Kind {
		case ledger.Receivable:
			totals.Receivable = totals.Receivable.Add(d.Amount)
		case ledger.Payable:
			totals.Payable = totals.Payable.Add(d.Amount)
		}
	}

	recent, err := e.src.ListTransactions(ctx, user, ledger.TransactionFilter{Limit: LastTransactionsLimit})
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard transactions: %w", err)
	}
	lines := make([]TransactionLine, len(recent))
	for i, tx := range recent {
		lines[i] = NewTransactionLine(tx)
	}

	return Dashboard{
		Balance:          sum.Balance,
		IncomeTotal:      sum.IncomeTotal,
		ExpenseTotal:     sum.ExpenseTotal,
		Debts:            totals,
		LastTransactions: lines,
	}, nil
}

// NewTransactionLine projects a ledger transaction for the dashboard.
func NewTransactionLine(tx ledger.Transaction) TransactionLine {
	return TransactionLine{
		ID:           tx.ID,
		Account:      tx.AccountID,
		Category:     tx.CategoryID,
		CategoryName: tx.CategoryName,
		Type:         tx.Type,
		Amount:       tx.Amount,
		Title:        tx.Title,
		Note:         tx.Note,
		OccurredAt:   tx.OccurredAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
	}
}
