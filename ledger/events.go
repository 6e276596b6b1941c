package ledger

import "strings"

// =============================================================================
// FINANCIAL EVENTS - Triggers for motivational notifications
// =============================================================================

// Event names a financial trigger. The motivation generator maps it to text.
type Event string

const (
	EventSalaryReceived  Event = "salary_received"
	EventBigExpense      Event = "big_expense"
	EventDebtCreated     Event = "debt_created"
	EventDebtClosed      Event = "debt_closed"
	EventCalendarCreated Event = "calendar_event_created"
)

// DefaultBigExpenseThreshold is the expense amount at or above which
// EventBigExpense fires.
var DefaultBigExpenseThreshold = MoneyFromInt(1000)

var salaryKeywords = []string{"salary", "зарплата", "зп"}

// IsSalaryTitle reports whether title looks like a salary payment.
// Case-insensitive containment; "зп" is the common Russian abbreviation.
func IsSalaryTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range salaryKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Rules decides which event, if any, a newly created transaction triggers.
type Rules struct {
	BigExpenseThreshold Money
}

func DefaultRules() Rules {
	return Rules{BigExpenseThreshold: DefaultBigExpenseThreshold}
}

// TransactionEvent evaluates the creation triggers for tx.
func (r Rules) TransactionEvent(tx Transaction) (Event, bool) {
	switch tx.Type {
	case Income:
		if IsSalaryTitle(tx.Title) {
			return EventSalaryReceived, true
		}
	case Expense:
		if tx.Amount.GreaterThanOrEqual(r.BigExpenseThreshold) {
			return EventBigExpense, true
		}
	}
	return "", false
}
