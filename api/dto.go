/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the wire contract: ids of referenced rows travel
  as bare numbers ("account": 3), amounts as fixed-point strings
  ("1500.00"), timestamps as RFC 3339 and calendar dates as YYYY-MM-DD.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Ledger:
    AccountDTO, AccountRequest
    CategoryDTO, CategoryRequest
    TransactionDTO, TransactionRequest
    DebtDTO, DebtRequest, CloseDebtResponse

  Notifications:
    NotificationDTO, TestNotificationRequest
    DeviceDTO, DeviceRequest
    EventDTO, EventRequest

  Errors:
    ErrorResponse

VALIDATION:
  Requests only carry data. Field rules live in ledger/validate.go and
  are applied by the service layer. The one exception is due_date, which
  is parsed here because its wire format is a plain date.

SEE ALSO:
  - handlers.go: Uses these types
  - analytics/engine.go: aggregate responses are encoded as-is
*/
package api

import (
	"time"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// LEDGER
// =============================================================================

type AccountDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	CreatedAt string `json:"created_at"`
}

type AccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type CategoryDTO struct {
	ID   int64         `json:"id"`
	Name string        `json:"name"`
	Type ledger.TxType `json:"type"`
}

type CategoryRequest struct {
	Name string        `json:"name"`
	Type ledger.TxType `json:"type"`
}

type TransactionDTO struct {
	ID         int64         `json:"id"`
	Account    int64         `json:"account"`
	Category   *int64        `json:"category"`
	Type       ledger.TxType `json:"type"`
	Amount     ledger.Money  `json:"amount"`
	Title      string        `json:"title"`
	Note       string        `json:"note"`
	OccurredAt string        `json:"occurred_at"`
	CreatedAt  string        `json:"created_at"`
}

// TransactionRequest creates or replaces a transaction. A missing account
// selects the default account on create and keeps the current one on update.
type TransactionRequest struct {
	Account    *int64        `json:"account"`
	Category   *int64        `json:"category"`
	Type       ledger.TxType `json:"type"`
	Amount     *ledger.Money `json:"amount"`
	Title      string        `json:"title"`
	Note       string        `json:"note"`
	OccurredAt *time.Time    `json:"occurred_at"`
}

func (req TransactionRequest) input() ledger.TransactionInput {
	return ledger.TransactionInput{
		AccountID:  req.Account,
		CategoryID: req.Category,
		Type:       req.Type,
		Amount:     req.Amount,
		Title:      req.Title,
		Note:       req.Note,
		OccurredAt: req.OccurredAt,
	}
}

type DebtDTO struct {
	ID          int64           `json:"id"`
	Kind        ledger.DebtKind `json:"kind"`
	PersonName  string          `json:"person_name"`
	Amount      ledger.Money    `json:"amount"`
	DueDate     *string         `json:"due_date"`
	Description string          `json:"description"`
	IsClosed    bool            `json:"is_closed"`
	ClosedAt    *string         `json:"closed_at"`
	CreatedAt   string          `json:"created_at"`
}

// DebtRequest creates or replaces a debt. is_closed and closed_at are
// read-only and ignored if sent.
type DebtRequest struct {
	Kind        ledger.DebtKind `json:"kind"`
	PersonName  string          `json:"person_name"`
	Amount      *ledger.Money   `json:"amount"`
	DueDate     *string         `json:"due_date"`
	Description string          `json:"description"`
}

func (req DebtRequest) input() (ledger.DebtInput, error) {
	in := ledger.DebtInput{
		Kind:        req.Kind,
		PersonName:  req.PersonName,
		Amount:      req.Amount,
		Description: req.Description,
	}
	if req.DueDate != nil && *req.DueDate != "" {
		d, ok := ledger.ParseDate(*req.DueDate)
		if !ok {
			return ledger.DebtInput{}, ledger.FieldError("due_date", "must be a date in YYYY-MM-DD format")
		}
		in.DueDate = &d
	}
	return in, nil
}

// CloseDebtResponse reports a settlement. Transaction is omitted when the
// debt had already been closed.
type CloseDebtResponse struct {
	Detail      string          `json:"detail"`
	Debt        DebtDTO         `json:"debt"`
	Transaction *TransactionDTO `json:"transaction,omitempty"`
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type NotificationDTO struct {
	ID        int64                   `json:"id"`
	Type      ledger.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Body      string                  `json:"body"`
	Payload   map[string]any          `json:"payload"`
	IsRead    bool                    `json:"is_read"`
	CreatedAt string                  `json:"created_at"`
}

type TestNotificationRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type DeviceDTO struct {
	ID        int64           `json:"id"`
	Token     string          `json:"token"`
	Platform  ledger.Platform `json:"platform"`
	IsActive  bool            `json:"is_active"`
	CreatedAt string          `json:"created_at"`
}

type DeviceRequest struct {
	Token    string          `json:"token"`
	Platform ledger.Platform `json:"platform"`
}

type EventDTO struct {
	ID              int64         `json:"id"`
	Title           string        `json:"title"`
	Note            string        `json:"note"`
	StartsAt        string        `json:"starts_at"`
	Repeat          ledger.Repeat `json:"repeat"`
	ReminderMinutes *int          `json:"reminder_minutes"`
	CreatedAt       string        `json:"created_at"`
	UpdatedAt       string        `json:"updated_at"`
}

type EventRequest struct {
	Title           string        `json:"title"`
	Note            string        `json:"note"`
	StartsAt        *time.Time    `json:"starts_at"`
	Repeat          ledger.Repeat `json:"repeat"`
	ReminderMinutes *int          `json:"reminder_minutes"`
}

func (req EventRequest) input() ledger.EventInput {
	return ledger.EventInput{
		Title:           req.Title,
		Note:            req.Note,
		StartsAt:        req.StartsAt,
		Repeat:          req.Repeat,
		ReminderMinutes: req.ReminderMinutes,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// DetailResponse acknowledges an action that has no resource to return.
type DetailResponse struct {
	Detail string `json:"detail"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:        a.ID,
		Name:      a.Name,
		Currency:  a.Currency,
		CreatedAt: formatTime(a.CreatedAt),
	}
}

func toCategoryDTO(c ledger.Category) CategoryDTO {
	return CategoryDTO{ID: c.ID, Name: c.Name, Type: c.Type}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:         tx.ID,
		Account:    tx.AccountID,
		Category:   tx.CategoryID,
		Type:       tx.Type,
		Amount:     tx.Amount,
		Title:      tx.Title,
		Note:       tx.Note,
		OccurredAt: formatTime(tx.OccurredAt),
		CreatedAt:  formatTime(tx.CreatedAt),
	}
}

func toDebtDTO(d ledger.Debt) DebtDTO {
	dto := DebtDTO{
		ID:          d.ID,
		Kind:        d.Kind,
		PersonName:  d.PersonName,
		Amount:      d.Amount,
		Description: d.Description,
		IsClosed:    d.IsClosed,
		CreatedAt:   formatTime(d.CreatedAt),
	}
	if d.DueDate != nil {
		s := d.DueDate.Format(ledger.DateLayout)
		dto.DueDate = &s
	}
	if d.ClosedAt != nil {
		s := formatTime(*d.ClosedAt)
		dto.ClosedAt = &s
	}
	return dto
}

func toNotificationDTO(n ledger.Notification) NotificationDTO {
	payload := n.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return NotificationDTO{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		Payload:   payload,
		IsRead:    n.IsRead,
		CreatedAt: formatTime(n.CreatedAt),
	}
}

func toDeviceDTO(d ledger.DeviceToken) DeviceDTO {
	return DeviceDTO{
		ID:        d.ID,
		Token:     d.Token,
		Platform:  d.Platform,
		IsActive:  d.IsActive,
		CreatedAt: formatTime(d.CreatedAt),
	}
}

func toEventDTO(e ledger.CalendarEvent) EventDTO {
	return EventDTO{
		ID:              e.ID,
		Title:           e.Title,
		Note:            e.Note,
		StartsAt:        formatTime(e.StartsAt),
		Repeat:          e.Repeat,
		ReminderMinutes: e.ReminderMinutes,
		CreatedAt:       formatTime(e.CreatedAt),
		UpdatedAt:       formatTime(e.UpdatedAt),
	}
}

// mapSlice converts a slice with fn, returning [] rather than null for empty input.
func mapSlice[T, D any](in []T, fn func(T) D) []D {
	out := make([]D, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out
}
