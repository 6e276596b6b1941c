/*
handlers.go - HTTP API handlers for the finance backend

PURPOSE:
  Exposes the service layer via REST. Handles HTTP request/response and
  JSON serialization; every decision about the ledger is delegated to
  service.Service.

ENDPOINTS (under /api/v1/management, bearer token required):
  Dashboard & stats (cached, ?refresh=1 bypasses, X-Cache: HIT|MISS):
    GET    /dashboard/
    GET    /stats/summary/?from=&to=
    GET    /stats/categories/?type=&from=&to=

  Ledger CRUD:
    GET|POST          /accounts/      /categories/      /transactions/      /debts/
    GET|PUT|DELETE    /accounts/{id}/ /categories/{id}/ /transactions/{id}/ /debts/{id}/
    POST              /debts/{id}/close/

  Notifications live in notifications.go.

REQUEST FLOW:
  1. Resolve the user from the request context (RequireAuth)
  2. Parse query or body into service input
  3. Call the service
  4. Serialize response via dto.go
  5. Map errors with writeServiceError

ERROR HANDLING:
  - 400: ValidationError (with per-field messages), malformed body
  - 401: missing or invalid token
  - 404: absent or owned by another user
  - 409: duplicate category, deleting the last account
  - 500: anything else (logged, details hidden)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - service/: Application services
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/finance-engine/auth"
	"github.com/warp/finance-engine/cache"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/metrics"
	"github.com/warp/finance-engine/service"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// CacheHeader reports whether an aggregate came from the cache.
const CacheHeader = "X-Cache"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc     *service.Service
	jwt     *auth.JWTManager
	metrics *metrics.Metrics
	logger  *slog.Logger

	health      func(context.Context) error
	realtime    http.Handler
	corsOrigins []string
}

type HandlerOption func(*Handler)

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

// WithHealthCheck sets the probe behind /healthz, usually the store's Ping.
func WithHealthCheck(fn func(context.Context) error) HandlerOption {
	return func(h *Handler) { h.health = fn }
}

// WithRealtime mounts the WebSocket endpoint at /ws/notifications.
func WithRealtime(ws http.Handler) HandlerOption {
	return func(h *Handler) { h.realtime = ws }
}

func WithCORSOrigins(origins []string) HandlerOption {
	return func(h *Handler) { h.corsOrigins = origins }
}

// NewHandler creates a handler over svc, authenticating with jwt.
func NewHandler(svc *service.Service, jwt *auth.JWTManager, opts ...HandlerOption) *Handler {
	h := &Handler{
		svc:    svc,
		jwt:    jwt,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// DASHBOARD & STATS
// =============================================================================

// GetDashboard returns balance, totals, open debts and recent transactions.
// GET /api/v1/management/dashboard/
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dash, status, err := h.svc.Dashboard(r.Context(), UserID(r.Context()), r.URL.Query())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCached(w, status, dash)
}

// GET /api/v1/management/stats/summary/
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, status, err := h.svc.Summary(r.Context(), UserID(r.Context()), r.URL.Query())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCached(w, status, sum)
}

// GET /api/v1/management/stats/categories/
func (h *Handler) GetCategoryStats(w http.ResponseWriter, r *http.Request) {
	rows, status, err := h.svc.ByCategory(r.Context(), UserID(r.Context()), r.URL.Query())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCached(w, status, rows)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.ListAccounts(r.Context(), UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(accounts, toAccountDTO))
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acc, err := h.svc.CreateAccount(r.Context(), UserID(r.Context()), ledger.AccountInput{
		Name:     req.Name,
		Currency: req.Currency,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	acc, err := h.svc.GetAccount(r.Context(), UserID(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req AccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	acc, err := h.svc.UpdateAccount(r.Context(), UserID(r.Context()), id, ledger.AccountInput{
		Name:     req.Name,
		Currency: req.Currency,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteAccount(r.Context(), UserID(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// ListCategories supports ?type=INCOME|EXPENSE.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	typ := ledger.TxType(strings.ToUpper(r.URL.Query().Get("type")))
	cats, err := h.svc.ListCategories(r.Context(), UserID(r.Context()), typ)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(cats, toCategoryDTO))
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCategory(r.Context(), UserID(r.Context()), ledger.CategoryInput{
		Name: req.Name,
		Type: req.Type,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(c))
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.GetCategory(r.Context(), UserID(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryDTO(c))
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	c, err := h.svc.UpdateCategory(r.Context(), UserID(r.Context()), id, ledger.CategoryInput{
		Name: req.Name,
		Type: req.Type,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryDTO(c))
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteCategory(r.Context(), UserID(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions supports type, account, category, q, from, to.
// Unparseable filter values are ignored.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.TransactionFilter{
		Type:       ledger.TxType(strings.ToUpper(q.Get("type"))),
		AccountID:  queryInt(q.Get("account")),
		CategoryID: queryInt(q.Get("category")),
		Query:      strings.TrimSpace(q.Get("q")),
		Range:      ledger.ParseDateRange(q.Get("from"), q.Get("to")),
	}
	txs, err := h.svc.ListTransactions(r.Context(), UserID(r.Context()), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(txs, toTransactionDTO))
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := h.svc.CreateTransaction(r.Context(), UserID(r.Context()), req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := h.svc.GetTransaction(r.Context(), UserID(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req TransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := h.svc.UpdateTransaction(r.Context(), UserID(r.Context()), id, req.input())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteTransaction(r.Context(), UserID(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DEBT HANDLERS
// =============================================================================

// ListDebts supports kind, is_closed (true|false), q, due_from, due_to.
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.DebtFilter{
		Kind:     ledger.DebtKind(strings.ToUpper(q.Get("kind"))),
		Query:    strings.TrimSpace(q.Get("q")),
		DueRange: ledger.ParseDateRange(q.Get("due_from"), q.Get("due_to")),
	}
	switch q.Get("is_closed") {
	case "true":
		closed := true
		f.IsClosed = &closed
	case "false":
		open := false
		f.IsClosed = &open
	}

	debts, err := h.svc.ListDebts(r.Context(), UserID(r.Context()), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(debts, toDebtDTO))
}

func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req DebtRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	d, err := h.svc.CreateDebt(r.Context(), UserID(r.Context()), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDebtDTO(d))
}

func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	d, err := h.svc.GetDebt(r.Context(), UserID(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTO(d))
}

func (h *Handler) UpdateDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req DebtRequest
	if !decodeBody(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	d, err := h.svc.UpdateDebt(r.Context(), UserID(r.Context()), id, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTO(d))
}

func (h *Handler) DeleteDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteDebt(r.Context(), UserID(r.Context()), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseDebt settles a debt. Closing an already-closed debt is a 200 no-op.
// POST /api/v1/management/debts/{id}/close/
func (h *Handler) CloseDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CloseDebt(r.Context(), UserID(r.Context()), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := CloseDebtResponse{
		Detail: "Долг закрыт и добавлен в историю операций.",
		Debt:   toDebtDTO(res.Debt),
	}
	if res.AlreadyClosed {
		resp.Detail = "Долг уже закрыт."
	}
	if res.Transaction != nil {
		dto := toTransactionDTO(*res.Transaction)
		resp.Transaction = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// OPERATIONAL
// =============================================================================

// Health reports whether the store is reachable.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeCached(w http.ResponseWriter, status cache.Status, data any) {
	w.Header().Set(CacheHeader, string(status))
	writeJSON(w, http.StatusOK, data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps the ledger error taxonomy to a status code.
// Unexpected errors are logged and their text is not sent to the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *ledger.ValidationError
		cerr *ledger.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Fields: verr.Fields,
		})
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.As(err, &cerr):
		resp := ErrorResponse{Error: "Conflict", Details: cerr.Error()}
		if cerr.Field != "" {
			resp.Fields = map[string]string{cerr.Field: cerr.Message}
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"user_id", UserID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal server error", nil)
	}
}

// decodeBody reads a JSON body into v, answering 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// pathID parses the {id} URL parameter, answering 404 itself when it is
// not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "Not found", nil)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional numeric filter. Anything unparseable is 0 (no filter).
func queryInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
