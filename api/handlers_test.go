/*
handlers_test.go - HTTP tests through the full router

Tests for:
- Authentication (missing, malformed, valid bearer token)
- Cache status header on aggregate endpoints
- Status mapping: 400 validation, 404 ownership, 409 conflict
- Debt close idempotence over HTTP
- Notification inbox and test dispatch
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/auth"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/metrics"
	"github.com/warp/finance-engine/service"
	"github.com/warp/finance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	jwt    *auth.JWTManager
	store  *sqlite.Store
	tokens map[ledger.UserID]string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	jwt := auth.NewJWTManager("test-secret", time.Hour)
	h := NewHandler(service.New(store), jwt,
		WithMetrics(metrics.New()),
		WithHealthCheck(store.Ping),
	)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)

	return &testServer{t: t, srv: srv, jwt: jwt, store: store, tokens: map[ledger.UserID]string{}}
}

func (ts *testServer) token(user ledger.UserID) string {
	if tok, ok := ts.tokens[user]; ok {
		return tok
	}
	tok, err := ts.jwt.Generate(user)
	require.NoError(ts.t, err)
	ts.tokens[user] = tok
	return tok
}

// do sends a request as user (0 means anonymous) and returns the response
// with its body already read.
func (ts *testServer) do(user ledger.UserID, method, path string, body any) (*http.Response, []byte) {
	ts.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("Authorization", "Bearer "+ts.token(user))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(ts.t, err)
	return resp, buf.Bytes()
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

const mgmt = "/api/v1/management"

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_RequiresBearerToken(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(0, http.MethodGet, mgmt+"/dashboard/", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+mgmt+"/dashboard/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Token abc")
	r2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, r2.StatusCode)

	resp, _ = ts.do(1, http.MethodGet, mgmt+"/dashboard/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthAndMetrics_Public(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(0, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	ts.do(1, http.MethodGet, mgmt+"/dashboard/", nil)
	resp, body = ts.do(0, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "http_request_duration_seconds")
}

// =============================================================================
// DASHBOARD & CACHE
// =============================================================================

func TestDashboard_CacheHeader(t *testing.T) {
	// GIVEN: A user with one income
	ts := newTestServer(t)
	resp, body := ts.do(1, http.MethodPost, mgmt+"/transactions/", map[string]any{
		"type": "INCOME", "amount": "1000", "title": "Зарплата", "occurred_at": "2025-03-10T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	// WHEN: The dashboard is requested twice, then with refresh
	first, b1 := ts.do(1, http.MethodGet, mgmt+"/dashboard/", nil)
	second, b2 := ts.do(1, http.MethodGet, mgmt+"/dashboard/", nil)
	refreshed, _ := ts.do(1, http.MethodGet, mgmt+"/dashboard/?refresh=1", nil)

	// THEN: MISS, HIT with identical body, then MISS
	assert.Equal(t, "MISS", first.Header.Get(CacheHeader))
	assert.Equal(t, "HIT", second.Header.Get(CacheHeader))
	assert.JSONEq(t, string(b1), string(b2))
	assert.Equal(t, "MISS", refreshed.Header.Get(CacheHeader))

	dash := decode[map[string]any](t, b1)
	assert.Equal(t, "1000.00", dash["balance"])
	assert.Equal(t, "1000.00", dash["income_total"])
	debts := dash["debts"].(map[string]any)
	assert.Equal(t, "0.00", debts["receivable"])
	assert.Len(t, dash["last_transactions"], 1)
}

func TestStats_SummaryAndCategories(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(1, http.MethodPost, mgmt+"/categories/", map[string]any{"name": "Еда", "type": "EXPENSE"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	cat := decode[CategoryDTO](t, body)

	for _, tx := range []map[string]any{
		{"type": "EXPENSE", "amount": "200", "category": cat.ID, "occurred_at": "2025-03-01T10:00:00Z"},
		{"type": "EXPENSE", "amount": "300", "occurred_at": "2025-03-02T10:00:00Z"},
		{"type": "EXPENSE", "amount": "50", "occurred_at": "2025-04-01T10:00:00Z"},
	} {
		resp, body := ts.do(1, http.MethodPost, mgmt+"/transactions/", tx)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}

	resp, body = ts.do(1, http.MethodGet, mgmt+"/stats/summary/?from=2025-03-01&to=2025-03-31", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sum := decode[map[string]string](t, body)
	assert.Equal(t, "500.00", sum["expense_total"])
	assert.Equal(t, "-500.00", sum["balance"])

	resp, body = ts.do(1, http.MethodGet, mgmt+"/stats/categories/?to=2025-03-31&from=2025-03-01", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := decode[[]map[string]any](t, body)
	require.Len(t, rows, 2)
	assert.Equal(t, "Без категории", rows[0]["category_name"])
	assert.Equal(t, "300.00", rows[0]["total"])
	assert.Equal(t, "Еда", rows[1]["category_name"])
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestCreateTransaction_ValidationIs400(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(1, http.MethodPost, mgmt+"/transactions/", map[string]any{"type": "GIFT"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errResp := decode[ErrorResponse](t, body)
	assert.Contains(t, errResp.Fields, "type")
	assert.Contains(t, errResp.Fields, "amount")

	resp, _ = ts.do(1, http.MethodPost, mgmt+"/transactions/", map[string]any{
		"type": "EXPENSE", "amount": "1.005", "occurred_at": "2025-03-10T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOwnership_OtherUsersRowsAre404(t *testing.T) {
	// GIVEN: User 1 owns a transaction
	ts := newTestServer(t)
	_, body := ts.do(1, http.MethodPost, mgmt+"/transactions/", map[string]any{
		"type": "INCOME", "amount": "10", "occurred_at": "2025-03-10T09:00:00Z",
	})
	tx := decode[TransactionDTO](t, body)

	// WHEN/THEN: User 2 can neither see nor touch it
	resp, _ := ts.do(2, http.MethodGet, mgmt+"/transactions/"+itoa(tx.ID)+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = ts.do(2, http.MethodDelete, mgmt+"/transactions/"+itoa(tx.ID)+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(2, http.MethodGet, mgmt+"/transactions/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	// AND: Referencing user 1's account is a field error
	resp, body = ts.do(2, http.MethodPost, mgmt+"/transactions/", map[string]any{
		"type": "INCOME", "amount": "10", "account": tx.Account, "occurred_at": "2025-03-10T09:00:00Z",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Нельзя использовать чужой account.", decode[ErrorResponse](t, body).Fields["account"])
}

func TestCategory_DuplicateIs409(t *testing.T) {
	ts := newTestServer(t)
	cat := map[string]any{"name": "Такси", "type": "EXPENSE"}

	resp, _ := ts.do(1, http.MethodPost, mgmt+"/categories/", cat)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(1, http.MethodPost, mgmt+"/categories/", cat)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Такая категория уже существует.", decode[ErrorResponse](t, body).Fields["name"])
}

func TestAccount_DeleteLastIs409(t *testing.T) {
	ts := newTestServer(t)
	_, body := ts.do(1, http.MethodPost, mgmt+"/accounts/", map[string]any{})
	acc := decode[AccountDTO](t, body)
	assert.Equal(t, "Основной", acc.Name)
	assert.Equal(t, "KGS", acc.Currency)

	resp, _ := ts.do(1, http.MethodDelete, mgmt+"/accounts/"+itoa(acc.ID)+"/", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestMalformedBodyAndID(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+mgmt+"/debts/", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+ts.token(1))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	r2, _ := ts.do(1, http.MethodGet, mgmt+"/debts/abc/", nil)
	assert.Equal(t, http.StatusNotFound, r2.StatusCode)
}

// =============================================================================
// DEBTS
// =============================================================================

func TestCloseDebt_OverHTTP(t *testing.T) {
	// GIVEN: A payable debt of 700
	ts := newTestServer(t)
	resp, body := ts.do(1, http.MethodPost, mgmt+"/debts/", map[string]any{
		"kind": "PAYABLE", "person_name": "Азамат", "amount": "700", "due_date": "2025-04-01",
		"is_closed": true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	debt := decode[DebtDTO](t, body)
	assert.False(t, debt.IsClosed, "is_closed is read-only")
	require.NotNil(t, debt.DueDate)
	assert.Equal(t, "2025-04-01", *debt.DueDate)

	// WHEN: It is closed twice
	path := mgmt + "/debts/" + itoa(debt.ID) + "/close/"
	r1, b1 := ts.do(1, http.MethodPost, path, nil)
	r2, b2 := ts.do(1, http.MethodPost, path, nil)

	// THEN: Both are 200, only the first carries a transaction
	require.Equal(t, http.StatusOK, r1.StatusCode, string(b1))
	require.Equal(t, http.StatusOK, r2.StatusCode, string(b2))
	first := decode[CloseDebtResponse](t, b1)
	second := decode[CloseDebtResponse](t, b2)
	require.NotNil(t, first.Transaction)
	assert.Equal(t, ledger.Expense, first.Transaction.Type)
	assert.Equal(t, "Закрытие долга: Азамат", first.Transaction.Title)
	assert.True(t, first.Debt.IsClosed)
	assert.Nil(t, second.Transaction)
	assert.Equal(t, "Долг уже закрыт.", second.Detail)

	_, body = ts.do(1, http.MethodGet, mgmt+"/stats/summary/", nil)
	assert.Equal(t, "700.00", decode[map[string]string](t, body)["expense_total"])

	// AND: Closing someone else's debt is 404
	r3, _ := ts.do(2, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNotFound, r3.StatusCode)
}

func TestListDebts_Filters(t *testing.T) {
	ts := newTestServer(t)
	for _, d := range []map[string]any{
		{"kind": "PAYABLE", "person_name": "Айбек", "amount": "10"},
		{"kind": "RECEIVABLE", "person_name": "Жылдыз", "amount": "20", "description": "за обед"},
	} {
		resp, body := ts.do(1, http.MethodPost, mgmt+"/debts/", d)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}

	_, body := ts.do(1, http.MethodGet, mgmt+"/debts/?kind=RECEIVABLE", nil)
	assert.Len(t, decode[[]DebtDTO](t, body), 1)

	_, body = ts.do(1, http.MethodGet, mgmt+"/debts/?q=%D0%9E%D0%91%D0%95%D0%94", nil) // "ОБЕД"
	list := decode[[]DebtDTO](t, body)
	require.Len(t, list, 1)
	assert.Equal(t, "Жылдыз", list[0].PersonName)

	_, body = ts.do(1, http.MethodGet, mgmt+"/debts/?is_closed=maybe", nil)
	assert.Len(t, decode[[]DebtDTO](t, body), 2)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestNotifications_BigExpenseThenReadAll(t *testing.T) {
	// GIVEN: An expense above the big-expense threshold
	ts := newTestServer(t)
	resp, _ := ts.do(1, http.MethodPost, mgmt+"/transactions/", map[string]any{
		"type": "EXPENSE", "amount": "1500", "occurred_at": "2025-03-10T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// WHEN: The inbox is listed
	_, body := ts.do(1, http.MethodGet, "/api/v1/notifications/", nil)
	list := decode[[]NotificationDTO](t, body)

	// THEN: It holds one unread big_expense notification
	require.Len(t, list, 1)
	assert.Equal(t, "big_expense", list[0].Payload["event"])
	assert.False(t, list[0].IsRead)

	resp, _ = ts.do(2, http.MethodPost, "/api/v1/notifications/"+itoa(list[0].ID)+"/read/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(1, http.MethodPost, "/api/v1/notifications/read-all/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = ts.do(1, http.MethodGet, "/api/v1/notifications/", nil)
	assert.True(t, decode[[]NotificationDTO](t, body)[0].IsRead)
}

func TestNotifications_TestDispatchAndDevices(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(1, http.MethodPost, "/api/v1/notifications/test/", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.NotZero(t, decode[map[string]int64](t, body)["id"])

	resp, body = ts.do(1, http.MethodPost, "/api/v1/notifications/devices/", map[string]any{"token": "fcm-1", "platform": "ios"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	dev := decode[DeviceDTO](t, body)
	assert.Equal(t, ledger.PlatformIOS, dev.Platform)
	assert.True(t, dev.IsActive)
}

func TestEvents_CRUD(t *testing.T) {
	ts := newTestServer(t)
	base := "/api/v1/notifications/events/"

	resp, body := ts.do(1, http.MethodPost, base, map[string]any{
		"title": "Оплата интернета", "starts_at": "2025-05-01T08:00:00Z", "repeat": "MONTHLY", "reminder_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	e := decode[EventDTO](t, body)
	assert.Equal(t, ledger.RepeatMonthly, e.Repeat)

	_, body = ts.do(1, http.MethodGet, base+"?from=2025-05-01&to=2025-05-31", nil)
	assert.Len(t, decode[[]EventDTO](t, body), 1)
	_, body = ts.do(1, http.MethodGet, base+"?from=2025-06-01", nil)
	assert.Empty(t, decode[[]EventDTO](t, body))

	resp, _ = ts.do(1, http.MethodDelete, base+itoa(e.ID)+"/", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(1, http.MethodGet, base+itoa(e.ID)+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
