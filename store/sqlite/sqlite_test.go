package sqlite_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var bishkek = time.FixedZone("Asia/Bishkek", 6*60*60)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:", sqlite.WithLocation(bishkek))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func mustAccount(t *testing.T, store *sqlite.Store, user ledger.UserID) ledger.Account {
	acc, err := ledger.EnsureDefaultAccount(context.Background(), store, user)
	require.NoError(t, err)
	return acc
}

func expense(user ledger.UserID, account int64, amount string, at time.Time) ledger.Transaction {
	return ledger.Transaction{
		UserID:     user,
		AccountID:  account,
		Type:       ledger.Expense,
		Amount:     ledger.MustMoney(amount),
		Title:      "Groceries",
		OccurredAt: at,
	}
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestEnsureDefaultAccount_CreatesOnce(t *testing.T) {
	// GIVEN: A user with no accounts
	// WHEN: Many requests resolve the default account concurrently
	// THEN: Exactly one account exists and everyone got the same one

	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	errs := make([]error, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc, err := ledger.EnsureDefaultAccount(ctx, store, 1)
			ids[i], errs[i] = acc.ID, err
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	accounts, err := store.ListAccounts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, ledger.DefaultAccountName, accounts[0].Name)
	assert.Equal(t, ledger.DefaultCurrency, accounts[0].Currency)
}

func TestDeleteAccount_LastAccountRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := mustAccount(t, store, 1)

	err := store.DeleteAccount(ctx, 1, acc.ID)
	assert.ErrorIs(t, err, ledger.ErrLastAccount)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestDeleteAccount_CascadesTransactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustAccount(t, store, 1)

	second, err := store.CreateAccount(ctx, ledger.Account{UserID: 1, Name: "Card", Currency: "USD"})
	require.NoError(t, err)
	_, err = store.CreateTransaction(ctx, expense(1, second.ID, "10", time.Now()))
	require.NoError(t, err)

	require.NoError(t, store.DeleteAccount(ctx, 1, second.ID))

	txs, err := store.ListTransactions(ctx, 1, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestAccounts_OwnershipIsolation(t *testing.T) {
	// GIVEN: User 1 owns an account
	// WHEN: User 2 reads, updates or deletes it
	// THEN: It behaves as missing

	store := newTestStore(t)
	ctx := context.Background()
	acc := mustAccount(t, store, 1)

	_, err := store.GetAccount(ctx, 2, acc.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = store.UpdateAccount(ctx, ledger.Account{ID: acc.ID, UserID: 2, Name: "x", Currency: "KGS"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	err = store.DeleteAccount(ctx, 2, acc.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// CATEGORY TESTS
// =============================================================================

func TestCategory_DuplicateNameAndTypeConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateCategory(ctx, ledger.Category{UserID: 1, Name: "Food", Type: ledger.Expense})
	require.NoError(t, err)

	_, err = store.CreateCategory(ctx, ledger.Category{UserID: 1, Name: "Food", Type: ledger.Expense})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	// Same name, other type or other user is fine
	_, err = store.CreateCategory(ctx, ledger.Category{UserID: 1, Name: "Food", Type: ledger.Income})
	assert.NoError(t, err)
	_, err = store.CreateCategory(ctx, ledger.Category{UserID: 2, Name: "Food", Type: ledger.Expense})
	assert.NoError(t, err)
}

func TestCategory_DeleteDetachesTransactions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := mustAccount(t, store, 1)

	cat, err := store.CreateCategory(ctx, ledger.Category{UserID: 1, Name: "Food", Type: ledger.Expense})
	require.NoError(t, err)

	tx := expense(1, acc.ID, "25.50", time.Now())
	tx.CategoryID = &cat.ID
	created, err := store.CreateTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "Food", created.CategoryName)

	require.NoError(t, store.DeleteCategory(ctx, 1, cat.ID))

	got, err := store.GetTransaction(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CategoryID)
	assert.Empty(t, got.CategoryName)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func TestTransactions_ExactAmountsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := mustAccount(t, store, 1)

	created, err := store.CreateTransaction(ctx, expense(1, acc.ID, "0.10", time.Now()))
	require.NoError(t, err)

	got, err := store.GetTransaction(ctx, 1, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.10", got.Amount.String())
}

func TestTransactions_ListOrderAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := mustAccount(t, store, 1)

	day := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, bishkek) }

	a, err := store.CreateTransaction(ctx, expense(1, acc.ID, "1", day(5)))
	require.NoError(t, err)
	b, err := store.CreateTransaction(ctx, expense(1, acc.ID, "2", day(10)))
	require.NoError(t, err)
	// Same instant as b: id breaks the tie
	c, err := store.CreateTransaction(ctx, expense(1, acc.ID, "3", day(10)))
	require.NoError(t, err)

	salary := ledger.Transaction{
		UserID: 1, AccountID: acc.ID, Type: ledger.Income,
		Amount: ledger.MustMoney("5000"), Title: "Зарплата за январь", OccurredAt: day(20),
	}
	d, err := store.CreateTransaction(ctx, salary)
	require.NoError(t, err)

	all, err := store.ListTransactions(ctx, 1, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []int64{d.ID, c.ID, b.ID, a.ID}, []int64{all[0].ID, all[1].ID, all[2].ID, all[3].ID})

	expenses, err := store.ListTransactions(ctx, 1, ledger.TransactionFilter{Type: ledger.Expense})
	require.NoError(t, err)
	assert.Len(t, expenses, 3)

	// Cyrillic case-insensitive search
	found, err := store.ListTransactions(ctx, 1, ledger.TransactionFilter{Query: "ЗАРПЛАТА"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, d.ID, found[0].ID)

	ranged, err := store.ListTransactions(ctx, 1, ledger.TransactionFilter{
		Range: ledger.ParseDateRange("2024-01-06", "2024-01-10"),
	})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	limited, err := store.ListTransactions(ctx, 1, ledger.TransactionFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, d.ID, limited[0].ID)
}

func TestTransactions_DateRangeUsesBusinessTimeZone(t *testing.T) {
	// GIVEN: An expense at 2024-01-31T20:00Z, which is Feb 1 in Bishkek (UTC+6)
	// WHEN: Filtering by February
	// THEN: It is included

	store := newTestStore(t)
	ctx := context.Background()
	acc := mustAccount(t, store, 1)

	_, err := store.CreateTransaction(ctx, expense(1, acc.ID, "7", time.Date(2024, 1, 31, 20, 0, 0, 0, time.UTC)))
	require.NoError(t, err)

	rows, err := store.AmountRows(ctx, 1, ledger.AmountFilter{Range: ledger.ParseDateRange("2024-02-01", "2024-02-29")})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = store.AmountRows(ctx, 1, ledger.AmountFilter{Range: ledger.ParseDateRange("2024-01-01", "2024-01-31")})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// DEBT TESTS
// =============================================================================

func TestMarkDebtClosed_OnlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	debt, err := store.CreateDebt(ctx, ledger.Debt{
		UserID: 1, Kind: ledger.Receivable, PersonName: "Азамат", Amount: ledger.MustMoney("500"),
	})
	require.NoError(t, err)
	assert.False(t, debt.IsClosed)
	assert.Nil(t, debt.ClosedAt)

	changed, err := store.MarkDebtClosed(ctx, 1, debt.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = store.MarkDebtClosed(ctx, 1, debt.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := store.GetDebt(ctx, 1, debt.ID)
	require.NoError(t, err)
	assert.True(t, got.IsClosed)
	assert.NotNil(t, got.ClosedAt)

	_, err = store.MarkDebtClosed(ctx, 2, debt.ID, time.Now())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListDebts_OpenFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.CreateDebt(ctx, ledger.Debt{UserID: 1, Kind: ledger.Payable, PersonName: "A", Amount: ledger.MustMoney("1")})
	require.NoError(t, err)
	second, err := store.CreateDebt(ctx, ledger.Debt{UserID: 1, Kind: ledger.Payable, PersonName: "B", Amount: ledger.MustMoney("2")})
	require.NoError(t, err)

	_, err = store.MarkDebtClosed(ctx, 1, second.ID, time.Now())
	require.NoError(t, err)

	debts, err := store.ListDebts(ctx, 1, ledger.DebtFilter{})
	require.NoError(t, err)
	require.Len(t, debts, 2)
	assert.Equal(t, first.ID, debts[0].ID)
	assert.Equal(t, second.ID, debts[1].ID)

	closed := true
	debts, err = store.ListDebts(ctx, 1, ledger.DebtFilter{IsClosed: &closed})
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.Equal(t, second.ID, debts[0].ID)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	debt, err := store.CreateDebt(ctx, ledger.Debt{UserID: 1, Kind: ledger.Payable, PersonName: "A", Amount: ledger.MustMoney("1")})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.MarkDebtClosed(ctx, 1, debt.ID, time.Now()); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := store.GetDebt(ctx, 1, debt.ID)
	require.NoError(t, err)
	assert.False(t, got.IsClosed)
}

// =============================================================================
// NOTIFICATION TESTS
// =============================================================================

func TestNotifications_PayloadAndReadState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.CreateNotification(ctx, ledger.Notification{
		UserID: 1, Title: "Hi", Payload: map[string]any{"event": "debt_closed", "debt_id": 7},
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.NotificationSystem, n.Type)

	list, err := store.ListNotifications(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "debt_closed", list[0].Payload["event"])
	assert.EqualValues(t, 7, list[0].Payload["debt_id"])
	assert.False(t, list[0].IsRead)

	require.NoError(t, store.MarkNotificationRead(ctx, 1, n.ID))
	require.NoError(t, store.MarkNotificationRead(ctx, 1, n.ID))
	assert.ErrorIs(t, store.MarkNotificationRead(ctx, 2, n.ID), ledger.ErrNotFound)

	count, err := store.MarkAllNotificationsRead(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeviceTokens_UpsertMovesOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpsertDeviceToken(ctx, ledger.DeviceToken{UserID: 1, Token: "tok", Platform: ledger.PlatformIOS})
	require.NoError(t, err)
	require.NoError(t, store.DeactivateDeviceToken(ctx, "tok"))

	active, err := store.ActiveDeviceTokens(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, active)

	moved, err := store.UpsertDeviceToken(ctx, ledger.DeviceToken{UserID: 2, Token: "tok", Platform: ledger.PlatformAndroid})
	require.NoError(t, err)
	assert.Equal(t, ledger.UserID(2), moved.UserID)
	assert.True(t, moved.IsActive)

	active, err = store.ActiveDeviceTokens(ctx, 2)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ledger.PlatformAndroid, active[0].Platform)
}

func TestEvents_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	minutes := 15

	e, err := store.CreateEvent(ctx, ledger.CalendarEvent{
		UserID: 1, Title: "Rent", StartsAt: time.Date(2024, 3, 1, 9, 0, 0, 0, bishkek), ReminderMinutes: &minutes,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.RepeatNone, e.Repeat)
	require.NotNil(t, e.ReminderMinutes)
	assert.Equal(t, 15, *e.ReminderMinutes)

	e.Title = "Rent due"
	e.Repeat = ledger.RepeatMonthly
	updated, err := store.UpdateEvent(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "Rent due", updated.Title)

	march, err := store.ListEvents(ctx, 1, ledger.ParseDateRange("2024-03-01", "2024-03-31"))
	require.NoError(t, err)
	assert.Len(t, march, 1)

	april, err := store.ListEvents(ctx, 1, ledger.ParseDateRange("2024-04-01", ""))
	require.NoError(t, err)
	assert.Empty(t, april)

	require.NoError(t, store.DeleteEvent(ctx, 1, e.ID))
	_, err = store.GetEvent(ctx, 1, e.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
