package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// ACCOUNT STORE (ledger.AccountStore interface)
// =============================================================================

const accountColumns = `id, user_id, name, currency, created_at`

func scanAccount(row interface{ Scan(...any) error }) (ledger.Account, error) {
	var (
		acc       ledger.Account
		createdAt string
	)
	if err := row.Scan(&acc.ID, &acc.UserID, &acc.Name, &acc.Currency, &createdAt); err != nil {
		return ledger.Account{}, err
	}
	acc.CreatedAt = parseTime(createdAt)
	return acc, nil
}

// ListAccounts returns the user's accounts ordered by id.
func (s *Store) ListAccounts(ctx context.Context, user ledger.UserID) ([]ledger.Account, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY id`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}

// GetAccount retrieves one of the user's accounts.
func (s *Store) GetAccount(ctx context.Context, user ledger.UserID, id int64) (ledger.Account, error) {
	acc, err := scanAccount(s.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ? AND user_id = ?`, id, user))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, &ledger.NotFoundError{Resource: "account", ID: id}
	}
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// CreateAccount inserts a non-default account.
func (s *Store) CreateAccount(ctx context.Context, acc ledger.Account) (ledger.Account, error) {
	return s.insertAccount(ctx, acc, false)
}

// CreateDefaultAccount inserts the user's default account. The partial
// unique index idx_accounts_one_default rejects a second one.
func (s *Store) CreateDefaultAccount(ctx context.Context, user ledger.UserID) (ledger.Account, error) {
	acc, err := s.insertAccount(ctx, ledger.Account{
		UserID:   user,
		Name:     ledger.DefaultAccountName,
		Currency: ledger.DefaultCurrency,
	}, true)
	if isUniqueConstraintError(err) {
		return ledger.Account{}, &ledger.ConflictError{Resource: "account", Reason: "default account already exists"}
	}
	return acc, err
}

func (s *Store) insertAccount(ctx context.Context, acc ledger.Account, isDefault bool) (ledger.Account, error) {
	now := s.now()
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (user_id, name, currency, is_default, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		acc.UserID, acc.Name, acc.Currency, boolInt(isDefault), formatTime(now),
	)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to insert account: %w", err)
	}
	acc.ID, err = res.LastInsertId()
	if err != nil {
		return ledger.Account{}, err
	}
	acc.CreatedAt = parseTime(formatTime(now))
	return acc, nil
}

// UpdateAccount renames an account or changes its currency.
func (s *Store) UpdateAccount(ctx context.Context, acc ledger.Account) (ledger.Account, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE accounts SET name = ?, currency = ? WHERE id = ? AND user_id = ?`,
		acc.Name, acc.Currency, acc.ID, acc.UserID)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to update account: %w", err)
	}
	if err := affectedOrNotFound(res, "account", acc.ID); err != nil {
		return ledger.Account{}, err
	}
	return s.GetAccount(ctx, acc.UserID, acc.ID)
}

// DeleteAccount removes an account and, by cascade, its transactions.
// The user's last account cannot be deleted.
func (s *Store) DeleteAccount(ctx context.Context, user ledger.UserID, id int64) error {
	return s.atomic(ctx, func(tx *Store) error {
		if _, err := tx.GetAccount(ctx, user, id); err != nil {
			return err
		}

		var count int
		if err := tx.q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM accounts WHERE user_id = ?`, user).Scan(&count); err != nil {
			return fmt.Errorf("failed to count accounts: %w", err)
		}
		if count <= 1 {
			return ledger.ErrLastAccount
		}

		res, err := tx.q.ExecContext(ctx, `DELETE FROM accounts WHERE id = ? AND user_id = ?`, id, user)
		if err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
		return affectedOrNotFound(res, "account", id)
	})
}

// FirstAccount returns the user's lowest-id account.
func (s *Store) FirstAccount(ctx context.Context, user ledger.UserID) (ledger.Account, bool, error) {
	acc, err := scanAccount(s.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY id LIMIT 1`, user))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, false, nil
	}
	if err != nil {
		return ledger.Account{}, false, fmt.Errorf("failed to get first account: %w", err)
	}
	return acc, true, nil
}
