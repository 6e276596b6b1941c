package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// TRANSACTION STORE (ledger.TransactionStore interface)
// =============================================================================

const transactionSelect = `
	SELECT t.id, t.user_id, t.account_id, t.category_id, COALESCE(c.name, ''),
	       t.type, t.amount, t.title, t.note, t.occurred_at, t.created_at
	FROM transactions t
	LEFT JOIN categories c ON c.id = t.category_id`

func scanTransaction(row interface{ Scan(...any) error }) (ledger.Transaction, error) {
	var (
		tx         ledger.Transaction
		categoryID sql.NullInt64
		occurredAt string
		createdAt  string
	)
	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.AccountID, &categoryID, &tx.CategoryName,
		&tx.Type, &tx.Amount, &tx.Title, &tx.Note, &occurredAt, &createdAt,
	)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tx.CategoryID = intPtr(categoryID)
	tx.OccurredAt = parseTime(occurredAt)
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

// ListTransactions returns the user's transactions, newest first by
// (occurred_at desc, id desc).
func (s *Store) ListTransactions(ctx context.Context, user ledger.UserID, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	where := []string{"t.user_id = ?"}
	args := []any{user}

	if f.Type != "" {
		where = append(where, "t.type = ?")
		args = append(args, f.Type)
	}
	if f.AccountID != 0 {
		where = append(where, "t.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.CategoryID != 0 {
		where = append(where, "t.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if q := like(f.Query); q != "" {
		where = append(where, "(instr(ulower(t.title), ?) > 0 OR instr(ulower(t.note), ?) > 0)")
		args = append(args, q, q)
	}
	where, args = dateRange(where, args, "t.occurred_date", f.Range)

	query := transactionSelect + ` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY t.occurred_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// GetTransaction retrieves one of the user's transactions.
func (s *Store) GetTransaction(ctx context.Context, user ledger.UserID, id int64) (ledger.Transaction, error) {
	tx, err := scanTransaction(s.q.QueryRowContext(ctx,
		transactionSelect+` WHERE t.id = ? AND t.user_id = ?`, id, user))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, &ledger.NotFoundError{Resource: "transaction", ID: id}
	}
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// CreateTransaction appends a transaction. Ownership of the account and
// category must already have been checked by the caller.
func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions
		(user_id, account_id, category_id, type, amount, title, note,
		 occurred_at, occurred_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, tx.AccountID, nullInt(tx.CategoryID), tx.Type, tx.Amount,
		tx.Title, tx.Note, formatTime(tx.OccurredAt), s.businessDate(tx.OccurredAt),
		s.timestamp(),
	)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Transaction{}, err
	}
	return s.GetTransaction(ctx, tx.UserID, id)
}

// UpdateTransaction replaces the mutable fields of a transaction.
func (s *Store) UpdateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET account_id = ?, category_id = ?, type = ?, amount = ?, title = ?, note = ?,
		    occurred_at = ?, occurred_date = ?
		WHERE id = ? AND user_id = ?`,
		tx.AccountID, nullInt(tx.CategoryID), tx.Type, tx.Amount, tx.Title, tx.Note,
		formatTime(tx.OccurredAt), s.businessDate(tx.OccurredAt),
		tx.ID, tx.UserID,
	)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to update transaction: %w", err)
	}
	if err := affectedOrNotFound(res, "transaction", tx.ID); err != nil {
		return ledger.Transaction{}, err
	}
	return s.GetTransaction(ctx, tx.UserID, tx.ID)
}

// DeleteTransaction hard-deletes a transaction.
func (s *Store) DeleteTransaction(ctx context.Context, user ledger.UserID, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	return affectedOrNotFound(res, "transaction", id)
}

// AmountRows returns the aggregation projection. Amounts come back as
// TEXT and are summed by the caller in decimal; SUM() here would go
// through REAL and lose cents.
func (s *Store) AmountRows(ctx context.Context, user ledger.UserID, f ledger.AmountFilter) ([]ledger.AmountRow, error) {
	where := []string{"t.user_id = ?"}
	args := []any{user}
	if f.Type != "" {
		where = append(where, "t.type = ?")
		args = append(args, f.Type)
	}
	where, args = dateRange(where, args, "t.occurred_date", f.Range)

	rows, err := s.q.QueryContext(ctx, `
		SELECT t.type, t.category_id, COALESCE(c.name, ''), t.amount
		FROM transactions t
		LEFT JOIN categories c ON c.id = t.category_id
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.AmountRow
	for rows.Next() {
		var (
			r          ledger.AmountRow
			categoryID sql.NullInt64
		)
		if err := rows.Scan(&r.Type, &categoryID, &r.CategoryName, &r.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan amount: %w", err)
		}
		r.CategoryID = intPtr(categoryID)
		out = append(out, r)
	}
	return out, rows.Err()
}

// dateRange appends inclusive bounds on a YYYY-MM-DD column.
func dateRange(where []string, args []any, column string, r ledger.DateRange) ([]string, []any) {
	if r.From != nil {
		where = append(where, column+" >= ?")
		args = append(args, r.FromString())
	}
	if r.To != nil {
		where = append(where, column+" <= ?")
		args = append(args, r.ToString())
	}
	return where, args
}
