package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// DEBT STORE (ledger.DebtStore interface)
// =============================================================================

const debtColumns = `id, user_id, kind, person_name, amount, due_date, description,
	is_closed, closed_at, created_at`

func scanDebt(row interface{ Scan(...any) error }) (ledger.Debt, error) {
	var (
		d         ledger.Debt
		dueDate   sql.NullString
		closedAt  sql.NullString
		createdAt string
	)
	err := row.Scan(&d.ID, &d.UserID, &d.Kind, &d.PersonName, &d.Amount, &dueDate,
		&d.Description, &d.IsClosed, &closedAt, &createdAt)
	if err != nil {
		return ledger.Debt{}, err
	}
	d.DueDate = parseNullDate(dueDate)
	d.ClosedAt = parseNullTime(closedAt)
	d.CreatedAt = parseTime(createdAt)
	return d, nil
}

// ListDebts returns the user's debts: open first, then newest.
func (s *Store) ListDebts(ctx context.Context, user ledger.UserID, f ledger.DebtFilter) ([]ledger.Debt, error) {
	where := []string{"user_id = ?"}
	args := []any{user}

	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.IsClosed != nil {
		where = append(where, "is_closed = ?")
		args = append(args, boolInt(*f.IsClosed))
	}
	if q := like(f.Query); q != "" {
		where = append(where, "(instr(ulower(person_name), ?) > 0 OR instr(ulower(description), ?) > 0)")
		args = append(args, q, q)
	}
	where, args = dateRange(where, args, "due_date", f.DueRange)

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE `+strings.Join(where, " AND ")+
			` ORDER BY is_closed, created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list debts: %w", err)
	}
	defer rows.Close()

	debts := []ledger.Debt{}
	for rows.Next() {
		d, err := scanDebt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

// GetDebt retrieves one of the user's debts.
func (s *Store) GetDebt(ctx context.Context, user ledger.UserID, id int64) (ledger.Debt, error) {
	d, err := scanDebt(s.q.QueryRowContext(ctx,
		`SELECT `+debtColumns+` FROM debts WHERE id = ? AND user_id = ?`, id, user))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Debt{}, &ledger.NotFoundError{Resource: "debt", ID: id}
	}
	if err != nil {
		return ledger.Debt{}, fmt.Errorf("failed to get debt: %w", err)
	}
	return d, nil
}

// CreateDebt inserts an open debt.
func (s *Store) CreateDebt(ctx context.Context, d ledger.Debt) (ledger.Debt, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO debts (user_id, kind, person_name, amount, due_date, description,
		                   is_closed, closed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		d.UserID, d.Kind, d.PersonName, d.Amount, nullDate(d.DueDate), d.Description, s.timestamp(),
	)
	if err != nil {
		return ledger.Debt{}, fmt.Errorf("failed to insert debt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ledger.Debt{}, err
	}
	return s.GetDebt(ctx, d.UserID, id)
}

// UpdateDebt replaces the client-editable fields. is_closed and closed_at
// only change through MarkDebtClosed.
func (s *Store) UpdateDebt(ctx context.Context, d ledger.Debt) (ledger.Debt, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE debts
		SET kind = ?, person_name = ?, amount = ?, due_date = ?, description = ?
		WHERE id = ? AND user_id = ?`,
		d.Kind, d.PersonName, d.Amount, nullDate(d.DueDate), d.Description, d.ID, d.UserID,
	)
	if err != nil {
		return ledger.Debt{}, fmt.Errorf("failed to update debt: %w", err)
	}
	if err := affectedOrNotFound(res, "debt", d.ID); err != nil {
		return ledger.Debt{}, err
	}
	return s.GetDebt(ctx, d.UserID, d.ID)
}

// DeleteDebt hard-deletes a debt. Settlement transactions already
// recorded stay in the ledger.
func (s *Store) DeleteDebt(ctx context.Context, user ledger.UserID, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM debts WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to delete debt: %w", err)
	}
	return affectedOrNotFound(res, "debt", id)
}

// MarkDebtClosed flips is_closed with a conditional UPDATE so only one of
// several concurrent closers observes the transition.
func (s *Store) MarkDebtClosed(ctx context.Context, user ledger.UserID, id int64, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE debts SET is_closed = 1, closed_at = ?
		WHERE id = ? AND user_id = ? AND is_closed = 0`,
		formatTime(at), id, user,
	)
	if err != nil {
		return false, fmt.Errorf("failed to close debt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// Either missing or already closed.
	if _, err := s.GetDebt(ctx, user, id); err != nil {
		return false, err
	}
	return false, nil
}
