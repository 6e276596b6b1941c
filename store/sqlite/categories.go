package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warp/finance-engine/ledger"
)

// =============================================================================
// CATEGORY STORE (ledger.CategoryStore interface)
// =============================================================================

const categoryColumns = `id, user_id, name, type, created_at`

var errDuplicateCategory = &ledger.ConflictError{
	Resource: "category",
	Reason:   "a category with this name and type already exists",
	Field:    "name",
	Message:  "Такая категория уже существует.",
}

func scanCategory(row interface{ Scan(...any) error }) (ledger.Category, error) {
	var (
		c         ledger.Category
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &createdAt); err != nil {
		return ledger.Category{}, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

// ListCategories returns the user's categories ordered by (type, name).
// An empty typ lists both types.
func (s *Store) ListCategories(ctx context.Context, user ledger.UserID, typ ledger.TxType) ([]ledger.Category, error) {
	query := `SELECT ` + categoryColumns + ` FROM categories WHERE user_id = ?`
	args := []any{user}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY type, name`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	categories := []ledger.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategory retrieves one of the user's categories.
func (s *Store) GetCategory(ctx context.Context, user ledger.UserID, id int64) (ledger.Category, error) {
	c, err := scanCategory(s.q.QueryRowContext(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE id = ? AND user_id = ?`, id, user))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Category{}, &ledger.NotFoundError{Resource: "category", ID: id}
	}
	if err != nil {
		return ledger.Category{}, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

// categoryExists checks (user, name, type) uniqueness, ignoring excludeID.
func (s *Store) categoryExists(ctx context.Context, c ledger.Category, excludeID int64) (bool, error) {
	var count int
	err := s.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM categories
		WHERE user_id = ? AND name = ? AND type = ? AND id != ?`,
		c.UserID, c.Name, c.Type, excludeID,
	).Scan(&count)
	return count > 0, err
}

// CreateCategory inserts a category after checking (user, name, type) is free.
// The UNIQUE constraint backs the check against concurrent inserts.
func (s *Store) CreateCategory(ctx context.Context, c ledger.Category) (ledger.Category, error) {
	exists, err := s.categoryExists(ctx, c, 0)
	if err != nil {
		return ledger.Category{}, fmt.Errorf("failed to check category: %w", err)
	}
	if exists {
		return ledger.Category{}, errDuplicateCategory
	}

	now := s.now()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO categories (user_id, name, type, created_at) VALUES (?, ?, ?, ?)`,
		c.UserID, c.Name, c.Type, formatTime(now))
	if isUniqueConstraintError(err) {
		return ledger.Category{}, errDuplicateCategory
	}
	if err != nil {
		return ledger.Category{}, fmt.Errorf("failed to insert category: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return ledger.Category{}, err
	}
	c.CreatedAt = parseTime(formatTime(now))
	return c, nil
}

// UpdateCategory renames or retypes a category.
func (s *Store) UpdateCategory(ctx context.Context, c ledger.Category) (ledger.Category, error) {
	if _, err := s.GetCategory(ctx, c.UserID, c.ID); err != nil {
		return ledger.Category{}, err
	}
	exists, err := s.categoryExists(ctx, c, c.ID)
	if err != nil {
		return ledger.Category{}, fmt.Errorf("failed to check category: %w", err)
	}
	if exists {
		return ledger.Category{}, errDuplicateCategory
	}

	_, err = s.q.ExecContext(ctx,
		`UPDATE categories SET name = ?, type = ? WHERE id = ? AND user_id = ?`,
		c.Name, c.Type, c.ID, c.UserID)
	if isUniqueConstraintError(err) {
		return ledger.Category{}, errDuplicateCategory
	}
	if err != nil {
		return ledger.Category{}, fmt.Errorf("failed to update category: %w", err)
	}
	return s.GetCategory(ctx, c.UserID, c.ID)
}

// DeleteCategory removes a category; ON DELETE SET NULL detaches its transactions.
func (s *Store) DeleteCategory(ctx context.Context, user ledger.UserID, id int64) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND user_id = ?`, id, user)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return affectedOrNotFound(res, "category", id)
}
