package service

import (
	"context"

	"github.com/warp/finance-engine/ledger"
)

// ListCategories returns user's categories ordered by (type, name),
// optionally narrowed to typ.
func (s *Service) ListCategories(ctx context.Context, user ledger.UserID, typ ledger.TxType) ([]ledger.Category, error) {
	return s.store.ListCategories(ctx, user, typ)
}

func (s *Service) GetCategory(ctx context.Context, user ledger.UserID, id int64) (ledger.Category, error) {
	return s.store.GetCategory(ctx, user, id)
}

// CreateCategory fails with a ConflictError when the user already has a
// category of the same name and type.
func (s *Service) CreateCategory(ctx context.Context, user ledger.UserID, in ledger.CategoryInput) (ledger.Category, error) {
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return ledger.Category{}, err
	}

	c, err := s.store.CreateCategory(ctx, ledger.Category{
		UserID: user,
		Name:   in.Name,
		Type:   in.Type,
	})
	if err != nil {
		return ledger.Category{}, err
	}

	s.afterCommit(ctx, user)
	return c, nil
}

func (s *Service) UpdateCategory(ctx context.Context, user ledger.UserID, id int64, in ledger.CategoryInput) (ledger.Category, error) {
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return ledger.Category{}, err
	}

	c, err := s.store.UpdateCategory(ctx, ledger.Category{
		ID:     id,
		UserID: user,
		Name:   in.Name,
		Type:   in.Type,
	})
	if err != nil {
		return ledger.Category{}, err
	}

	s.afterCommit(ctx, user)
	return c, nil
}

// DeleteCategory leaves referencing transactions uncategorized.
func (s *Service) DeleteCategory(ctx context.Context, user ledger.UserID, id int64) error {
	if err := s.store.DeleteCategory(ctx, user, id); err != nil {
		return err
	}
	s.afterCommit(ctx, user)
	return nil
}
