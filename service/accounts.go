package service

import (
	"context"

	"github.com/warp/finance-engine/ledger"
)

// ListAccounts returns user's accounts ordered by id.
func (s *Service) ListAccounts(ctx context.Context, user ledger.UserID) ([]ledger.Account, error) {
	return s.store.ListAccounts(ctx, user)
}

func (s *Service) GetAccount(ctx context.Context, user ledger.UserID, id int64) (ledger.Account, error) {
	return s.store.GetAccount(ctx, user, id)
}

// DefaultAccount resolves (creating if needed) the account that receives
// transactions posted without one.
func (s *Service) DefaultAccount(ctx context.Context, user ledger.UserID) (ledger.Account, error) {
	return ledger.EnsureDefaultAccount(ctx, s.store, user)
}

func (s *Service) CreateAccount(ctx context.Context, user ledger.UserID, in ledger.AccountInput) (ledger.Account, error) {
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return ledger.Account{}, err
	}

	acc, err := s.store.CreateAccount(ctx, ledger.Account{
		UserID:   user,
		Name:     in.Name,
		Currency: in.Currency,
	})
	if err != nil {
		return ledger.Account{}, err
	}

	s.afterCommit(ctx, user)
	return acc, nil
}

func (s *Service) UpdateAccount(ctx context.Context, user ledger.UserID, id int64, in ledger.AccountInput) (ledger.Account, error) {
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return ledger.Account{}, err
	}

	acc, err := s.store.UpdateAccount(ctx, ledger.Account{
		ID:       id,
		UserID:   user,
		Name:     in.Name,
		Currency: in.Currency,
	})
	if err != nil {
		return ledger.Account{}, err
	}

	s.afterCommit(ctx, user)
	return acc, nil
}

// DeleteAccount removes the account and, by cascade, its transactions.
// The user's last account cannot be deleted (ledger.ErrLastAccount).
func (s *Service) DeleteAccount(ctx context.Context, user ledger.UserID, id int64) error {
	if err := s.store.DeleteAccount(ctx, user, id); err != nil {
		return err
	}
	s.afterCommit(ctx, user)
	return nil
}
