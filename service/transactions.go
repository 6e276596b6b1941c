package service

import (
	"context"
	"fmt"

	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/motivation"
)

func (s *Service) ListTransactions(ctx context.Context, user ledger.UserID, f ledger.TransactionFilter) ([]ledger.Transaction, error) {
	return s.store.ListTransactions(ctx, user, f)
}

func (s *Service) GetTransaction(ctx context.Context, user ledger.UserID, id int64) (ledger.Transaction, error) {
	return s.store.GetTransaction(ctx, user, id)
}

// CreateTransaction records a transaction. Without an account it is
// posted to the default account. A salary-like income or an expense at
// or above the big-expense threshold triggers a motivational notification.
func (s *Service) CreateTransaction(ctx context.Context, user ledger.UserID, in ledger.TransactionInput) (ledger.Transaction, error) {
	if err := in.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	accountID, err := s.resolveAccount(ctx, user, in.AccountID, 0)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.checkCategory(ctx, user, in.CategoryID); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.store.CreateTransaction(ctx, ledger.Transaction{
		UserID:     user,
		AccountID:  accountID,
		CategoryID: in.CategoryID,
		Type:       in.Type,
		Amount:     *in.Amount,
		Title:      in.Title,
		Note:       in.Note,
		OccurredAt: *in.OccurredAt,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	var notes []ledger.Notification
	if event, ok := s.rules.TransactionEvent(tx); ok {
		notes = append(notes, s.motivational(user, event,
			motivation.Context{Amount: tx.Amount, Title: tx.Title},
			map[string]any{"tx_id": tx.ID},
		))
	}
	s.afterCommit(ctx, user, notes...)
	return tx, nil
}

// UpdateTransaction replaces a transaction's fields. Without an account
// the transaction stays on its current one. Updates never notify.
func (s *Service) UpdateTransaction(ctx context.Context, user ledger.UserID, id int64, in ledger.TransactionInput) (ledger.Transaction, error) {
	if err := in.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	current, err := s.store.GetTransaction(ctx, user, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	accountID, err := s.resolveAccount(ctx, user, in.AccountID, current.AccountID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if err := s.checkCategory(ctx, user, in.CategoryID); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.store.UpdateTransaction(ctx, ledger.Transaction{
		ID:         id,
		UserID:     user,
		AccountID:  accountID,
		CategoryID: in.CategoryID,
		Type:       in.Type,
		Amount:     *in.Amount,
		Title:      in.Title,
		Note:       in.Note,
		OccurredAt: *in.OccurredAt,
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.afterCommit(ctx, user)
	return tx, nil
}

func (s *Service) DeleteTransaction(ctx context.Context, user ledger.UserID, id int64) error {
	if err := s.store.DeleteTransaction(ctx, user, id); err != nil {
		return err
	}
	s.afterCommit(ctx, user)
	return nil
}

// =============================================================================
// REFERENCE CHECKS
// =============================================================================

// resolveAccount returns the account a write should use. A nil id falls
// back to fallback, or to the default account when fallback is zero.
// An id the user does not own is a validation error on "account".
func (s *Service) resolveAccount(ctx context.Context, user ledger.UserID, id *int64, fallback int64) (int64, error) {
	if id == nil {
		if fallback != 0 {
			return fallback, nil
		}
		acc, err := ledger.EnsureDefaultAccount(ctx, s.store, user)
		if err != nil {
			return 0, err
		}
		return acc.ID, nil
	}

	if _, err := s.store.GetAccount(ctx, user, *id); err != nil {
		if ledger.IsNotFound(err) {
			return 0, ledger.FieldError("account", msgForeignAccount)
		}
		return 0, fmt.Errorf("check account: %w", err)
	}
	return *id, nil
}

func (s *Service) checkCategory(ctx context.Context, user ledger.UserID, id *int64) error {
	if id == nil {
		return nil
	}
	if _, err := s.store.GetCategory(ctx, user, *id); err != nil {
		if ledger.IsNotFound(err) {
			return ledger.FieldError("category", msgForeignCategory)
		}
		return fmt.Errorf("check category: %w", err)
	}
	return nil
}
