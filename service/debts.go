package service

import (
	"context"
	"strings"

	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/motivation"
)

// ListDebts returns open debts first, then newest first.
func (s *Service) ListDebts(ctx context.Context, user ledger.UserID, f ledger.DebtFilter) ([]ledger.Debt, error) {
	return s.store.ListDebts(ctx, user, f)
}

func (s *Service) GetDebt(ctx context.Context, user ledger.UserID, id int64) (ledger.Debt, error) {
	return s.store.GetDebt(ctx, user, id)
}

// CreateDebt records an open debt and notifies the user about it.
func (s *Service) CreateDebt(ctx context.Context, user ledger.UserID, in ledger.DebtInput) (ledger.Debt, error) {
	if err := in.Validate(); err != nil {
		return ledger.Debt{}, err
	}

	d, err := s.store.CreateDebt(ctx, ledger.Debt{
		UserID:      user,
		Kind:        in.Kind,
		PersonName:  strings.TrimSpace(in.PersonName),
		Amount:      *in.Amount,
		DueDate:     in.DueDate,
		Description: in.Description,
	})
	if err != nil {
		return ledger.Debt{}, err
	}

	s.afterCommit(ctx, user, s.motivational(user, ledger.EventDebtCreated,
		motivation.Context{Amount: d.Amount, PersonName: d.PersonName},
		map[string]any{"debt_id": d.ID},
	))
	return d, nil
}

// UpdateDebt edits an open or closed debt. The closed state itself only
// changes through CloseDebt.
func (s *Service) UpdateDebt(ctx context.Context, user ledger.UserID, id int64, in ledger.DebtInput) (ledger.Debt, error) {
	if err := in.Validate(); err != nil {
		return ledger.Debt{}, err
	}

	d, err := s.store.UpdateDebt(ctx, ledger.Debt{
		ID:          id,
		UserID:      user,
		Kind:        in.Kind,
		PersonName:  strings.TrimSpace(in.PersonName),
		Amount:      *in.Amount,
		DueDate:     in.DueDate,
		Description: in.Description,
	})
	if err != nil {
		return ledger.Debt{}, err
	}

	s.afterCommit(ctx, user)
	return d, nil
}

func (s *Service) DeleteDebt(ctx context.Context, user ledger.UserID, id int64) error {
	if err := s.store.DeleteDebt(ctx, user, id); err != nil {
		return err
	}
	s.afterCommit(ctx, user)
	return nil
}
