package service

import (
	"context"
	"fmt"

	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/motivation"
)

// =============================================================================
// DEBT SETTLEMENT
// =============================================================================

// Settlement is the outcome of CloseDebt.
type Settlement struct {
	Debt ledger.Debt
	// Transaction is the ledger entry the close produced. Nil when the
	// debt was already closed.
	Transaction   *ledger.Transaction
	AlreadyClosed bool
}

// SettlementTitle is the title of the transaction that settles a debt with person.
func SettlementTitle(person string) string {
	return "Закрытие долга: " + person
}

// CloseDebt closes an open debt and appends the matching transaction to
// the default account in one atomic unit: a RECEIVABLE settles as INCOME,
// a PAYABLE as EXPENSE, for the debt's full amount.
//
// Closing an already-closed debt succeeds without writing anything, so
// repeated or concurrent calls produce exactly one settlement transaction.
func (s *Service) CloseDebt(ctx context.Context, user ledger.UserID, id int64) (Settlement, error) {
	var out Settlement

	err := s.store.WithTx(ctx, func(st ledger.Store) error {
		debt, err := st.GetDebt(ctx, user, id)
		if err != nil {
			return err
		}
		if debt.IsClosed {
			out = Settlement{Debt: debt, AlreadyClosed: true}
			return nil
		}

		now := s.now()
		closed, err := st.MarkDebtClosed(ctx, user, id, now)
		if err != nil {
			return fmt.Errorf("close debt: %w", err)
		}
		if !closed {
			out = Settlement{Debt: debt, AlreadyClosed: true}
			return nil
		}

		acc, err := ledger.EnsureDefaultAccount(ctx, st, user)
		if err != nil {
			return err
		}
		tx, err := st.CreateTransaction(ctx, ledger.Transaction{
			UserID:     user,
			AccountID:  acc.ID,
			Type:       debt.Kind.SettlementType(),
			Amount:     debt.Amount,
			Title:      SettlementTitle(debt.PersonName),
			Note:       debt.Description,
			OccurredAt: now,
		})
		if err != nil {
			return fmt.Errorf("record settlement: %w", err)
		}

		debt.IsClosed = true
		debt.ClosedAt = &now
		out = Settlement{Debt: debt, Transaction: &tx}
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	if out.AlreadyClosed {
		return out, nil
	}

	s.logger.Info("debt settled",
		"user_id", user,
		"debt_id", id,
		"tx_id", out.Transaction.ID,
		"type", out.Transaction.Type,
	)
	s.afterCommit(ctx, user, s.motivational(user, ledger.EventDebtClosed,
		motivation.Context{Amount: out.Debt.Amount, PersonName: out.Debt.PersonName},
		map[string]any{"debt_id": id, "tx_id": out.Transaction.ID},
	))
	return out, nil
}
