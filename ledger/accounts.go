package ledger

import (
	"context"
	"errors"
	"fmt"
)

// defaultAccountAttempts bounds get-or-create retries under contention.
const defaultAccountAttempts = 3

// EnsureDefaultAccount returns the user's lowest-id account, creating the
// default one if the user has none.
//
// Two concurrent first requests race on CreateDefaultAccount; the store's
// per-user uniqueness constraint lets exactly one insert win and the loser
// re-reads the winner's row.
func EnsureDefaultAccount(ctx context.Context, s AccountStore, user UserID) (Account, error) {
	for attempt := 0; attempt < defaultAccountAttempts; attempt++ {
		acc, ok, err := s.FirstAccount(ctx, user)
		if err != nil {
			return Account{}, fmt.Errorf("load first account: %w", err)
		}
		if ok {
			return acc, nil
		}

		acc, err = s.CreateDefaultAccount(ctx, user)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Account{}, fmt.Errorf("create default account: %w", err)
		}
	}
	return Account{}, fmt.Errorf("default account for user %d: %w", user, ErrConflict)
}
