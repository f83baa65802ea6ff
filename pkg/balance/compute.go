package balance

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fenlabs/ballast/pkg/types"
)

// Zero returns the empty balance a first deposit builds on. Version 0 marks
// a row that does not exist in the store yet.
func Zero(key types.BalanceKey) *types.Balance {
	return &types.Balance{
		AccountID: key.AccountID,
		Currency:  key.Currency,
		Available: decimal.Zero,
		Frozen:    decimal.Zero,
		Version:   0,
	}
}

// Apply computes the state after one mutation. cur is never modified; on
// success the returned balance carries the incremented version and the new
// amounts. Rejections return a kind-tagged error and no balance.
func Apply(cur *types.Balance, kind types.MutationKind, amount decimal.Decimal, at time.Time) (*types.Balance, error) {
	next := cur.Clone()

	switch kind {
	case types.MutationDeposit:
		next.Available = cur.Available.Add(amount)

	case types.MutationWithdraw, types.MutationTransfer:
		next.Available = cur.Available.Sub(amount)
		if next.Available.IsNegative() {
			return nil, types.Ef(types.KindInsufficientFunds,
				"available %s is below %s amount %s", cur.Available, kind, amount)
		}

	case types.MutationFreeze:
		next.Available = cur.Available.Sub(amount)
		next.Frozen = cur.Frozen.Add(amount)
		if next.Available.IsNegative() {
			return nil, types.Ef(types.KindInsufficientFunds,
				"available %s is below freeze amount %s", cur.Available, amount)
		}

	case types.MutationUnfreeze:
		next.Available = cur.Available.Add(amount)
		next.Frozen = cur.Frozen.Sub(amount)
		if next.Frozen.IsNegative() {
			return nil, types.Ef(types.KindInsufficientFunds,
				"frozen %s is below unfreeze amount %s", cur.Frozen, amount)
		}

	default:
		return nil, types.Ef(types.KindValidation, "unknown mutation kind %q", kind)
	}

	next.Version = cur.Version + 1
	next.UpdatedAt = at
	return next, nil
}
