package ledger

import "github.com/shopspring/decimal"

// Position is a wallet's state after applying one entry.
type Position struct {
	Balance decimal.Decimal
	Running decimal.Decimal
}

// Signed returns amount with the sign implied by t.
func Signed(t TxType, amount decimal.Decimal) decimal.Decimal {
	if t.IsCredit() {
		return amount.Abs()
	}
	return amount.Abs().Neg()
}

// Next applies a signed amount to a wallet balance and to the running balance
// of the wallet's last ledger entry. An absent prior running balance counts as
// zero, so the running chain is independent of any drift in the cached
// wallet balance.
func Next(balance decimal.Decimal, priorRunning decimal.NullDecimal, signed decimal.Decimal) Position {
	base := decimal.Zero
	if priorRunning.Valid {
		base = priorRunning.Decimal
	}
	return Position{
		Balance: balance.Add(signed),
		Running: base.Add(signed),
	}
}

// ChainBase picks the prior running balance for a new entry. When the wallet
// has no entries yet the chain is seeded from the wallet balance before the
// operation, so the first running balance equals the new wallet balance.
func ChainBase(last Transaction, hasLast bool, balanceBefore decimal.Decimal) decimal.NullDecimal {
	if !hasLast {
		return decimal.NewNullDecimal(balanceBefore)
	}
	return last.RunningBalance
}
