package domain

import "github.com/shopspring/decimal"

// Account is one ledger account row. Version increases by exactly one on every
// successful balance mutation; all mutations go through the store's
// version-checked conditional update, never through this struct.
type Account struct {
	ID      int64
	Balance decimal.Decimal
	Version int32
}

// CanCover reports whether debiting amount keeps the balance non-negative.
func (a *Account) CanCover(amount decimal.Decimal) bool {
	return !a.Balance.Sub(amount).IsNegative()
}
