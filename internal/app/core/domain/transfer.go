package domain

import "github.com/shopspring/decimal"

// Transfer is the append-only record of one applied transfer. At most one
// record exists per Key, enforced by the store's unique index rather than by
// any in-process lock.
type Transfer struct {
	ID            int64
	Key           string
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
	CreatedAt     int64
}

// TransferRequest is the caller input for one logical transfer. It is never
// persisted; the Transfer record built from it is.
type TransferRequest struct {
	Key           string
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
}

// Validate enforces the request constraints: non-empty key, non-negative amount.
func (r TransferRequest) Validate() error {
	if r.Key == "" {
		return ErrMissingTransferKey
	}
	if r.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

// Record builds the Transfer to persist for this request.
func (r TransferRequest) Record() *Transfer {
	return &Transfer{
		Key:           r.Key,
		FromAccountID: r.FromAccountID,
		ToAccountID:   r.ToAccountID,
		Amount:        r.Amount,
	}
}
