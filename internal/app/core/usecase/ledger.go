package usecase

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/domain"
)

// AccountStore holds account balances with their version counters.
type AccountStore interface {
	// FindAccountByID returns the account snapshot, or (nil, nil) when absent.
	FindAccountByID(ctx context.Context, id int64) (*domain.Account, error)
	// AdjustBalance applies balance += delta, version += 1 only if the stored
	// version still equals expectedVersion. A stale version yields
	// domain.ErrOptimisticConflict and no mutation.
	AdjustBalance(ctx context.Context, id int64, expectedVersion int32, delta decimal.Decimal) error
}

// TransferStore is the append-only log of applied transfers.
type TransferStore interface {
	// FindTransferByKey returns the record for the key, or (nil, nil) when absent.
	FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error)
	// InsertTransfer appends a record. A collision on the unique transfer key
	// yields domain.ErrDuplicateTransferKey; other failures propagate as-is.
	InsertTransfer(ctx context.Context, transfer *domain.Transfer) error
}

// AtomicRunner groups writes so they commit or roll back together. The context
// passed to fn carries the open unit of work; store calls made with it join it.
type AtomicRunner interface {
	RunAtomically(ctx context.Context, fn func(ctx context.Context) error) error
}
