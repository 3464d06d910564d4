package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/domain"
)

// maxAttempts bounds the optimistic retry loop. A request that keeps losing the
// version race terminates with ErrRetryLimitExceeded instead of retrying forever.
const maxAttempts = 3

// retryDelay keeps two conflicting writers from re-colliding in lockstep.
const retryDelay = 5 * time.Millisecond

// Ledger orchestrates transfers between two accounts: idempotency guard, funds
// validation, and the atomic write block, wrapped in a bounded retry on
// optimistic conflicts. It takes no in-process locks; concurrency safety is
// delegated to the store's version-checked update and unique-key constraint.
type Ledger struct {
	accounts  AccountStore
	transfers TransferStore
	atomic    AtomicRunner
}

func NewLedger(accounts AccountStore, transfers TransferStore, atomic AtomicRunner) *Ledger {
	return &Ledger{
		accounts:  accounts,
		transfers: transfers,
		atomic:    atomic,
	}
}

// Transfer moves req.Amount between the two accounts, reading the transfer log
// and both account snapshots sequentially before the write block.
func (l *Ledger) Transfer(ctx context.Context, req domain.TransferRequest) error {
	return l.run(ctx, req, l.attemptSequential)
}

// TransferParallel behaves exactly like Transfer but issues the three
// independent lookups concurrently and joins them before proceeding. When both
// accounts are missing the error always names the source account.
func (l *Ledger) TransferParallel(ctx context.Context, req domain.TransferRequest) error {
	return l.run(ctx, req, l.attemptParallel)
}

// GetAccount returns the current snapshot of one account.
func (l *Ledger) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	account, err := l.accounts.FindAccountByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %d: %w", id, domain.ErrAccountNotFound)
	}
	return account, nil
}

func (l *Ledger) run(ctx context.Context, req domain.TransferRequest, attempt func(context.Context, domain.TransferRequest) error) error {
	if err := req.Validate(); err != nil {
		return err
	}

	err := retry.Do(
		func() error { return attempt(ctx, req) },
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, domain.ErrOptimisticConflict) }),
	)
	if err == nil {
		return nil
	}

	zerolog.Ctx(ctx).Error().
		Err(err).
		Str("transfer_key", req.Key).
		Int64("from_account_id", req.FromAccountID).
		Int64("to_account_id", req.ToAccountID).
		Msg("transfer failed")

	// The conflict is recoverable only inside the loop. Once the budget is
	// spent the caller gets the distinct limit error, not the conflict itself.
	if errors.Is(err, domain.ErrOptimisticConflict) {
		return fmt.Errorf("transfer %s: %w", req.Key, domain.ErrRetryLimitExceeded)
	}
	return err
}

func (l *Ledger) attemptSequential(ctx context.Context, req domain.TransferRequest) error {
	applied, err := l.transfers.FindTransferByKey(ctx, req.Key)
	if err != nil {
		return err
	}
	if applied != nil {
		zerolog.Ctx(ctx).Warn().Str("transfer_key", req.Key).Msg("transfer already applied")
		return nil
	}

	from, err := l.accounts.FindAccountByID(ctx, req.FromAccountID)
	if err != nil {
		return err
	}
	if from == nil {
		return fmt.Errorf("source account %d: %w", req.FromAccountID, domain.ErrAccountNotFound)
	}

	to, err := l.accounts.FindAccountByID(ctx, req.ToAccountID)
	if err != nil {
		return err
	}
	if to == nil {
		return fmt.Errorf("destination account %d: %w", req.ToAccountID, domain.ErrAccountNotFound)
	}

	if !from.CanCover(req.Amount) {
		return domain.ErrInsufficientFunds
	}

	return l.applyTransfer(ctx, req, from, to)
}

func (l *Ledger) attemptParallel(ctx context.Context, req domain.TransferRequest) error {
	var (
		applied  *domain.Transfer
		from, to *domain.Account
	)

	// Zero-value group: siblings are never cancelled, Wait joins all three and
	// reports the first error. The lookups write disjoint variables and Wait
	// orders them before any read below.
	var group errgroup.Group
	group.Go(func() error {
		var err error
		applied, err = l.transfers.FindTransferByKey(ctx, req.Key)
		return err
	})
	group.Go(func() error {
		var err error
		from, err = l.accounts.FindAccountByID(ctx, req.FromAccountID)
		return err
	})
	group.Go(func() error {
		var err error
		to, err = l.accounts.FindAccountByID(ctx, req.ToAccountID)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}

	if applied != nil {
		zerolog.Ctx(ctx).Warn().Str("transfer_key", req.Key).Msg("transfer already applied")
		return nil
	}
	if from == nil {
		return fmt.Errorf("source account %d: %w", req.FromAccountID, domain.ErrAccountNotFound)
	}
	if to == nil {
		return fmt.Errorf("destination account %d: %w", req.ToAccountID, domain.ErrAccountNotFound)
	}

	// Symmetric sufficiency: both legs are checked before committing to a write.
	if !from.CanCover(req.Amount) || to.Balance.Add(req.Amount).IsNegative() {
		return domain.ErrInsufficientFunds
	}

	return l.applyTransfer(ctx, req, from, to)
}

// applyTransfer runs the atomic write block: record insert plus the two
// conditional balance updates, checked against the versions captured at read
// time. Either all three persist or none do.
func (l *Ledger) applyTransfer(ctx context.Context, req domain.TransferRequest, from, to *domain.Account) error {
	record := req.Record()

	return l.atomic.RunAtomically(ctx, func(txCtx context.Context) error {
		if err := l.transfers.InsertTransfer(txCtx, record); err != nil {
			if errors.Is(err, domain.ErrDuplicateTransferKey) {
				// A concurrent attempt won the insert race and already moved
				// the balances; let the block complete without touching them.
				zerolog.Ctx(ctx).Warn().Str("transfer_key", req.Key).Msg("lost insert race, transfer already applied")
				return nil
			}
			return err
		}

		if err := l.accounts.AdjustBalance(txCtx, from.ID, from.Version, req.Amount.Neg()); err != nil {
			return err
		}
		return l.accounts.AdjustBalance(txCtx, to.ID, to.Version, req.Amount)
	})
}
