package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/domain"
	"github.com/ledgerd/go-sql-ledger/internal/app/core/usecase"
	"github.com/ledgerd/go-sql-ledger/pkg/wal"
)

// Store keeps accounts and transfer records in memory behind one RWMutex. It
// enforces the same contracts as the MySQL store: version-checked balance
// adjustments, a unique transfer key, and an atomic write block. An optional
// WAL makes committed transfers survive a restart.
type Store struct {
	mu        sync.RWMutex
	accounts  map[int64]*domain.Account
	transfers map[string]*domain.Transfer
	nextID    int64
	journal   *wal.WAL
}

// memTx marks a context as being inside RunAtomically. While it is present the
// store mutex is already held and staged inserts wait for commit before they
// reach the journal.
type memTx struct {
	staged []*domain.Transfer
}

type txKeyType struct{}

var txKey txKeyType

// NewStore seeds the store from accounts and, when journal is non-nil, replays
// previously committed transfers from it.
func NewStore(accounts map[int64]*domain.Account, journal *wal.WAL) (*Store, error) {
	s := &Store{
		accounts:  make(map[int64]*domain.Account, len(accounts)),
		transfers: make(map[string]*domain.Transfer),
		journal:   journal,
	}
	for id, account := range accounts {
		clone := *account
		s.accounts[id] = &clone
	}

	if journal != nil {
		if err := s.replay(); err != nil {
			return nil, fmt.Errorf("wal replay: %w", err)
		}
	}
	return s, nil
}

// replay re-applies every journaled transfer in order. Runs before the store
// is shared, so no locking.
func (s *Store) replay() error {
	return s.journal.ReadAll(func(raw []byte) error {
		var transfer domain.Transfer
		if err := json.Unmarshal(raw, &transfer); err != nil {
			return err
		}
		return s.applyRecovered(&transfer)
	})
}

func (s *Store) applyRecovered(transfer *domain.Transfer) error {
	if _, ok := s.transfers[transfer.Key]; ok {
		return nil
	}

	from, ok := s.accounts[transfer.FromAccountID]
	if !ok {
		return fmt.Errorf("journaled source account %d: %w", transfer.FromAccountID, domain.ErrAccountNotFound)
	}
	to, ok := s.accounts[transfer.ToAccountID]
	if !ok {
		return fmt.Errorf("journaled destination account %d: %w", transfer.ToAccountID, domain.ErrAccountNotFound)
	}

	from.Balance = from.Balance.Sub(transfer.Amount)
	from.Version++
	to.Balance = to.Balance.Add(transfer.Amount)
	to.Version++

	clone := *transfer
	s.transfers[transfer.Key] = &clone
	if transfer.ID > s.nextID {
		s.nextID = transfer.ID
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) *memTx {
	tx, _ := ctx.Value(txKey).(*memTx)
	return tx
}

func (s *Store) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	if s.inTx(ctx) == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	account, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	clone := *account
	return &clone, nil
}

func (s *Store) AdjustBalance(ctx context.Context, id int64, expectedVersion int32, delta decimal.Decimal) error {
	if s.inTx(ctx) == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return s.adjustLocked(id, expectedVersion, delta)
}

// adjustLocked mirrors the SQL conditional update: a missing row or a stale
// version both count as zero rows affected.
func (s *Store) adjustLocked(id int64, expectedVersion int32, delta decimal.Decimal) error {
	account, ok := s.accounts[id]
	if !ok || account.Version != expectedVersion {
		return fmt.Errorf("account %d at version %d: %w", id, expectedVersion, domain.ErrOptimisticConflict)
	}
	account.Balance = account.Balance.Add(delta)
	account.Version++
	return nil
}

func (s *Store) FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	if s.inTx(ctx) == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}
	transfer, ok := s.transfers[key]
	if !ok {
		return nil, nil
	}
	clone := *transfer
	return &clone, nil
}

func (s *Store) InsertTransfer(ctx context.Context, transfer *domain.Transfer) error {
	tx := s.inTx(ctx)
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	if _, ok := s.transfers[transfer.Key]; ok {
		return fmt.Errorf("transfer %s: %w", transfer.Key, domain.ErrDuplicateTransferKey)
	}

	s.nextID++
	transfer.ID = s.nextID
	transfer.CreatedAt = time.Now().UnixMilli()

	clone := *transfer
	s.transfers[transfer.Key] = &clone

	if tx != nil {
		tx.staged = append(tx.staged, &clone)
	} else if s.journal != nil {
		if err := s.journal.Write(&clone); err != nil {
			delete(s.transfers, transfer.Key)
			return fmt.Errorf("journal transfer %s: %w", transfer.Key, err)
		}
	}
	return nil
}

// RunAtomically holds the write lock for the whole block and restores a state
// snapshot when the block fails, so either every write in fn persists or none
// does. Committed inserts are journaled after the block succeeds.
func (s *Store) RunAtomically(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapAccounts := make(map[int64]*domain.Account, len(s.accounts))
	for id, account := range s.accounts {
		clone := *account
		snapAccounts[id] = &clone
	}
	snapTransfers := make(map[string]*domain.Transfer, len(s.transfers))
	for key, transfer := range s.transfers {
		clone := *transfer
		snapTransfers[key] = &clone
	}
	snapNextID := s.nextID

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, txKey, tx)); err != nil {
		s.accounts = snapAccounts
		s.transfers = snapTransfers
		s.nextID = snapNextID
		return err
	}

	if s.journal != nil {
		for _, transfer := range tx.staged {
			if err := s.journal.Write(transfer); err != nil {
				s.accounts = snapAccounts
				s.transfers = snapTransfers
				s.nextID = snapNextID
				return fmt.Errorf("journal transfer %s: %w", transfer.Key, err)
			}
		}
	}
	return nil
}

var (
	_ usecase.AccountStore  = (*Store)(nil)
	_ usecase.TransferStore = (*Store)(nil)
	_ usecase.AtomicRunner  = (*Store)(nil)
)
