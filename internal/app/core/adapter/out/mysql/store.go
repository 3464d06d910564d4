package mysql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gosql "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/domain"
	"github.com/ledgerd/go-sql-ledger/internal/app/core/usecase"
	"github.com/ledgerd/go-sql-ledger/pkg/mysql"
)

// transferKeyIndex names the unique index on transfers.transfer_key. Only a
// duplicate-entry error against this index is the benign idempotency race.
const transferKeyIndex = "uniq_transfer_key"

// duplicateEntryErrNo is MySQL error 1062 (ER_DUP_ENTRY).
const duplicateEntryErrNo = 1062

// sqlAccount maps the accounts table.
type sqlAccount struct {
	ID        int64           `gorm:"primaryKey"`
	Balance   decimal.Decimal `gorm:"type:decimal(19,4);not null"`
	Version   int32           `gorm:"not null;default:0"`
	UpdatedAt int64           `gorm:"autoUpdateTime:milli"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransfer maps the transfers table.
type sqlTransfer struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	TransferKey   string          `gorm:"column:transfer_key;size:255;uniqueIndex:uniq_transfer_key"`
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal `gorm:"type:decimal(19,4);not null"`
	CreatedAt     int64           `gorm:"autoCreateTime:milli"`
}

func (*sqlTransfer) TableName() string {
	return "transfers"
}

// Store implements the account and transfer ports on MySQL. Writes issued
// inside RunAtomically share one database transaction, carried through the
// context.
type Store struct {
	client *mysql.Client
}

func NewStore(client *mysql.Client) *Store {
	return &Store{client: client}
}

type txKeyType struct{}

var txKey txKeyType

// db resolves the handle for ctx: the open transaction when inside
// RunAtomically, the pooled connection otherwise.
func (s *Store) db(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx
	}
	return s.client.DB().WithContext(ctx)
}

// RunAtomically executes fn inside one database transaction. Everything the
// block writes commits together or rolls back together.
func (s *Store) RunAtomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.client.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

func (s *Store) FindAccountByID(ctx context.Context, id int64) (*domain.Account, error) {
	var row sqlAccount
	err := s.db(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account %d: %w", id, err)
	}
	return &domain.Account{
		ID:      row.ID,
		Balance: row.Balance,
		Version: row.Version,
	}, nil
}

// AdjustBalance is the version-checked conditional update. Zero affected rows
// means another writer mutated the account between read and write.
func (s *Store) AdjustBalance(ctx context.Context, id int64, expectedVersion int32, delta decimal.Decimal) error {
	res := s.db(ctx).Model(&sqlAccount{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"balance": gorm.Expr("balance + ?", delta),
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("adjust account %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %d at version %d: %w", id, expectedVersion, domain.ErrOptimisticConflict)
	}
	return nil
}

func (s *Store) FindTransferByKey(ctx context.Context, key string) (*domain.Transfer, error) {
	var row sqlTransfer
	err := s.db(ctx).Where("transfer_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transfer %s: %w", key, err)
	}
	return toDomainTransfer(&row), nil
}

func (s *Store) InsertTransfer(ctx context.Context, transfer *domain.Transfer) error {
	row := sqlTransfer{
		TransferKey:   transfer.Key,
		FromAccountID: transfer.FromAccountID,
		ToAccountID:   transfer.ToAccountID,
		Amount:        transfer.Amount,
	}
	if err := s.db(ctx).Create(&row).Error; err != nil {
		var mysqlErr *gosql.MySQLError
		if errors.As(err, &mysqlErr) &&
			mysqlErr.Number == duplicateEntryErrNo &&
			strings.Contains(mysqlErr.Message, transferKeyIndex) {
			return fmt.Errorf("transfer %s: %w", transfer.Key, domain.ErrDuplicateTransferKey)
		}
		return fmt.Errorf("insert transfer %s: %w", transfer.Key, err)
	}

	transfer.ID = row.ID
	transfer.CreatedAt = row.CreatedAt
	return nil
}

// LoadAllAccounts reads every account, keyed by id. The memory backend is
// seeded from this at startup.
func (s *Store) LoadAllAccounts(ctx context.Context) (map[int64]*domain.Account, error) {
	var rows []sqlAccount
	if err := s.db(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	accounts := make(map[int64]*domain.Account, len(rows))
	for i := range rows {
		accounts[rows[i].ID] = &domain.Account{
			ID:      rows[i].ID,
			Balance: rows[i].Balance,
			Version: rows[i].Version,
		}
	}
	return accounts, nil
}

// Migrate creates the accounts and transfers tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.client.DB().WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlTransfer{})
}

func toDomainTransfer(row *sqlTransfer) *domain.Transfer {
	return &domain.Transfer{
		ID:            row.ID,
		Key:           row.TransferKey,
		FromAccountID: row.FromAccountID,
		ToAccountID:   row.ToAccountID,
		Amount:        row.Amount,
		CreatedAt:     row.CreatedAt,
	}
}

var (
	_ usecase.AccountStore  = (*Store)(nil)
	_ usecase.TransferStore = (*Store)(nil)
	_ usecase.AtomicRunner  = (*Store)(nil)
)
