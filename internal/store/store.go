package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidInput = errors.New("invalid input")
)

// Tx is the set of storage operations available both directly on a
// Repository and inside Repository.WithinTx.
type Tx interface {
	ItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context) ([]domain.InventoryItem, error)
	InsertItem(ctx context.Context, item domain.InventoryItem) error
	InsertItemIfAbsent(ctx context.Context, item domain.InventoryItem) (bool, error)
	UpdateItem(ctx context.Context, item domain.InventoryItem) error
	DeleteItem(ctx context.Context, sku string) (bool, error)
	SetItemQuantity(ctx context.Context, sku string, qty int, at time.Time) error
	SetItemPrice(ctx context.Context, sku string, price decimal.Decimal, at time.Time) error
	RenameItem(ctx context.Context, sku string, name string, at time.Time) error

	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	TransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error)
	UpdateTransactionMeta(ctx context.Context, id string, update domain.TransactionUpdate) error

	InsertLot(ctx context.Context, lot domain.InventoryLot) error
	OpenLots(ctx context.Context, productID string) ([]domain.InventoryLot, error)
	ListLots(ctx context.Context, productID string) ([]domain.InventoryLot, error)
	SetLotQuantity(ctx context.Context, lotID string, qty int) error

	InsertAccount(ctx context.Context, account domain.CurrentAccount) error
	AccountByID(ctx context.Context, id string) (*domain.CurrentAccount, error)
	ListAccounts(ctx context.Context) ([]domain.CurrentAccount, error)
	AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal, at time.Time) error

	InsertOutboxEntry(ctx context.Context, entry domain.SyncOutboxEntry) error
	PendingOutbox(ctx context.Context, limit int) ([]domain.SyncOutboxEntry, error)
	MarkOutboxSynced(ctx context.Context, ids []string) error
	PendingCount(ctx context.Context) (int, error)

	SyncState(ctx context.Context) (domain.SyncState, error)
	SetLastPushAt(ctx context.Context, at time.Time) error
	SetLastPullAt(ctx context.Context, at time.Time) error
	SetSyncInProgress(ctx context.Context, inProgress bool) error
	MarkRemoteApplied(ctx context.Context, id string, at time.Time) (bool, error)

	License(ctx context.Context) (*domain.License, error)
	SaveLicense(ctx context.Context, license domain.License) error

	DashboardStats(ctx context.Context) (domain.DashboardStats, error)
	CategoryStats(ctx context.Context) ([]domain.CategoryStats, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	Tx
	// WithinTx runs fn in a single storage transaction. Every change made
	// through the Tx handed to fn commits together, or none does.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}
