package memory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
)

// The methods below are the auto-commit surface of Store: each one takes the
// lock and delegates to the unlocked state implementation.

func (s *Store) ItemBySKU(ctx context.Context, sku string) (item *domain.InventoryItem, err error) {
	err = s.read(func(st *state) error { item, err = st.ItemBySKU(ctx, sku); return err })
	return item, err
}

func (s *Store) ListItems(ctx context.Context) (items []domain.InventoryItem, err error) {
	err = s.read(func(st *state) error { items, err = st.ListItems(ctx); return err })
	return items, err
}

func (s *Store) InsertItem(ctx context.Context, item domain.InventoryItem) error {
	return s.write(func(st *state) error { return st.InsertItem(ctx, item) })
}

func (s *Store) InsertItemIfAbsent(ctx context.Context, item domain.InventoryItem) (inserted bool, err error) {
	err = s.write(func(st *state) error { inserted, err = st.InsertItemIfAbsent(ctx, item); return err })
	return inserted, err
}

func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) error {
	return s.write(func(st *state) error { return st.UpdateItem(ctx, item) })
}

func (s *Store) DeleteItem(ctx context.Context, sku string) (deleted bool, err error) {
	err = s.write(func(st *state) error { deleted, err = st.DeleteItem(ctx, sku); return err })
	return deleted, err
}

func (s *Store) SetItemQuantity(ctx context.Context, sku string, qty int, at time.Time) error {
	return s.write(func(st *state) error { return st.SetItemQuantity(ctx, sku, qty, at) })
}

func (s *Store) SetItemPrice(ctx context.Context, sku string, price decimal.Decimal, at time.Time) error {
	return s.write(func(st *state) error { return st.SetItemPrice(ctx, sku, price, at) })
}

func (s *Store) RenameItem(ctx context.Context, sku string, name string, at time.Time) error {
	return s.write(func(st *state) error { return st.RenameItem(ctx, sku, name, at) })
}

func (s *Store) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	return s.write(func(st *state) error { return st.InsertTransaction(ctx, tx) })
}

func (s *Store) TransactionByID(ctx context.Context, id string) (tx *domain.Transaction, err error) {
	err = s.read(func(st *state) error { tx, err = st.TransactionByID(ctx, id); return err })
	return tx, err
}

func (s *Store) ListTransactions(ctx context.Context, filter domain.TransactionFilter) (txs []domain.Transaction, err error) {
	err = s.read(func(st *state) error { txs, err = st.ListTransactions(ctx, filter); return err })
	return txs, err
}

func (s *Store) UpdateTransactionMeta(ctx context.Context, id string, update domain.TransactionUpdate) error {
	return s.write(func(st *state) error { return st.UpdateTransactionMeta(ctx, id, update) })
}

func (s *Store) InsertLot(ctx context.Context, lot domain.InventoryLot) error {
	return s.write(func(st *state) error { return st.InsertLot(ctx, lot) })
}

func (s *Store) OpenLots(ctx context.Context, productID string) (lots []domain.InventoryLot, err error) {
	err = s.read(func(st *state) error { lots, err = st.OpenLots(ctx, productID); return err })
	return lots, err
}

func (s *Store) ListLots(ctx context.Context, productID string) (lots []domain.InventoryLot, err error) {
	err = s.read(func(st *state) error { lots, err = st.ListLots(ctx, productID); return err })
	return lots, err
}

func (s *Store) SetLotQuantity(ctx context.Context, lotID string, qty int) error {
	return s.write(func(st *state) error { return st.SetLotQuantity(ctx, lotID, qty) })
}

func (s *Store) InsertAccount(ctx context.Context, account domain.CurrentAccount) error {
	return s.write(func(st *state) error { return st.InsertAccount(ctx, account) })
}

func (s *Store) AccountByID(ctx context.Context, id string) (account *domain.CurrentAccount, err error) {
	err = s.read(func(st *state) error { account, err = st.AccountByID(ctx, id); return err })
	return account, err
}

func (s *Store) ListAccounts(ctx context.Context) (accounts []domain.CurrentAccount, err error) {
	err = s.read(func(st *state) error { accounts, err = st.ListAccounts(ctx); return err })
	return accounts, err
}

func (s *Store) AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal, at time.Time) error {
	return s.write(func(st *state) error { return st.AdjustAccountBalance(ctx, id, delta, at) })
}

func (s *Store) InsertOutboxEntry(ctx context.Context, entry domain.SyncOutboxEntry) error {
	return s.write(func(st *state) error { return st.InsertOutboxEntry(ctx, entry) })
}

func (s *Store) PendingOutbox(ctx context.Context, limit int) (entries []domain.SyncOutboxEntry, err error) {
	err = s.read(func(st *state) error { entries, err = st.PendingOutbox(ctx, limit); return err })
	return entries, err
}

func (s *Store) MarkOutboxSynced(ctx context.Context, ids []string) error {
	return s.write(func(st *state) error { return st.MarkOutboxSynced(ctx, ids) })
}

func (s *Store) PendingCount(ctx context.Context) (count int, err error) {
	err = s.read(func(st *state) error { count, err = st.PendingCount(ctx); return err })
	return count, err
}

func (s *Store) SyncState(ctx context.Context) (syncState domain.SyncState, err error) {
	err = s.read(func(st *state) error { syncState, err = st.SyncState(ctx); return err })
	return syncState, err
}

func (s *Store) SetLastPushAt(ctx context.Context, at time.Time) error {
	return s.write(func(st *state) error { return st.SetLastPushAt(ctx, at) })
}

func (s *Store) SetLastPullAt(ctx context.Context, at time.Time) error {
	return s.write(func(st *state) error { return st.SetLastPullAt(ctx, at) })
}

func (s *Store) SetSyncInProgress(ctx context.Context, inProgress bool) error {
	return s.write(func(st *state) error { return st.SetSyncInProgress(ctx, inProgress) })
}

func (s *Store) MarkRemoteApplied(ctx context.Context, id string, at time.Time) (fresh bool, err error) {
	err = s.write(func(st *state) error { fresh, err = st.MarkRemoteApplied(ctx, id, at); return err })
	return fresh, err
}

func (s *Store) License(ctx context.Context) (license *domain.License, err error) {
	err = s.read(func(st *state) error { license, err = st.License(ctx); return err })
	return license, err
}

func (s *Store) SaveLicense(ctx context.Context, license domain.License) error {
	return s.write(func(st *state) error { return st.SaveLicense(ctx, license) })
}

func (s *Store) DashboardStats(ctx context.Context) (stats domain.DashboardStats, err error) {
	err = s.read(func(st *state) error { stats, err = st.DashboardStats(ctx); return err })
	return stats, err
}

func (s *Store) CategoryStats(ctx context.Context) (stats []domain.CategoryStats, err error) {
	err = s.read(func(st *state) error { stats, err = st.CategoryStats(ctx); return err })
	return stats, err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	return s.write(func(st *state) error { return st.CreateUser(ctx, user) })
}

func (s *Store) ListUsers(ctx context.Context) (users []domain.UserAccount, err error) {
	err = s.read(func(st *state) error { users, err = st.ListUsers(ctx); return err })
	return users, err
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	return s.write(func(st *state) error { return st.UpdateUserPassword(ctx, username, password) })
}
