// Package storetest holds behaviour checks shared by every store.Repository
// backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

// Factory returns an empty repository. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Repository

func Run(t *testing.T, newRepo Factory) {
	t.Run("Items", func(t *testing.T) { testItems(t, newRepo(t)) })
	t.Run("ItemQuantityGuard", func(t *testing.T) { testItemQuantityGuard(t, newRepo(t)) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newRepo(t)) })
	t.Run("LotsFIFOOrder", func(t *testing.T) { testLots(t, newRepo(t)) })
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newRepo(t)) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, newRepo(t)) })
	t.Run("SyncState", func(t *testing.T) { testSyncState(t, newRepo(t)) })
	t.Run("License", func(t *testing.T) { testLicense(t, newRepo(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newRepo(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newRepo(t)) })
	t.Run("WithinTxRollback", func(t *testing.T) { testWithinTxRollback(t, newRepo(t)) })
	t.Run("WithinTxCommit", func(t *testing.T) { testWithinTxCommit(t, newRepo(t)) })
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func item(sku string, qty int, price string) domain.InventoryItem {
	return domain.InventoryItem{
		ID:          "id-" + sku,
		SKU:         sku,
		Name:        "Item " + sku,
		Category:    domain.DefaultCategory,
		Quantity:    qty,
		Location:    "A1",
		Price:       decimal.RequireFromString(price),
		LastUpdated: base,
	}
}

func testItems(t *testing.T, repo store.Repository) {
	ctx := context.Background()

	require.NoError(t, repo.InsertItem(ctx, item("A-1", 5, "10.50")))
	err := repo.InsertItem(ctx, item("A-1", 1, "1"))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	got, err := repo.ItemBySKU(ctx, "A-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("10.50")), "price = %s", got.Price)
	assert.Nil(t, got.CostPrice)

	_, err = repo.ItemBySKU(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	inserted, err := repo.InsertItemIfAbsent(ctx, item("A-1", 99, "1"))
	require.NoError(t, err)
	assert.False(t, inserted)
	inserted, err = repo.InsertItemIfAbsent(ctx, item("B-2", 3, "2"))
	require.NoError(t, err)
	assert.True(t, inserted)

	cost := decimal.RequireFromString("7.25")
	updated := item("A-1", 6, "11")
	updated.CostPrice = &cost
	updated.LastUpdated = base.Add(time.Hour)
	require.NoError(t, repo.UpdateItem(ctx, updated))
	got, err = repo.ItemBySKU(ctx, "A-1")
	require.NoError(t, err)
	require.NotNil(t, got.CostPrice)
	assert.True(t, got.CostPrice.Equal(cost))
	assert.ErrorIs(t, repo.UpdateItem(ctx, item("nope", 1, "1")), store.ErrNotFound)

	items, err := repo.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "A-1", items[0].SKU, "most recently updated first")

	require.NoError(t, repo.SetItemPrice(ctx, "B-2", decimal.RequireFromString("4.40"), base))
	require.NoError(t, repo.RenameItem(ctx, "B-2", "Renamed", base))
	got, err = repo.ItemBySKU(ctx, "B-2")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("4.40")))
	assert.ErrorIs(t, repo.RenameItem(ctx, "nope", "x", base), store.ErrNotFound)

	deleted, err := repo.DeleteItem(ctx, "B-2")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = repo.DeleteItem(ctx, "B-2")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testItemQuantityGuard(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.InsertItem(ctx, item("Q-1", 2, "1")))

	assert.ErrorIs(t, repo.SetItemQuantity(ctx, "Q-1", -1, base), store.ErrInvalidInput)
	assert.ErrorIs(t, repo.SetItemQuantity(ctx, "missing", 1, base), store.ErrNotFound)

	require.NoError(t, repo.SetItemQuantity(ctx, "Q-1", 0, base.Add(time.Minute)))
	got, err := repo.ItemBySKU(ctx, "Q-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Quantity)
	assert.True(t, got.LastUpdated.Equal(base.Add(time.Minute)))
}

func testTransactions(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	note := "first"
	customer := "acc-1"
	for i, typ := range []domain.TransactionType{domain.TransactionSale, domain.TransactionExpense, domain.TransactionSale} {
		tx := domain.Transaction{
			ID:            []string{"t1", "t2", "t3"}[i],
			Items:         []domain.CartLine{{SKU: "A-1", Name: "Item", CartQuantity: i + 1, Price: decimal.RequireFromString("2.50")}},
			Total:         decimal.RequireFromString("2.50").Mul(decimal.NewFromInt(int64(i + 1))),
			PaymentMethod: domain.PaymentCash,
			Type:          typ,
			CreatedAt:     base.Add(time.Duration(i) * time.Hour),
		}
		if i == 0 {
			tx.Note = &note
			tx.CustomerID = &customer
		}
		require.NoError(t, repo.InsertTransaction(ctx, tx))
	}
	assert.ErrorIs(t, repo.InsertTransaction(ctx, domain.Transaction{ID: "t1", Type: domain.TransactionSale, CreatedAt: base}), store.ErrDuplicate)

	got, err := repo.TransactionByID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 1, got.Items[0].CartQuantity)
	require.NotNil(t, got.Note)
	assert.Equal(t, "first", *got.Note)
	require.NotNil(t, got.CustomerID)
	assert.Equal(t, "acc-1", *got.CustomerID)

	all, err := repo.ListTransactions(ctx, domain.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t3", all[0].ID, "newest first")

	sales, err := repo.ListTransactions(ctx, domain.TransactionFilter{Type: domain.TransactionSale, Limit: 1})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "t3", sales[0].ID)

	from := base.Add(30 * time.Minute)
	to := base.Add(90 * time.Minute)
	window, err := repo.ListTransactions(ctx, domain.TransactionFilter{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "t2", window[0].ID)

	card := domain.PaymentCard
	require.NoError(t, repo.UpdateTransactionMeta(ctx, "t2", domain.TransactionUpdate{PaymentMethod: &card}))
	got, err = repo.TransactionByID(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCard, got.PaymentMethod)
	assert.Nil(t, got.Note)
	assert.ErrorIs(t, repo.UpdateTransactionMeta(ctx, "missing", domain.TransactionUpdate{PaymentMethod: &card}), store.ErrNotFound)
}

func testLots(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	lot := func(id string, qty int, at time.Time) domain.InventoryLot {
		return domain.InventoryLot{
			ID:              id,
			ProductID:       "P-1",
			Quantity:        qty,
			InitialQuantity: qty,
			BuyPrice:        decimal.RequireFromString("3.00"),
			ReceiptDate:     "2026-03-01",
			CreatedAt:       at,
		}
	}
	require.NoError(t, repo.InsertLot(ctx, lot("lot-b", 4, base.Add(time.Hour))))
	require.NoError(t, repo.InsertLot(ctx, lot("lot-a", 2, base)))
	require.NoError(t, repo.InsertLot(ctx, lot("lot-c", 1, base.Add(time.Hour))))
	assert.ErrorIs(t, repo.InsertLot(ctx, lot("lot-a", 1, base)), store.ErrDuplicate)

	open, err := repo.OpenLots(ctx, "P-1")
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, []string{"lot-a", "lot-b", "lot-c"}, []string{open[0].ID, open[1].ID, open[2].ID})

	require.NoError(t, repo.SetLotQuantity(ctx, "lot-a", 0))
	assert.ErrorIs(t, repo.SetLotQuantity(ctx, "lot-b", 5), store.ErrInvalidInput)
	assert.ErrorIs(t, repo.SetLotQuantity(ctx, "lot-b", -1), store.ErrInvalidInput)
	assert.ErrorIs(t, repo.SetLotQuantity(ctx, "missing", 0), store.ErrNotFound)

	open, err = repo.OpenLots(ctx, "P-1")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "lot-b", open[0].ID)

	all, err := repo.ListLots(ctx, "P-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	other, err := repo.OpenLots(ctx, "P-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testAccounts(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.InsertAccount(ctx, domain.CurrentAccount{
		ID: "acc-1", Name: "Zeynep", Type: domain.AccountCustomer, Balance: decimal.Zero, CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, repo.InsertAccount(ctx, domain.CurrentAccount{
		ID: "acc-2", Name: "Ali", Type: domain.AccountSupplier, Balance: decimal.Zero, CreatedAt: base, UpdatedAt: base,
	}))
	assert.ErrorIs(t, repo.InsertAccount(ctx, domain.CurrentAccount{ID: "acc-1", Name: "x", Type: domain.AccountBoth, CreatedAt: base, UpdatedAt: base}), store.ErrDuplicate)

	require.NoError(t, repo.AdjustAccountBalance(ctx, "acc-1", decimal.RequireFromString("12.30"), base.Add(time.Minute)))
	require.NoError(t, repo.AdjustAccountBalance(ctx, "acc-1", decimal.RequireFromString("-2.10"), base.Add(2*time.Minute)))
	assert.ErrorIs(t, repo.AdjustAccountBalance(ctx, "missing", decimal.NewFromInt(1), base), store.ErrNotFound)

	got, err := repo.AccountByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("10.20")), "balance = %s", got.Balance)
	assert.True(t, got.UpdatedAt.Equal(base.Add(2*time.Minute)))

	accounts, err := repo.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "Ali", accounts[0].Name)

	_, err = repo.AccountByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testOutbox(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sku := "A-1"
	newValue := 12.5
	for i, id := range []string{"o2", "o1", "o3"} {
		entry := domain.SyncOutboxEntry{
			ID:              id,
			ActionType:      domain.ActionSale,
			ItemSKU:         &sku,
			QuantityChange:  -(i + 1),
			TransactionTime: base.Add(time.Duration(2-i) * time.Minute),
			CreatedAt:       base,
		}
		if id == "o3" {
			entry.ActionType = domain.ActionPriceChange
			entry.NewValue = &newValue
			entry.TransactionTime = base.Add(5 * time.Minute)
		}
		require.NoError(t, repo.InsertOutboxEntry(ctx, entry))
	}
	assert.ErrorIs(t, repo.InsertOutboxEntry(ctx, domain.SyncOutboxEntry{ID: "o1", ActionType: domain.ActionSale, TransactionTime: base, CreatedAt: base}), store.ErrDuplicate)

	pending, err := repo.PendingOutbox(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "o1", pending[0].ID, "oldest transaction time first")
	assert.Equal(t, "o2", pending[1].ID)
	require.NotNil(t, pending[0].ItemSKU)
	assert.Equal(t, "A-1", *pending[0].ItemSKU)
	assert.False(t, pending[0].Synced)

	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, repo.MarkOutboxSynced(ctx, []string{"o1", "o2", "unknown"}))
	require.NoError(t, repo.MarkOutboxSynced(ctx, nil))

	pending, err = repo.PendingOutbox(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "o3", pending[0].ID)
	require.NotNil(t, pending[0].NewValue)
	assert.InDelta(t, 12.5, *pending[0].NewValue, 0.0001)
}

func testSyncState(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	state, err := repo.SyncState(ctx)
	require.NoError(t, err)
	assert.Nil(t, state.LastPushAt)
	assert.Nil(t, state.LastPullAt)
	assert.False(t, state.SyncInProgress)

	require.NoError(t, repo.SetLastPushAt(ctx, base))
	require.NoError(t, repo.SetLastPullAt(ctx, base.Add(time.Second)))
	require.NoError(t, repo.SetSyncInProgress(ctx, true))

	state, err = repo.SyncState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastPushAt)
	require.NotNil(t, state.LastPullAt)
	assert.True(t, state.LastPushAt.Equal(base))
	assert.True(t, state.LastPullAt.Equal(base.Add(time.Second)))
	assert.True(t, state.SyncInProgress)

	fresh, err := repo.MarkRemoteApplied(ctx, "remote-1", base)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = repo.MarkRemoteApplied(ctx, "remote-1", base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, fresh)
}

func testLicense(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	_, err := repo.License(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	license := domain.License{
		LicenseKey:  "KEY-1",
		DealerID:    "dealer-1",
		DealerName:  "Bayi",
		MACAddress:  "AA:BB:CC:DD:EE:FF",
		ActivatedAt: base,
		IsActive:    true,
		APIBaseURL:  "http://relay.local",
	}
	require.NoError(t, repo.SaveLicense(ctx, license))
	license.LicenseKey = "KEY-2"
	require.NoError(t, repo.SaveLicense(ctx, license))

	got, err := repo.License(ctx)
	require.NoError(t, err)
	assert.Equal(t, "KEY-2", got.LicenseKey)
	assert.Equal(t, "dealer-1", got.DealerID)
	assert.Equal(t, "http://relay.local", got.APIBaseURL)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.ExpiresAt)
}

func testStats(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	cheap := item("S-1", 4, "2.50")
	cheap.Category = "Temizlik"
	require.NoError(t, repo.InsertItem(ctx, cheap))
	require.NoError(t, repo.InsertItem(ctx, item("S-2", 20, "10")))
	require.NoError(t, repo.InsertItem(ctx, item("S-3", 1, "100")))

	require.NoError(t, repo.InsertTransaction(ctx, domain.Transaction{
		ID: "s1", Total: decimal.RequireFromString("15.25"), PaymentMethod: domain.PaymentCash, Type: domain.TransactionSale, CreatedAt: base,
	}))
	require.NoError(t, repo.InsertTransaction(ctx, domain.Transaction{
		ID: "s2", Total: decimal.RequireFromString("4.75"), PaymentMethod: domain.PaymentCash, Type: domain.TransactionSale, CreatedAt: base,
	}))
	require.NoError(t, repo.InsertTransaction(ctx, domain.Transaction{
		ID: "e1", Total: decimal.RequireFromString("99"), PaymentMethod: domain.PaymentCash, Type: domain.TransactionExpense, CreatedAt: base,
	}))

	stats, err := repo.DashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 25, stats.TotalQuantity)
	assert.Equal(t, 2, stats.LowStockCount)
	assert.True(t, stats.TotalRevenue.Equal(decimal.RequireFromString("20")), "revenue = %s", stats.TotalRevenue)

	categories, err := repo.CategoryStats(ctx)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, domain.DefaultCategory, categories[0].Category)
	assert.Equal(t, 2, categories[0].Count)
	assert.True(t, categories[0].TotalValue.Equal(decimal.NewFromInt(300)), "value = %s", categories[0].TotalValue)
	assert.Equal(t, "Temizlik", categories[1].Category)
	assert.True(t, categories[1].TotalValue.Equal(decimal.NewFromInt(10)))
}

func testUsers(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{Username: " Kasa ", Password: "hash", Role: "cashier", Active: true, CreatedAt: base}))
	assert.ErrorIs(t, repo.CreateUser(ctx, domain.UserAccount{Username: "kasa", Password: "x", Role: "admin", CreatedAt: base}), store.ErrDuplicate)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "kasa", users[0].Username)
	assert.True(t, users[0].Active)

	require.NoError(t, repo.UpdateUserPassword(ctx, "kasa", "newhash"))
	assert.ErrorIs(t, repo.UpdateUserPassword(ctx, "ghost", "x"), store.ErrNotFound)
	users, err = repo.ListUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, "newhash", users[0].Password)
}

var errBoom = errors.New("boom")

func testWithinTxRollback(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.InsertItem(ctx, item("R-1", 5, "1")))

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.SetItemQuantity(ctx, "R-1", 1, base); err != nil {
			return err
		}
		if err := tx.InsertOutboxEntry(ctx, domain.SyncOutboxEntry{ID: "rb", ActionType: domain.ActionSale, TransactionTime: base, CreatedAt: base}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	got, err := repo.ItemBySKU(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Quantity)
	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testWithinTxCommit(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.InsertItem(ctx, item("C-1", 5, "1")))

	err := repo.WithinTx(ctx, func(tx store.Tx) error {
		current, err := tx.ItemBySKU(ctx, "C-1")
		if err != nil {
			return err
		}
		if err := tx.SetItemQuantity(ctx, "C-1", current.Quantity-2, base); err != nil {
			return err
		}
		return tx.InsertOutboxEntry(ctx, domain.SyncOutboxEntry{ID: "ok", ActionType: domain.ActionSale, TransactionTime: base, CreatedAt: base})
	})
	require.NoError(t, err)

	got, err := repo.ItemBySKU(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Quantity)
	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
