package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

// Store keeps the whole device state in maps behind one RWMutex.
// WithinTx works on a copy of the state and swaps it in on success, so a
// failed unit of work leaves nothing behind.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	items        map[string]domain.InventoryItem
	transactions map[string]domain.Transaction
	txOrder      []string
	lots         map[string]domain.InventoryLot
	lotOrder     []string
	accounts     map[string]domain.CurrentAccount
	outbox       map[string]domain.SyncOutboxEntry
	outboxOrder  []string
	applied      map[string]time.Time
	lastPushAt   *time.Time
	lastPullAt   *time.Time
	inProgress   bool
	license      *domain.License
	users        map[string]domain.UserAccount
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		items:        make(map[string]domain.InventoryItem),
		transactions: make(map[string]domain.Transaction),
		lots:         make(map[string]domain.InventoryLot),
		accounts:     make(map[string]domain.CurrentAccount),
		outbox:       make(map[string]domain.SyncOutboxEntry),
		applied:      make(map[string]time.Time),
		users:        make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a small demo catalogue, one customer, one
// supplier and the dev login accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	for _, seed := range []struct {
		sku, name, category string
		qty                 int
		price               string
	}{
		{"SKU-CAY-01", "Cay 1kg", "Icecek", 40, "185.00"},
		{"SKU-SEK-01", "Toz Seker 1kg", "Temel Gida", 25, "42.50"},
		{"SKU-UN-01", "Un 5kg", "Temel Gida", 8, "139.90"},
		{"SKU-SUT-01", "Sut 1L", "Sut Urunleri", 60, "32.75"},
		{"SKU-DET-01", "Bulasik Deterjani", "Temizlik", 12, "89.00"},
	} {
		s.state.items[seed.sku] = domain.InventoryItem{
			ID:          uuid.NewString(),
			SKU:         seed.sku,
			Name:        seed.name,
			Category:    seed.category,
			Quantity:    seed.qty,
			Location:    "Raf",
			Price:       decimal.RequireFromString(seed.price),
			LastUpdated: now,
		}
	}

	for _, account := range []domain.CurrentAccount{
		{ID: "acc-customer-1", Name: "Ahmet Yilmaz", Type: domain.AccountCustomer},
		{ID: "acc-supplier-1", Name: "Anadolu Toptan", Type: domain.AccountSupplier},
	} {
		account.Balance = decimal.Zero
		account.CreatedAt = now
		account.UpdatedAt = now
		s.state.accounts[account.ID] = account
	}

	s.state.users = seedUsers()
	return s
}

// seedUsers builds the dev/demo login accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to fixed dev
// values with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn().Str("component", "memory-store").Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (st *state) clone() *state {
	out := &state{
		items:        make(map[string]domain.InventoryItem, len(st.items)),
		transactions: make(map[string]domain.Transaction, len(st.transactions)),
		txOrder:      slices.Clone(st.txOrder),
		lots:         make(map[string]domain.InventoryLot, len(st.lots)),
		lotOrder:     slices.Clone(st.lotOrder),
		accounts:     make(map[string]domain.CurrentAccount, len(st.accounts)),
		outbox:       make(map[string]domain.SyncOutboxEntry, len(st.outbox)),
		outboxOrder:  slices.Clone(st.outboxOrder),
		applied:      make(map[string]time.Time, len(st.applied)),
		lastPushAt:   st.lastPushAt,
		lastPullAt:   st.lastPullAt,
		inProgress:   st.inProgress,
		license:      st.license,
		users:        make(map[string]domain.UserAccount, len(st.users)),
	}
	for k, v := range st.items {
		out.items[k] = v
	}
	for k, v := range st.transactions {
		out.transactions[k] = v
	}
	for k, v := range st.lots {
		out.lots[k] = v
	}
	for k, v := range st.accounts {
		out.accounts[k] = v
	}
	for k, v := range st.outbox {
		out.outbox[k] = v
	}
	for k, v := range st.applied {
		out.applied[k] = v
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	return out
}

// ---- items ----

func (st *state) ItemBySKU(_ context.Context, sku string) (*domain.InventoryItem, error) {
	item, ok := st.items[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (st *state) ListItems(_ context.Context) ([]domain.InventoryItem, error) {
	items := make([]domain.InventoryItem, 0, len(st.items))
	for _, item := range st.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		if c := b.LastUpdated.Compare(a.LastUpdated); c != 0 {
			return c
		}
		return strings.Compare(a.SKU, b.SKU)
	})
	return items, nil
}

func (st *state) InsertItem(_ context.Context, item domain.InventoryItem) error {
	if _, exists := st.items[item.SKU]; exists {
		return store.ErrDuplicate
	}
	st.items[item.SKU] = item
	return nil
}

func (st *state) InsertItemIfAbsent(_ context.Context, item domain.InventoryItem) (bool, error) {
	if _, exists := st.items[item.SKU]; exists {
		return false, nil
	}
	st.items[item.SKU] = item
	return true, nil
}

func (st *state) UpdateItem(_ context.Context, item domain.InventoryItem) error {
	existing, ok := st.items[item.SKU]
	if !ok {
		return store.ErrNotFound
	}
	item.ID = existing.ID
	st.items[item.SKU] = item
	return nil
}

func (st *state) DeleteItem(_ context.Context, sku string) (bool, error) {
	if _, ok := st.items[sku]; !ok {
		return false, nil
	}
	delete(st.items, sku)
	return true, nil
}

func (st *state) SetItemQuantity(_ context.Context, sku string, qty int, at time.Time) error {
	item, ok := st.items[sku]
	if !ok {
		return store.ErrNotFound
	}
	if qty < 0 {
		return store.ErrInvalidInput
	}
	item.Quantity = qty
	item.LastUpdated = at
	st.items[sku] = item
	return nil
}

func (st *state) SetItemPrice(_ context.Context, sku string, price decimal.Decimal, at time.Time) error {
	item, ok := st.items[sku]
	if !ok {
		return store.ErrNotFound
	}
	item.Price = price
	item.LastUpdated = at
	st.items[sku] = item
	return nil
}

func (st *state) RenameItem(_ context.Context, sku string, name string, at time.Time) error {
	item, ok := st.items[sku]
	if !ok {
		return store.ErrNotFound
	}
	item.Name = name
	item.LastUpdated = at
	st.items[sku] = item
	return nil
}

// ---- transactions ----

func (st *state) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	if _, exists := st.transactions[tx.ID]; exists {
		return store.ErrDuplicate
	}
	st.transactions[tx.ID] = cloneTransaction(tx)
	st.txOrder = append(st.txOrder, tx.ID)
	return nil
}

func (st *state) TransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	tx, ok := st.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneTransaction(tx)
	return &out, nil
}

func (st *state) ListTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	result := make([]domain.Transaction, 0, len(st.txOrder))
	for i := len(st.txOrder) - 1; i >= 0; i-- {
		tx := st.transactions[st.txOrder[i]]
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.From != nil && tx.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && tx.CreatedAt.After(*filter.To) {
			continue
		}
		result = append(result, cloneTransaction(tx))
	}
	slices.SortStableFunc(result, func(a, b domain.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (st *state) UpdateTransactionMeta(_ context.Context, id string, update domain.TransactionUpdate) error {
	tx, ok := st.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if update.PaymentMethod != nil {
		tx.PaymentMethod = *update.PaymentMethod
	}
	if update.Note != nil {
		note := *update.Note
		tx.Note = &note
	}
	st.transactions[id] = tx
	return nil
}

func cloneTransaction(tx domain.Transaction) domain.Transaction {
	tx.Items = slices.Clone(tx.Items)
	return tx
}

// ---- lots ----

func (st *state) InsertLot(_ context.Context, lot domain.InventoryLot) error {
	if _, exists := st.lots[lot.ID]; exists {
		return store.ErrDuplicate
	}
	st.lots[lot.ID] = lot
	st.lotOrder = append(st.lotOrder, lot.ID)
	return nil
}

func (st *state) OpenLots(ctx context.Context, productID string) ([]domain.InventoryLot, error) {
	all, _ := st.ListLots(ctx, productID)
	open := all[:0]
	for _, lot := range all {
		if lot.Quantity > 0 {
			open = append(open, lot)
		}
	}
	return open, nil
}

func (st *state) ListLots(_ context.Context, productID string) ([]domain.InventoryLot, error) {
	lots := make([]domain.InventoryLot, 0)
	for _, id := range st.lotOrder {
		lot := st.lots[id]
		if lot.ProductID == productID {
			lots = append(lots, lot)
		}
	}
	// lotOrder is insertion order; the stable sort keeps it as the tie-break.
	slices.SortStableFunc(lots, func(a, b domain.InventoryLot) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return lots, nil
}

func (st *state) SetLotQuantity(_ context.Context, lotID string, qty int) error {
	lot, ok := st.lots[lotID]
	if !ok {
		return store.ErrNotFound
	}
	if qty < 0 || qty > lot.InitialQuantity {
		return store.ErrInvalidInput
	}
	lot.Quantity = qty
	st.lots[lotID] = lot
	return nil
}

// ---- accounts ----

func (st *state) InsertAccount(_ context.Context, account domain.CurrentAccount) error {
	if _, exists := st.accounts[account.ID]; exists {
		return store.ErrDuplicate
	}
	st.accounts[account.ID] = account
	return nil
}

func (st *state) AccountByID(_ context.Context, id string) (*domain.CurrentAccount, error) {
	account, ok := st.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (st *state) ListAccounts(_ context.Context) ([]domain.CurrentAccount, error) {
	accounts := make([]domain.CurrentAccount, 0, len(st.accounts))
	for _, account := range st.accounts {
		accounts = append(accounts, account)
	}
	slices.SortFunc(accounts, func(a, b domain.CurrentAccount) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return accounts, nil
}

func (st *state) AdjustAccountBalance(_ context.Context, id string, delta decimal.Decimal, at time.Time) error {
	account, ok := st.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	account.Balance = account.Balance.Add(delta)
	account.UpdatedAt = at
	st.accounts[id] = account
	return nil
}

// ---- outbox and sync state ----

func (st *state) InsertOutboxEntry(_ context.Context, entry domain.SyncOutboxEntry) error {
	if _, exists := st.outbox[entry.ID]; exists {
		return store.ErrDuplicate
	}
	entry.Synced = false
	st.outbox[entry.ID] = entry
	st.outboxOrder = append(st.outboxOrder, entry.ID)
	return nil
}

func (st *state) PendingOutbox(_ context.Context, limit int) ([]domain.SyncOutboxEntry, error) {
	pending := make([]domain.SyncOutboxEntry, 0)
	for _, id := range st.outboxOrder {
		if entry := st.outbox[id]; !entry.Synced {
			pending = append(pending, entry)
		}
	}
	slices.SortStableFunc(pending, func(a, b domain.SyncOutboxEntry) int {
		return a.TransactionTime.Compare(b.TransactionTime)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (st *state) MarkOutboxSynced(_ context.Context, ids []string) error {
	for _, id := range ids {
		entry, ok := st.outbox[id]
		if !ok {
			continue
		}
		entry.Synced = true
		st.outbox[id] = entry
	}
	return nil
}

func (st *state) PendingCount(_ context.Context) (int, error) {
	count := 0
	for _, entry := range st.outbox {
		if !entry.Synced {
			count++
		}
	}
	return count, nil
}

func (st *state) SyncState(ctx context.Context) (domain.SyncState, error) {
	pending, _ := st.PendingCount(ctx)
	return domain.SyncState{
		LastPushAt:     st.lastPushAt,
		LastPullAt:     st.lastPullAt,
		SyncInProgress: st.inProgress,
		PendingCount:   pending,
	}, nil
}

func (st *state) SetLastPushAt(_ context.Context, at time.Time) error {
	st.lastPushAt = &at
	return nil
}

func (st *state) SetLastPullAt(_ context.Context, at time.Time) error {
	st.lastPullAt = &at
	return nil
}

func (st *state) SetSyncInProgress(_ context.Context, inProgress bool) error {
	st.inProgress = inProgress
	return nil
}

func (st *state) MarkRemoteApplied(_ context.Context, id string, at time.Time) (bool, error) {
	if _, seen := st.applied[id]; seen {
		return false, nil
	}
	st.applied[id] = at
	return true, nil
}

func (st *state) License(_ context.Context) (*domain.License, error) {
	if st.license == nil {
		return nil, store.ErrNotFound
	}
	license := *st.license
	return &license, nil
}

func (st *state) SaveLicense(_ context.Context, license domain.License) error {
	st.license = &license
	return nil
}

// ---- aggregates ----

func (st *state) DashboardStats(_ context.Context) (domain.DashboardStats, error) {
	stats := domain.DashboardStats{TotalRevenue: decimal.Zero}
	for _, item := range st.items {
		stats.TotalItems++
		stats.TotalQuantity += item.Quantity
		if item.Quantity < domain.LowStockThreshold {
			stats.LowStockCount++
		}
	}
	for _, tx := range st.transactions {
		if tx.Type == domain.TransactionSale {
			stats.TotalRevenue = stats.TotalRevenue.Add(tx.Total)
		}
	}
	return stats, nil
}

func (st *state) CategoryStats(_ context.Context) ([]domain.CategoryStats, error) {
	byCategory := make(map[string]*domain.CategoryStats)
	for _, item := range st.items {
		entry, ok := byCategory[item.Category]
		if !ok {
			entry = &domain.CategoryStats{Category: item.Category, TotalValue: decimal.Zero}
			byCategory[item.Category] = entry
		}
		entry.Count++
		entry.TotalQuantity += item.Quantity
		entry.TotalValue = entry.TotalValue.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	stats := make([]domain.CategoryStats, 0, len(byCategory))
	for _, entry := range byCategory {
		stats = append(stats, *entry)
	}
	slices.SortFunc(stats, func(a, b domain.CategoryStats) int {
		if c := b.TotalValue.Cmp(a.TotalValue); c != 0 {
			return c
		}
		return strings.Compare(a.Category, b.Category)
	})
	return stats, nil
}

// ---- users ----

func (st *state) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := st.users[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	st.users[username] = user
	return nil
}

func (st *state) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, len(st.users))
	for _, user := range st.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (st *state) UpdateUserPassword(_ context.Context, username string, password string) error {
	user, ok := st.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	st.users[username] = user
	return nil
}
