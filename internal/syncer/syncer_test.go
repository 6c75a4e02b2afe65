package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
	"tezgah/backend/internal/store/memory"
)

type fakeRelay struct {
	mu         sync.Mutex
	pushErr    error
	pullErr    error
	pushed     []domain.PushRequest
	pulls      []domain.PullRequest
	heartbeats []domain.HeartbeatRequest
	pullResp   domain.PullResponse
	inserted   *int
}

func (f *fakeRelay) Push(_ context.Context, _ Credentials, req domain.PushRequest) (domain.PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return domain.PushResponse{}, f.pushErr
	}
	f.pushed = append(f.pushed, req)
	return domain.PushResponse{Success: true, Inserted: f.inserted}, nil
}

func (f *fakeRelay) Pull(_ context.Context, _ Credentials, req domain.PullRequest) (domain.PullResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, req)
	if f.pullErr != nil {
		return domain.PullResponse{}, f.pullErr
	}
	return f.pullResp, nil
}

func (f *fakeRelay) Heartbeat(_ context.Context, _ Credentials, req domain.HeartbeatRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, req)
	return nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidateAll() { c.calls++ }

var device = domain.Device{Identifier: "AA:BB:CC:00:00:01", Name: "kasa-1"}

func licensedRepo(t *testing.T) *memory.Store {
	t.Helper()
	repo := memory.New()
	require.NoError(t, repo.SaveLicense(context.Background(), domain.License{
		LicenseKey:  "KEY",
		DealerID:    "dealer-1",
		DealerName:  "Bayi",
		MACAddress:  device.Identifier,
		ActivatedAt: time.Now(),
		IsActive:    true,
		APIBaseURL:  "http://relay.invalid",
	}))
	return repo
}

func seedItem(t *testing.T, repo store.Repository, sku string, qty int, price string) {
	t.Helper()
	require.NoError(t, repo.InsertItem(context.Background(), domain.InventoryItem{
		ID: "id-" + sku, SKU: sku, Name: sku, Category: domain.DefaultCategory, Quantity: qty,
		Price: decimal.RequireFromString(price), LastUpdated: time.Now(),
	}))
}

func sp(v string) *string { return &v }

func fp(v float64) *float64 { return &v }

func TestQueueTransaction(t *testing.T) {
	repo := memory.New()
	s := New(repo, &fakeRelay{}, device, nil, zerolog.Nop())
	ctx := context.Background()

	id, err := s.QueueTransaction(ctx, domain.OutboxInput{ActionType: domain.ActionStockIn, ItemSKU: sp("A"), QuantityChange: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.QueueTransaction(ctx, domain.OutboxInput{ActionType: "BOGUS"})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
	_, err = s.QueueTransaction(ctx, domain.OutboxInput{ActionType: domain.ActionSale, Metadata: sp("{not json")})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, state.PendingCount)
}

func TestPush_MarksBatchSynced(t *testing.T) {
	repo := licensedRepo(t)
	relay := &fakeRelay{}
	s := New(repo, relay, device, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < PushBatchSize+5; i++ {
		_, err := s.QueueTransaction(ctx, domain.OutboxInput{ActionType: domain.ActionStockIn, ItemSKU: sp("A"), QuantityChange: 1})
		require.NoError(t, err)
	}

	pushed, err := s.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, PushBatchSize, pushed)
	require.Len(t, relay.pushed, 1)
	assert.Len(t, relay.pushed[0].Transactions, PushBatchSize)
	assert.Equal(t, device.Identifier, relay.pushed[0].DeviceIdentifier)

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, state.PendingCount, "pending count drops by exactly the batch size")
	assert.NotNil(t, state.LastPushAt)

	for i := 1; i < len(relay.pushed[0].Transactions); i++ {
		prev := relay.pushed[0].Transactions[i-1].TransactionTime
		assert.False(t, relay.pushed[0].Transactions[i].TransactionTime.Before(prev), "batch must be in transaction time order")
	}
}

func TestPush_UsesInsertedCount(t *testing.T) {
	repo := licensedRepo(t)
	two := 2
	relay := &fakeRelay{inserted: &two}
	s := New(repo, relay, device, nil, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.QueueTransaction(ctx, domain.OutboxInput{ActionType: domain.ActionSale, ItemSKU: sp("A"), QuantityChange: -1})
		require.NoError(t, err)
	}

	pushed, err := s.Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pushed)
	count, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPush_FailureLeavesPending(t *testing.T) {
	repo := licensedRepo(t)
	relay := &fakeRelay{pushErr: &StatusError{Op: "push", Status: 502}}
	s := New(repo, relay, device, nil, zerolog.Nop())
	ctx := context.Background()
	_, err := s.QueueTransaction(ctx, domain.OutboxInput{ActionType: domain.ActionSale, ItemSKU: sp("A"), QuantityChange: -1})
	require.NoError(t, err)

	_, err = s.Push(ctx)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 502, statusErr.Status)

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, state.PendingCount)
	assert.Nil(t, state.LastPushAt)
}

func TestPush_EmptyOutboxSkipsRelay(t *testing.T) {
	relay := &fakeRelay{}
	s := New(licensedRepo(t), relay, device, nil, zerolog.Nop())
	pushed, err := s.Push(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pushed)
	assert.Empty(t, relay.pushed)
}

func TestPull_AppliesBatchAndAdvancesCursor(t *testing.T) {
	repo := licensedRepo(t)
	ctx := context.Background()
	seedItem(t, repo, "A", 10, "5")
	seedItem(t, repo, "B", 1, "5")
	seedItem(t, repo, "GONE", 1, "5")

	serverTime := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	relay := &fakeRelay{pullResp: domain.PullResponse{
		Success:    true,
		ServerTime: &serverTime,
		Transactions: []domain.RemoteTransaction{
			{ID: "r1", DeviceIdentifier: "other", ActionType: domain.ActionSale, ItemSKU: sp("A"), QuantityChange: -3},
			{ID: "r2", DeviceIdentifier: "other", ActionType: domain.ActionStockOut, ItemSKU: sp("B"), QuantityChange: -5},
			{ID: "r3", DeviceIdentifier: "other", ActionType: domain.ActionStockIn, ItemSKU: sp("A"), QuantityChange: 4},
			{ID: "r4", DeviceIdentifier: "other", ActionType: domain.ActionPriceChange, ItemSKU: sp("A"), NewValue: fp(7.5)},
			{ID: "r5", DeviceIdentifier: "other", ActionType: domain.ActionItemCreate, ItemSKU: sp("NEW"), ItemName: sp("Yeni"), QuantityChange: 6, NewValue: fp(12)},
			{ID: "r6", DeviceIdentifier: "other", ActionType: domain.ActionItemUpdate, ItemSKU: sp("B"), ItemName: sp("B renamed")},
			{ID: "r7", DeviceIdentifier: "other", ActionType: domain.ActionItemDelete, ItemSKU: sp("GONE")},
			{ID: "r8", DeviceIdentifier: "other", ActionType: "SOMETHING_NEW", ItemSKU: sp("A")},
			{ID: "r9", DeviceIdentifier: "other", ActionType: domain.ActionStockIn, ItemSKU: sp("MISSING"), QuantityChange: 1},
		},
	}}
	invalidator := &countingInvalidator{}
	s := New(repo, relay, device, invalidator, zerolog.Nop())

	pulled, err := s.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, pulled)
	assert.Equal(t, 1, invalidator.calls)
	require.Len(t, relay.pulls, 1)
	assert.Nil(t, relay.pulls[0].Since, "first pull omits the cursor")

	a, err := repo.ItemBySKU(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 11, a.Quantity)
	assert.True(t, a.Price.Equal(decimal.RequireFromString("7.5")))

	b, err := repo.ItemBySKU(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 0, b.Quantity, "SALE/STOCK_OUT clamp at zero")
	assert.Equal(t, "B renamed", b.Name)

	created, err := repo.ItemBySKU(ctx, "NEW")
	require.NoError(t, err)
	assert.Equal(t, 6, created.Quantity)
	assert.True(t, created.Price.Equal(decimal.NewFromInt(12)))

	_, err = repo.ItemBySKU(ctx, "GONE")
	assert.ErrorIs(t, err, store.ErrNotFound)

	state, err := repo.SyncState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state.LastPullAt)
	assert.True(t, state.LastPullAt.Equal(serverTime))
	assert.Zero(t, state.PendingCount, "remote apply never enqueues")

	_, err = s.Pull(ctx)
	require.NoError(t, err)
	require.Len(t, relay.pulls, 2)
	require.NotNil(t, relay.pulls[1].Since)
	assert.True(t, relay.pulls[1].Since.Equal(serverTime))
}

func TestPull_RedeliveryIsHarmless(t *testing.T) {
	repo := licensedRepo(t)
	ctx := context.Background()
	seedItem(t, repo, "A", 10, "5")
	relay := &fakeRelay{pullResp: domain.PullResponse{
		Success: true,
		Transactions: []domain.RemoteTransaction{
			{ID: "r1", DeviceIdentifier: "other", ActionType: domain.ActionStockIn, ItemSKU: sp("A"), QuantityChange: 5},
			{ID: "r2", DeviceIdentifier: "other", ActionType: domain.ActionItemCreate, ItemSKU: sp("X"), ItemName: sp("X"), QuantityChange: 2},
		},
	}}
	s := New(repo, relay, device, nil, zerolog.Nop())

	first, err := s.Pull(ctx)
	require.NoError(t, err)
	second, err := s.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, first)
	assert.Zero(t, second)

	a, err := repo.ItemBySKU(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 15, a.Quantity)
	x, err := repo.ItemBySKU(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, 2, x.Quantity)
}

func TestPull_SkipsOwnDevice(t *testing.T) {
	repo := licensedRepo(t)
	ctx := context.Background()
	seedItem(t, repo, "A", 10, "5")
	relay := &fakeRelay{pullResp: domain.PullResponse{
		Success: true,
		Transactions: []domain.RemoteTransaction{
			{ID: "mine", DeviceIdentifier: device.Identifier, ActionType: domain.ActionSale, ItemSKU: sp("A"), QuantityChange: -4},
		},
	}}
	s := New(repo, relay, device, nil, zerolog.Nop())

	pulled, err := s.Pull(ctx)
	require.NoError(t, err)
	assert.Zero(t, pulled)
	a, err := repo.ItemBySKU(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 10, a.Quantity)
}

func TestPull_FailureKeepsCursor(t *testing.T) {
	repo := licensedRepo(t)
	relay := &fakeRelay{pullErr: errors.New("network down")}
	s := New(repo, relay, device, nil, zerolog.Nop())

	_, err := s.Pull(context.Background())
	require.Error(t, err)
	state, err := repo.SyncState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state.LastPullAt)
}

func TestPull_FallsBackToLocalStartTime(t *testing.T) {
	repo := licensedRepo(t)
	s := New(repo, &fakeRelay{pullResp: domain.PullResponse{Success: true}}, device, nil, zerolog.Nop())
	fixed := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Pull(context.Background())
	require.NoError(t, err)
	state, err := repo.SyncState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, state.LastPullAt)
	assert.True(t, state.LastPullAt.Equal(fixed))
}

func TestPerformDeviceSync_NoLicense(t *testing.T) {
	relay := &fakeRelay{}
	s := New(memory.New(), relay, device, nil, zerolog.Nop())
	_, err := s.PerformDeviceSync(context.Background())
	assert.ErrorIs(t, err, ErrNoLicense)
	assert.Empty(t, relay.pulls)
}

func TestPerformDeviceSync_PushFailureDoesNotBlockPull(t *testing.T) {
	repo := licensedRepo(t)
	ctx := context.Background()
	seedItem(t, repo, "A", 10, "5")
	relay := &fakeRelay{
		pushErr: errors.New("push broken"),
		pullResp: domain.PullResponse{Success: true, Transactions: []domain.RemoteTransaction{
			{ID: "r1", DeviceIdentifier: "other", ActionType: domain.ActionSale, ItemSKU: sp("A"), QuantityChange: -1},
		}},
	}
	s := New(repo, relay, device, nil, zerolog.Nop())
	_, err := s.QueueTransaction(ctx, domain.OutboxInput{ActionType: domain.ActionSale, ItemSKU: sp("A"), QuantityChange: -2})
	require.NoError(t, err)

	result, err := s.PerformDeviceSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Pushed)
	assert.Equal(t, 1, result.Pulled)
	require.Len(t, relay.heartbeats, 1)
	assert.Equal(t, 1, relay.heartbeats[0].PendingCount)
	assert.Equal(t, "kasa-1", relay.heartbeats[0].DeviceName)

	state, err := s.State(ctx)
	require.NoError(t, err)
	assert.False(t, state.SyncInProgress)
}

func TestClient_SendsCredentialsAndDecodes(t *testing.T) {
	var gotDealer, gotKey, gotPath string
	var gotBody domain.PullRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDealer = r.Header.Get(DealerHeader)
		gotKey = r.Header.Get(LicenseHeader)
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transactions":[{"id":"r1","deviceIdentifier":"d2","actionType":"STOCK_IN","itemSku":"A","quantityChange":2,"metadata":{"k":"v"},"transactionTime":"2026-01-01T00:00:00Z"}],"server_time":"2026-01-02T00:00:00Z"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	resp, err := client.Pull(context.Background(), Credentials{BaseURL: srv.URL + "/", DealerID: "d-1", LicenseKey: "k-1"}, domain.PullRequest{DeviceIdentifier: "d1"})
	require.NoError(t, err)

	assert.Equal(t, "d-1", gotDealer)
	assert.Equal(t, "k-1", gotKey)
	assert.Equal(t, PullPath, gotPath)
	assert.Equal(t, "d1", gotBody.DeviceIdentifier)
	require.Len(t, resp.Transactions, 1)
	assert.Equal(t, domain.ActionStockIn, resp.Transactions[0].ActionType)
	assert.Equal(t, 2, resp.Transactions[0].QuantityChange)
	require.NotNil(t, resp.ServerTime)
}

func TestClient_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case PushPath:
			_, _ = w.Write([]byte(`{"success":false,"error":"license expired"}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"unauthorized"}`))
		}
	}))
	defer srv.Close()

	client := NewClient(srv.Client())
	creds := Credentials{BaseURL: srv.URL}

	_, err := client.Push(context.Background(), creds, domain.PushRequest{})
	assert.ErrorIs(t, err, ErrRelayRejected)
	assert.Contains(t, err.Error(), "license expired")

	err = client.Heartbeat(context.Background(), creds, domain.HeartbeatRequest{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)
}
