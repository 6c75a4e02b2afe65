package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store/memory"
	"tezgah/backend/internal/syncer"
)

func strp(v string) *string { return &v }

func TestMemoryStore_DealersAndAuth(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.RegisterDealer(ctx, "d1", "Bayi", "key-1"))
	assert.ErrorIs(t, s.RegisterDealer(ctx, "d1", "Bayi", "key-2"), ErrDealerExists)
	assert.ErrorIs(t, s.RegisterDealer(ctx, " ", "Bayi", "key"), ErrInvalidDealer)

	assert.NoError(t, s.Authenticate(ctx, "d1", "key-1"))
	assert.ErrorIs(t, s.Authenticate(ctx, "d1", "key-2"), ErrUnauthorized)
	assert.ErrorIs(t, s.Authenticate(ctx, "d2", "key-1"), ErrUnauthorized)
	assert.ErrorIs(t, s.Authenticate(ctx, "d1", ""), ErrUnauthorized)
}

func TestMemoryStore_InsertIdempotentAndSince(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	batch := []domain.SyncTransaction{
		{ID: "a", ActionType: domain.ActionSale, ItemSKU: strp("X"), QuantityChange: -1, Metadata: strp(`{"k":1}`), TransactionTime: t0.Add(2 * time.Second)},
		{ID: "b", ActionType: domain.ActionStockIn, ItemSKU: strp("X"), QuantityChange: 3, TransactionTime: t0.Add(time.Second)},
	}
	inserted, skipped, err := s.Insert(ctx, "d1", "dev-a", batch, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)
	assert.Zero(t, skipped)

	inserted, skipped, err = s.Insert(ctx, "d1", "dev-a", batch[:1], t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, inserted)
	assert.Equal(t, 1, skipped)

	_, _, err = s.Insert(ctx, "d2", "dev-z", batch[:1], t0)
	require.NoError(t, err, "ids are unique per dealer only")

	_, _, err = s.Insert(ctx, "d1", "dev-b", []domain.SyncTransaction{{ID: "c", ActionType: domain.ActionStockOut, TransactionTime: t0}}, t0.Add(time.Hour))
	require.NoError(t, err)

	forB, err := s.Since(ctx, "d1", "dev-b", nil, 0)
	require.NoError(t, err)
	require.Len(t, forB, 2)
	assert.Equal(t, "b", forB[0].ID, "same receive time orders by transaction time")
	assert.Equal(t, "a", forB[1].ID)
	assert.JSONEq(t, `{"k":1}`, string(forB[1].Metadata))

	since := t0.Add(30 * time.Minute)
	forA, err := s.Since(ctx, "d1", "dev-a", &since, 0)
	require.NoError(t, err)
	require.Len(t, forA, 1)
	assert.Equal(t, "c", forA[0].ID)

	limited, err := s.Since(ctx, "d1", "dev-c", nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMetadataJSON(t *testing.T) {
	assert.Nil(t, MetadataJSON(nil))
	assert.Nil(t, MetadataJSON(strp("")))
	assert.JSONEq(t, `{"a":true}`, string(MetadataJSON(strp(`{"a":true}`))))
	assert.JSONEq(t, `"plain note"`, string(MetadataJSON(strp("plain note"))))
}

func TestMemoryPresence_TTL(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPresence(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	require.NoError(t, p.Touch(ctx, "d1", domain.HeartbeatRequest{DeviceIdentifier: "dev-b", DeviceName: "B", PendingCount: 2}, now.Add(-2*time.Minute)))
	require.NoError(t, p.Touch(ctx, "d1", domain.HeartbeatRequest{DeviceIdentifier: "dev-a", DeviceName: "A", PendingCount: 1}, now))
	require.NoError(t, p.Touch(ctx, "d2", domain.HeartbeatRequest{DeviceIdentifier: "dev-z"}, now))

	devices, err := p.Devices(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "dev-a", devices[0].DeviceIdentifier)
	assert.Equal(t, 1, devices[0].PendingCount)
	assert.Equal(t, "d1", devices[0].DealerID)
}

func newTestServer(t *testing.T) (*httptest.Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.RegisterDealer(context.Background(), "dealer-1", "Bayi", "license-1"))
	srv := httptest.NewServer(NewServer(store, NewMemoryPresence(time.Minute), zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv, store
}

func post(t *testing.T, url, dealer, key string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if dealer != "" {
		req.Header.Set(syncer.DealerHeader, dealer)
	}
	if key != "" {
		req.Header.Set(syncer.LicenseHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_RejectsBadCredentials(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, tc := range []struct{ name, dealer, key string }{
		{"missing", "", ""},
		{"wrong key", "dealer-1", "nope"},
		{"unknown dealer", "dealer-x", "license-1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := post(t, srv.URL+syncer.PushPath, tc.dealer, tc.key, domain.PushRequest{DeviceIdentifier: "dev"})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_PushValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+syncer.PushPath, "dealer-1", "license-1", domain.PushRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+syncer.PushPath, "dealer-1", "license-1", domain.PushRequest{
		DeviceIdentifier: "dev",
		Transactions:     []domain.SyncTransaction{{ActionType: domain.ActionSale}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+syncer.PushPath, nil)
	require.NoError(t, err)
	req.Header.Set(syncer.DealerHeader, "dealer-1")
	req.Header.Set(syncer.LicenseHeader, "license-1")
	getResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestServer_PullReturnsLookbackCursor(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.RegisterDealer(context.Background(), "dealer-1", "Bayi", "license-1"))
	server := NewServer(store, NewMemoryPresence(time.Minute), zerolog.Nop())
	fixed := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	server.now = func() time.Time { return fixed }
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	resp := post(t, srv.URL+syncer.PullPath, "dealer-1", "license-1", domain.PullRequest{DeviceIdentifier: "dev"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pull domain.PullResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pull))
	assert.True(t, pull.Success)
	require.NotNil(t, pull.ServerTime)
	assert.True(t, pull.ServerTime.Equal(fixed.Add(-CursorLookback)))
}

func TestServer_HeartbeatAndDevices(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+syncer.HeartbeatPath, "dealer-1", "license-1", domain.HeartbeatRequest{DeviceIdentifier: "dev-a", DeviceName: "Kasa", PendingCount: 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/sync/devices", nil)
	require.NoError(t, err)
	req.Header.Set(syncer.DealerHeader, "dealer-1")
	req.Header.Set(syncer.LicenseHeader, "license-1")
	listResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer listResp.Body.Close()

	var body struct {
		Success bool                  `json:"success"`
		Devices []domain.DeviceStatus `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&body))
	require.Len(t, body.Devices, 1)
	assert.Equal(t, "Kasa", body.Devices[0].DeviceName)
	assert.Equal(t, 4, body.Devices[0].PendingCount)
}

type countingStore struct {
	*MemoryStore
	authCalls atomic.Int32
}

func (s *countingStore) Authenticate(ctx context.Context, dealerID, licenseKey string) error {
	s.authCalls.Add(1)
	return s.MemoryStore.Authenticate(ctx, dealerID, licenseKey)
}

func TestServer_RemembersVerifiedCredentials(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, store.RegisterDealer(context.Background(), "dealer-1", "Bayi", "license-1"))
	srv := httptest.NewServer(NewServer(store, NewMemoryPresence(time.Minute), zerolog.Nop()).Handler())
	defer srv.Close()

	heartbeat := domain.HeartbeatRequest{DeviceIdentifier: "dev-a"}
	for i := 0; i < 3; i++ {
		resp := post(t, srv.URL+syncer.HeartbeatPath, "dealer-1", "license-1", heartbeat)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, int32(1), store.authCalls.Load())

	for i := 0; i < 2; i++ {
		resp := post(t, srv.URL+syncer.HeartbeatPath, "dealer-1", "wrong", heartbeat)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	assert.Equal(t, int32(3), store.authCalls.Load(), "failed checks are not remembered")
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func licensedDevice(t *testing.T, baseURL, deviceID string) (*memory.Store, *syncer.Syncer) {
	t.Helper()
	repo := memory.New()
	require.NoError(t, repo.SaveLicense(context.Background(), domain.License{
		LicenseKey: "license-1", DealerID: "dealer-1", DealerName: "Bayi",
		ActivatedAt: time.Now(), IsActive: true, APIBaseURL: baseURL,
	}))
	require.NoError(t, repo.InsertItem(context.Background(), domain.InventoryItem{
		ID: "item-" + deviceID, SKU: "SKU-1", Name: "Cay", Category: domain.DefaultCategory,
		Quantity: 10, Price: decimal.NewFromInt(100), LastUpdated: time.Now(),
	}))
	dev := domain.Device{Identifier: deviceID, Name: deviceID}
	return repo, syncer.New(repo, syncer.NewClient(nil), dev, nil, zerolog.Nop())
}

func TestDeviceToDeviceReplication(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	repoA, syncA := licensedDevice(t, srv.URL, "dev-a")
	repoB, syncB := licensedDevice(t, srv.URL, "dev-b")

	require.NoError(t, repoA.SetItemQuantity(ctx, "SKU-1", 7, time.Now()))
	_, err := syncA.QueueTransaction(ctx, domain.OutboxInput{ActionType: domain.ActionSale, ItemSKU: strp("SKU-1"), QuantityChange: -3})
	require.NoError(t, err)

	result, err := syncA.PerformDeviceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pushed)
	assert.Zero(t, result.Pulled, "a device never pulls its own changes")

	result, err = syncB.PerformDeviceSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	item, err := repoB.ItemBySKU(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 7, item.Quantity)

	result, err = syncB.PerformDeviceSync(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Pulled, "lookback re-delivery is dropped by the applied set")
	item, err = repoB.ItemBySKU(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, 7, item.Quantity)

	stateA, err := syncA.State(ctx)
	require.NoError(t, err)
	assert.Zero(t, stateA.PendingCount)
}
