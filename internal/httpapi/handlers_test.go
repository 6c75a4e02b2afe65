package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tezgah/backend/internal/cache"
	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/service"
	"tezgah/backend/internal/store/memory"
	"tezgah/backend/internal/syncer"
	"tezgah/backend/internal/worker"
)

const testPIN = "482913"

// newTestAPI builds the full API over a seeded memory store, so handler tests
// exercise the real auth, service and syncer path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded()
	readCache := cache.New(cache.Options{})
	svc := service.New(repo, readCache, zerolog.Nop())
	devSync := syncer.New(repo, syncer.NewClient(nil), domain.Device{Identifier: "dev-test", Name: "test"}, readCache, zerolog.Nop())
	manager := worker.NewManager(context.Background(), func(ctx context.Context) error {
		_, err := devSync.PerformDeviceSync(ctx)
		return err
	}, zerolog.Nop())
	t.Cleanup(manager.Stop)
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, testPIN, repo)

	return New(Deps{
		Service:       svc,
		Syncer:        devSync,
		Worker:        manager,
		Auth:          auth,
		AllowedOrigin: "*",
		Logger:        zerolog.Nop(),
	}), repo
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, username, password string) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dest))
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := do(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, true, body["ok"])
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := do(t, api.Handler(), http.MethodGet, "/api/v1/healthz", "", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Referrer-Policy"))
}

func TestLogin(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	assert.NotEmpty(t, login(t, h, "admin", "admin123"))

	rec := do(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if i < 5 {
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := `{"username":"` + veryLong + `","password":"x"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/items", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/v1/items", "garbage", nil).Code)

	cashier := login(t, h, "cashier", "cashier123")
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/items", cashier, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/goods-receipts", cashier, domain.GoodsReceipt{}).Code)
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/sync/worker/start", cashier, nil).Code)
}

func TestItemLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	admin := login(t, h, "admin", "admin123")
	cashier := login(t, h, "cashier", "cashier123")

	create := map[string]any{"sku": "SKU-NEW-1", "name": "Pirinc 1kg", "category": "Temel Gida", "quantity": 12, "price": 64.5}
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/items", cashier, create).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/items", admin, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/v1/items", admin, create).Code)

	rec = do(t, h, http.MethodGet, "/api/v1/items/SKU-NEW-1", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Item domain.InventoryItem `json:"item"`
	}
	decodeBody(t, rec, &got)
	assert.Equal(t, 12, got.Item.Quantity)

	rec = do(t, h, http.MethodPost, "/api/v1/items/SKU-NEW-1/adjust", cashier, domain.QuantityAdjustRequest{Delta: -2, Reason: "fire"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &got)
	assert.Equal(t, 10, got.Item.Quantity)

	rec = do(t, h, http.MethodPut, "/api/v1/items/SKU-NEW-1", admin, map[string]any{"price": 70})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &got)
	assert.Equal(t, "70", got.Item.Price.String())

	rec = do(t, h, http.MethodGet, "/api/v1/items/SKU-NEW-1/lots", cashier, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/v1/items/SKU-NEW-1", admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/items/SKU-NEW-1", cashier, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/items/SKU-NEW-1/unknown", cashier, nil).Code)
}

func TestSaleAntiTamper(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")

	sale := map[string]any{"items": []map[string]any{{"sku": "SKU-CAY-01", "cart_quantity": 3, "price": 185}}}
	rec := do(t, h, http.MethodPost, "/api/v1/sales", cashier, sale)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result domain.SaleResult
	decodeBody(t, rec, &result)
	assert.Equal(t, "555", result.Transaction.Total.String())
	assert.Equal(t, domain.TransactionSale, result.Transaction.Type)

	tampered := map[string]any{"items": []map[string]any{{"sku": "SKU-CAY-01", "cart_quantity": 1, "price": 1}}}
	rec = do(t, h, http.MethodPost, "/api/v1/sales", cashier, tampered)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "SKU-CAY-01")

	unknown := map[string]any{"items": []map[string]any{{"sku": "NOPE", "cart_quantity": 1, "price": 1}}}
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/sales", cashier, unknown).Code)

	zero := map[string]any{"items": []map[string]any{{"sku": "SKU-CAY-01", "cart_quantity": 0, "price": 185}}}
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/v1/sales", cashier, zero).Code)

	item, err := repo.ItemBySKU(context.Background(), "SKU-CAY-01")
	require.NoError(t, err)
	assert.Equal(t, 37, item.Quantity)

	state, err := repo.SyncState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, state.PendingCount, "only the accepted sale reached the outbox")
}

func TestReturnNeedsManagerPIN(t *testing.T) {
	api, repo := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")

	ret := map[string]any{
		"transaction_type": "RETURN",
		"items":            []map[string]any{{"sku": "SKU-UN-01", "cart_quantity": 2, "price": 139.9}},
	}
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/sales", cashier, ret).Code)

	ret["manager_pin"] = testPIN
	rec := do(t, h, http.MethodPost, "/api/v1/sales", cashier, ret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result domain.SaleResult
	decodeBody(t, rec, &result)
	assert.Equal(t, "-279.8", result.Transaction.Total.String())

	item, err := repo.ItemBySKU(context.Background(), "SKU-UN-01")
	require.NoError(t, err)
	assert.Equal(t, 10, item.Quantity)
}

func TestSaleTypeIsCaseInsensitive(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")

	sale := map[string]any{
		"transaction_type": " sale ",
		"items":            []map[string]any{{"sku": "SKU-CAY-01", "cart_quantity": 1, "price": 185}},
	}
	rec := do(t, h, http.MethodPost, "/api/v1/sales", cashier, sale)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result domain.SaleResult
	decodeBody(t, rec, &result)
	assert.Equal(t, domain.TransactionSale, result.Transaction.Type)

	ret := map[string]any{
		"transaction_type": "return",
		"items":            []map[string]any{{"sku": "SKU-CAY-01", "cart_quantity": 1, "price": 185}},
	}
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/v1/sales", cashier, ret).Code)
}

func TestTransactionsEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")

	sale := map[string]any{"items": []map[string]any{{"sku": "SKU-SUT-01", "cart_quantity": 1, "price": 32.75}}}
	rec := do(t, h, http.MethodPost, "/api/v1/sales", cashier, sale)
	require.Equal(t, http.StatusOK, rec.Code)
	var result domain.SaleResult
	decodeBody(t, rec, &result)

	rec = do(t, h, http.MethodGet, "/api/v1/transactions?type=sale&limit=5", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Transactions, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/v1/transactions?from=yesterday", cashier, nil).Code)

	rec = do(t, h, http.MethodPatch, "/api/v1/transactions/"+result.Transaction.ID, cashier, map[string]any{"payment_method": "KART"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var one struct {
		Transaction domain.Transaction `json:"transaction"`
	}
	decodeBody(t, rec, &one)
	assert.Equal(t, "KART", one.Transaction.PaymentMethod)
	assert.Equal(t, "32.75", one.Transaction.Total.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/transactions/missing", cashier, nil).Code)
}

func TestStatsAndAccounts(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	cashier := login(t, h, "cashier", "cashier123")

	rec := do(t, h, http.MethodGet, "/api/v1/stats/dashboard", cashier, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats domain.DashboardStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, 5, stats.TotalItems)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/stats/categories", cashier, nil).Code)

	rec = do(t, h, http.MethodPost, "/api/v1/accounts", cashier, domain.AccountCreateRequest{Name: "Mehmet Demir"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Account domain.CurrentAccount `json:"account"`
	}
	decodeBody(t, rec, &created)
	assert.Equal(t, domain.AccountCustomer, created.Account.Type)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/accounts/"+created.Account.ID, cashier, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/accounts/nope", cashier, nil).Code)
}

func TestSyncEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()
	admin := login(t, h, "admin", "admin123")

	rec := do(t, h, http.MethodPost, "/api/v1/sync/outbox", admin, map[string]any{"action_type": "STOCK_IN", "item_sku": "SKU-CAY-01", "quantity_change": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/sync/outbox", admin, map[string]any{"action_type": "TELEPORT"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/sync/state", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state domain.SyncState
	decodeBody(t, rec, &state)
	assert.Equal(t, 1, state.PendingCount)

	assert.Equal(t, http.StatusPreconditionFailed, do(t, h, http.MethodPost, "/api/v1/sync/run", admin, nil).Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sync/worker/start", admin, map[string]any{"interval_seconds": 3600})
	require.Equal(t, http.StatusOK, rec.Code)
	var started map[string]any
	decodeBody(t, rec, &started)
	assert.Equal(t, true, started["started"])

	rec = do(t, h, http.MethodPost, "/api/v1/sync/worker/start", admin, nil)
	decodeBody(t, rec, &started)
	assert.Equal(t, false, started["started"])

	rec = do(t, h, http.MethodGet, "/api/v1/sync/worker", admin, nil)
	var status map[string]any
	decodeBody(t, rec, &status)
	assert.Equal(t, true, status["running"])

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/sync/worker/stop", admin, nil).Code)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, api.worker.Wait(ctx))
	rec = do(t, h, http.MethodGet, "/api/v1/sync/worker", admin, nil)
	decodeBody(t, rec, &status)
	assert.Equal(t, false, status["running"])
}
