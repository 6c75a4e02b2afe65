package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tezgah/backend/internal/domain"
)

func (a *API) handleItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := a.service.ListItems(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req domain.ItemCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.AddItem(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"item": item})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemActions(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r, apiPrefix+"items/")
	if len(parts) == 0 || len(parts) > 2 {
		a.writeError(w, http.StatusNotFound, errors.New("unknown item path"))
		return
	}
	sku := parts[0]

	if len(parts) == 2 {
		switch parts[1] {
		case "adjust":
			a.handleItemAdjust(w, r, sku)
		case "lots":
			a.handleItemLots(w, r, sku)
		default:
			a.writeError(w, http.StatusNotFound, errors.New("unknown item action"))
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := a.service.GetItem(r.Context(), sku)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodPut, http.MethodPatch:
		var req domain.ItemUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.service.UpdateItem(r.Context(), sku, req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": item})
	case http.MethodDelete:
		if err := a.service.DeleteItem(r.Context(), sku); err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": sku})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleItemAdjust(w http.ResponseWriter, r *http.Request, sku string) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.QuantityAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := a.service.AdjustQuantity(r.Context(), sku, req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleItemLots(w http.ResponseWriter, r *http.Request, sku string) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	lots, err := a.service.ItemLots(r.Context(), sku)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (a *API) handlePriceChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.PriceChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.ApplyCategoryPriceChange(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	req.Type = domain.TransactionType(strings.ToUpper(strings.TrimSpace(string(req.Type))))
	if req.Type == domain.TransactionReturn {
		if !a.pinLimiter.Allow(clientKey(r)) {
			a.writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
			a.writeError(w, http.StatusForbidden, errors.New("manager pin required for returns"))
			return
		}
	}

	result, err := a.service.ProcessSale(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	query := r.URL.Query()
	filter := domain.TransactionFilter{
		Type:  domain.TransactionType(strings.ToUpper(strings.TrimSpace(query.Get("type")))),
		Limit: parsePositiveLimit(query.Get("limit"), 100, 500),
	}
	for key, dest := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := strings.TrimSpace(query.Get(key))
		if raw == "" {
			continue
		}
		at, err := parseTimeParam(raw, key == "to")
		if err != nil {
			a.writeError(w, http.StatusBadRequest, errors.New("invalid "+key+" parameter"))
			return
		}
		*dest = &at
	}

	txs, err := a.service.ListTransactions(r.Context(), filter)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// parseTimeParam accepts RFC3339 or a bare date. A bare "to" date covers the
// whole day.
func parseTimeParam(raw string, endOfDay bool) (time.Time, error) {
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func (a *API) handleTransactionActions(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r, apiPrefix+"transactions/")
	if len(parts) != 1 {
		a.writeError(w, http.StatusNotFound, errors.New("unknown transaction path"))
		return
	}
	id := parts[0]

	switch r.Method {
	case http.MethodGet:
		tx, err := a.service.Transaction(r.Context(), id)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
	case http.MethodPatch:
		var update domain.TransactionUpdate
		if err := decodeJSON(r, &update); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		tx, err := a.service.UpdateTransaction(r.Context(), id, update)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": tx})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleGoodsReceipts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.GoodsReceipt
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.ReceiveGoods(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts, err := a.service.ListAccounts(r.Context())
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
	case http.MethodPost:
		var req domain.AccountCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		account, err := a.service.CreateAccount(r.Context(), req)
		if err != nil {
			a.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"account": account})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleAccountActions(w http.ResponseWriter, r *http.Request) {
	parts := pathTail(r, apiPrefix+"accounts/")
	if len(parts) != 1 {
		a.writeError(w, http.StatusNotFound, errors.New("unknown account path"))
		return
	}
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	account, err := a.service.Account(r.Context(), parts[0])
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}

func (a *API) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	stats, err := a.service.DashboardStats(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleCategoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	stats, err := a.service.CategoryStats(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": stats})
}

func (a *API) handleSyncOutbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req domain.OutboxInput
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := a.syncer.QueueTransaction(r.Context(), req)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	result, err := a.syncer.PerformDeviceSync(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSyncState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	state, err := a.syncer.State(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type workerStartRequest struct {
	IntervalSeconds int `json:"interval_seconds,omitempty"`
}

func (a *API) handleWorkerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req workerStartRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.IntervalSeconds < 0 {
		a.writeError(w, http.StatusBadRequest, errors.New("interval_seconds must not be negative"))
		return
	}
	interval := a.syncInterval
	if req.IntervalSeconds > 0 {
		interval = time.Duration(req.IntervalSeconds) * time.Second
	}
	started := a.worker.Start(interval)
	writeJSON(w, http.StatusOK, map[string]any{"running": a.worker.IsRunning(), "started": started})
}

func (a *API) handleWorkerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	a.worker.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"stopping": true})
}

func (a *API) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": a.worker.IsRunning()})
}
