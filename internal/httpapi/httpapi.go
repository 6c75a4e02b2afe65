package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/service"
	"tezgah/backend/internal/store"
	"tezgah/backend/internal/syncer"
	"tezgah/backend/internal/worker"
)

const apiPrefix = "/api/v1/"

type Deps struct {
	Service       *service.Service
	Syncer        *syncer.Syncer
	Worker        *worker.Manager
	Auth          *AuthManager
	AllowedOrigin string
	SyncInterval  time.Duration
	Logger        zerolog.Logger
}

type API struct {
	service       *service.Service
	syncer        *syncer.Syncer
	worker        *worker.Manager
	auth          *AuthManager
	allowedOrigin string
	syncInterval  time.Duration
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	logger        zerolog.Logger
}

func New(deps Deps) *API {
	if deps.SyncInterval <= 0 {
		deps.SyncInterval = worker.DefaultInterval
	}
	return &API{
		service:       deps.Service,
		syncer:        deps.Syncer,
		worker:        deps.Worker,
		auth:          deps.Auth,
		allowedOrigin: deps.AllowedOrigin,
		syncInterval:  deps.SyncInterval,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		logger:        deps.Logger.With().Str("component", "httpapi").Logger(),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc(apiPrefix+"healthz", a.handleHealth)
	mux.HandleFunc(apiPrefix+"auth/login", a.handleLogin)

	mux.HandleFunc(apiPrefix+"items", a.requireAuth(a.handleItems, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"items/price-change", a.requireAuth(a.handlePriceChange, RoleAdmin))
	mux.HandleFunc(apiPrefix+"items/", a.requireAuth(a.handleItemActions, RoleCashier, RoleAdmin))

	mux.HandleFunc(apiPrefix+"sales", a.requireAuth(a.handleSales, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"transactions", a.requireAuth(a.handleTransactions, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"transactions/", a.requireAuth(a.handleTransactionActions, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"goods-receipts", a.requireAuth(a.handleGoodsReceipts, RoleAdmin))

	mux.HandleFunc(apiPrefix+"accounts", a.requireAuth(a.handleAccounts, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"accounts/", a.requireAuth(a.handleAccountActions, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"stats/dashboard", a.requireAuth(a.handleDashboardStats, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"stats/categories", a.requireAuth(a.handleCategoryStats, RoleCashier, RoleAdmin))

	mux.HandleFunc(apiPrefix+"sync/outbox", a.requireAuth(a.handleSyncOutbox, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"sync/run", a.requireAuth(a.handleSyncRun, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"sync/state", a.requireAuth(a.handleSyncState, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"sync/worker", a.requireAuth(a.handleWorkerStatus, RoleCashier, RoleAdmin))
	mux.HandleFunc(apiPrefix+"sync/worker/start", a.requireAuth(a.handleWorkerStart, RoleAdmin))
	mux.HandleFunc(apiPrefix+"sync/worker/stop", a.requireAuth(a.handleWorkerStop, RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

// pathTail returns the part of the request path after prefix, split on "/".
func pathTail(r *http.Request, prefix string) []string {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if tail == "" {
		return nil
	}
	return strings.Split(tail, "/")
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service and store errors onto HTTP statuses.
func statusFor(err error) int {
	var saleErr *service.SaleError
	var relayStatus *syncer.StatusError
	switch {
	case errors.Is(err, service.ErrAdminRequired):
		return http.StatusForbidden
	case errors.As(err, &saleErr) && errors.Is(err, service.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPriceIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, service.ErrEmptyCart), errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrNoLicense):
		return http.StatusPreconditionFailed
	case errors.Is(err, syncer.ErrRelayRejected), errors.As(err, &relayStatus):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError hides the detail of 5xx answers from clients; 4xx messages are
// user-facing and passed through.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error().Err(err).Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
