package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/syncer"
)

// CursorLookback is subtracted from the server time handed back on a pull,
// so a push whose insert commits while the pull is being answered is picked
// up by the next pull. Devices drop the re-delivered ids.
const CursorLookback = 30 * time.Second

// AuthCacheTTL bounds how long a verified dealer credential skips the
// bcrypt check. A deactivated dealer keeps access for at most this long.
const AuthCacheTTL = time.Minute

const authCacheSize = 4096

type Server struct {
	store    Store
	presence Presence
	logger   zerolog.Logger
	now      func() time.Time
	verified *expirable.LRU[string, struct{}]
}

func NewServer(store Store, presence Presence, logger zerolog.Logger) *Server {
	return &Server{
		store:    store,
		presence: presence,
		logger:   logger.With().Str("component", "relay").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
		verified: expirable.NewLRU[string, struct{}](authCacheSize, nil, AuthCacheTTL),
	}
}

// authenticate checks dealer credentials against the store and remembers
// successes, so steady push and pull traffic does not pay for bcrypt on
// every request. Only a digest of the key is kept.
func (s *Server) authenticate(ctx context.Context, dealerID, licenseKey string) error {
	sum := sha256.Sum256([]byte(licenseKey))
	key := dealerID + "\x00" + hex.EncodeToString(sum[:])
	if _, ok := s.verified.Get(key); ok {
		return nil
	}
	if err := s.store.Authenticate(ctx, dealerID, licenseKey); err != nil {
		return err
	}
	s.verified.Add(key, struct{}{})
	return nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc(syncer.PushPath, s.requireDealer(s.handlePush))
	mux.HandleFunc(syncer.PullPath, s.requireDealer(s.handlePull))
	mux.HandleFunc(syncer.HeartbeatPath, s.requireDealer(s.handleHeartbeat))
	mux.HandleFunc("/api/sync/devices", s.requireDealer(s.handleDevices))
	return s.withMiddleware(mux)
}

type dealerKey struct{}

func dealerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(dealerKey{}).(string)
	return id
}

func (s *Server) requireDealer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dealerID := strings.TrimSpace(r.Header.Get(syncer.DealerHeader))
		licenseKey := strings.TrimSpace(r.Header.Get(syncer.LicenseHeader))
		if dealerID == "" || licenseKey == "" {
			writeError(w, http.StatusUnauthorized, errors.New("missing dealer credentials"))
			return
		}
		if err := s.authenticate(r.Context(), dealerID, licenseKey); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			s.internalError(w, r, err)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), dealerKey{}, dealerID)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": s.now().Format(time.RFC3339),
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.PushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deviceID := strings.TrimSpace(req.DeviceIdentifier)
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, errors.New("device_identifier is required"))
		return
	}
	if len(req.Transactions) > MaxPushBatch {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("at most %d transactions per push", MaxPushBatch))
		return
	}
	for _, tx := range req.Transactions {
		if strings.TrimSpace(tx.ID) == "" {
			writeError(w, http.StatusBadRequest, errors.New("transaction id is required"))
			return
		}
	}

	dealerID := dealerFromContext(r.Context())
	inserted, skipped, err := s.store.Insert(r.Context(), dealerID, deviceID, req.Transactions, s.now())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.logger.Info().Str("dealer", dealerID).Str("device", deviceID).Int("inserted", inserted).Int("skipped", skipped).Msg("push accepted")
	writeJSON(w, http.StatusOK, domain.PushResponse{Success: true, Inserted: &inserted, Skipped: &skipped})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.PullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	dealerID := dealerFromContext(r.Context())
	serverTime := s.now()
	records, err := s.store.Since(r.Context(), dealerID, strings.TrimSpace(req.DeviceIdentifier), req.Since, MaxPullBatch)
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	cursor := serverTime.Add(-CursorLookback)
	if len(records) == MaxPullBatch {
		cursor = records[len(records)-1].ReceivedAt
	}
	if req.Since != nil && cursor.Before(*req.Since) {
		cursor = req.Since.UTC()
	}

	txs := make([]domain.RemoteTransaction, 0, len(records))
	for _, rec := range records {
		txs = append(txs, rec.RemoteTransaction)
	}
	writeJSON(w, http.StatusOK, domain.PullResponse{Success: true, Transactions: txs, ServerTime: &cursor})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.DeviceIdentifier) == "" {
		writeError(w, http.StatusBadRequest, errors.New("device_identifier is required"))
		return
	}
	if err := s.presence.Touch(r.Context(), dealerFromContext(r.Context()), req, s.now()); err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	devices, err := s.presence.Devices(r.Context(), dealerFromContext(r.Context()))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "devices": devices})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if r.Method == http.MethodPost {
			r.Body = http.MaxBytesReader(w, r.Body, 8<<20)
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
