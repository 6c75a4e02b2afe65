package relay

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tezgah/backend/internal/domain"
)

type memoryDealer struct {
	name        string
	licenseHash string
}

type recordKey struct {
	dealerID string
	id       string
}

// MemoryStore keeps relayed changes in process. It backs tests and
// single-host relays without Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	dealers map[string]memoryDealer
	records map[string][]Record
	seen    map[recordKey]struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dealers: make(map[string]memoryDealer),
		records: make(map[string][]Record),
		seen:    make(map[recordKey]struct{}),
	}
}

func (s *MemoryStore) RegisterDealer(_ context.Context, dealerID, name, licenseKey string) error {
	dealerID, name = strings.TrimSpace(dealerID), strings.TrimSpace(name)
	if dealerID == "" || name == "" || licenseKey == "" {
		return ErrInvalidDealer
	}
	hash, err := HashLicenseKey(licenseKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dealers[dealerID]; ok {
		return ErrDealerExists
	}
	s.dealers[dealerID] = memoryDealer{name: name, licenseHash: hash}
	return nil
}

func (s *MemoryStore) Authenticate(_ context.Context, dealerID, licenseKey string) error {
	s.mu.RLock()
	dealer, ok := s.dealers[dealerID]
	s.mu.RUnlock()
	if !ok || licenseKey == "" {
		return ErrUnauthorized
	}
	return CheckLicenseKey(dealer.licenseHash, licenseKey)
}

func (s *MemoryStore) Insert(_ context.Context, dealerID, deviceID string, txs []domain.SyncTransaction, receivedAt time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, skipped := 0, 0
	for _, tx := range txs {
		key := recordKey{dealerID: dealerID, id: tx.ID}
		if _, dup := s.seen[key]; dup {
			skipped++
			continue
		}
		s.seen[key] = struct{}{}
		s.records[dealerID] = append(s.records[dealerID], Record{
			RemoteTransaction: Remote(deviceID, tx),
			ReceivedAt:        receivedAt.UTC(),
		})
		inserted++
	}
	return inserted, skipped, nil
}

func (s *MemoryStore) Since(_ context.Context, dealerID, excludeDevice string, since *time.Time, limit int) ([]Record, error) {
	if limit <= 0 || limit > MaxPullBatch {
		limit = MaxPullBatch
	}

	s.mu.RLock()
	out := make([]Record, 0, 16)
	for _, rec := range s.records[dealerID] {
		if rec.DeviceIdentifier == excludeDevice {
			continue
		}
		if since != nil && rec.ReceivedAt.Before(*since) {
			continue
		}
		out = append(out, rec)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].TransactionTime.Before(out[j].TransactionTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// MemoryPresence tracks device heartbeats in process with a TTL.
type MemoryPresence struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	devices map[string]map[string]domain.DeviceStatus
}

var _ Presence = (*MemoryPresence)(nil)

func NewMemoryPresence(ttl time.Duration) *MemoryPresence {
	if ttl <= 0 {
		ttl = DefaultPresenceTTL
	}
	return &MemoryPresence{
		ttl:     ttl,
		now:     time.Now,
		devices: make(map[string]map[string]domain.DeviceStatus),
	}
}

func (p *MemoryPresence) Touch(_ context.Context, dealerID string, hb domain.HeartbeatRequest, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	byDevice, ok := p.devices[dealerID]
	if !ok {
		byDevice = make(map[string]domain.DeviceStatus)
		p.devices[dealerID] = byDevice
	}
	byDevice[hb.DeviceIdentifier] = domain.DeviceStatus{
		DealerID:         dealerID,
		DeviceIdentifier: hb.DeviceIdentifier,
		DeviceName:       hb.DeviceName,
		PendingCount:     hb.PendingCount,
		LastSeenAt:       at.UTC(),
	}
	return nil
}

func (p *MemoryPresence) Devices(_ context.Context, dealerID string) ([]domain.DeviceStatus, error) {
	cutoff := p.now().Add(-p.ttl)

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.DeviceStatus, 0, len(p.devices[dealerID]))
	for id, status := range p.devices[dealerID] {
		if status.LastSeenAt.Before(cutoff) {
			delete(p.devices[dealerID], id)
			continue
		}
		out = append(out, status)
	}
	sortDevices(out)
	return out, nil
}

func sortDevices(devices []domain.DeviceStatus) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceIdentifier < devices[j].DeviceIdentifier
	})
}
