// Package syncer replicates the device outbox to the dealer relay and applies
// changes recorded by the dealer's other devices.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

const PushBatchSize = 100

var ErrNoLicense = errors.New("no active license")

// Invalidator is the slice of the read cache the syncer needs after remote
// changes land.
type Invalidator interface {
	InvalidateAll()
}

type Syncer struct {
	repo   store.Repository
	relay  Relay
	device domain.Device
	cache  Invalidator
	logger zerolog.Logger
	now    func() time.Time

	// cycle serializes full sync cycles on this Syncer.
	cycle sync.Mutex
}

func New(repo store.Repository, relay Relay, device domain.Device, cache Invalidator, logger zerolog.Logger) *Syncer {
	return &Syncer{
		repo:   repo,
		relay:  relay,
		device: device,
		cache:  cache,
		logger: logger.With().Str("component", "syncer").Str("device", device.Identifier).Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// QueueTransaction records a pending outbox entry and returns its id.
func (s *Syncer) QueueTransaction(ctx context.Context, in domain.OutboxInput) (string, error) {
	entry, err := Enqueue(ctx, s.repo, in, s.now())
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

func (s *Syncer) State(ctx context.Context) (domain.SyncState, error) {
	return s.repo.SyncState(ctx)
}

func (s *Syncer) credentials(ctx context.Context) (Credentials, error) {
	license, err := s.repo.License(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Credentials{}, ErrNoLicense
		}
		return Credentials{}, err
	}
	if !license.IsActive || strings.TrimSpace(license.APIBaseURL) == "" {
		return Credentials{}, ErrNoLicense
	}
	return CredentialsFromLicense(*license), nil
}

// Push sends the oldest pending entries to the relay. The batch is marked
// synced only after the relay accepted it; any failure leaves it pending.
func (s *Syncer) Push(ctx context.Context) (int, error) {
	creds, err := s.credentials(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := s.repo.PendingOutbox(ctx, PushBatchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending outbox: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	req := domain.PushRequest{
		DeviceIdentifier: s.device.Identifier,
		Transactions:     make([]domain.SyncTransaction, 0, len(entries)),
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		req.Transactions = append(req.Transactions, entry.Wire())
		ids = append(ids, entry.ID)
	}

	resp, err := s.relay.Push(ctx, creds, req)
	if err != nil {
		return 0, err
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.MarkOutboxSynced(ctx, ids); err != nil {
			return err
		}
		return tx.SetLastPushAt(ctx, s.now())
	})
	if err != nil {
		return 0, fmt.Errorf("mark pushed entries: %w", err)
	}

	pushed := len(entries)
	if resp.Inserted != nil {
		pushed = *resp.Inserted
	}
	s.logger.Info().Int("sent", len(entries)).Int("inserted", pushed).Msg("outbox pushed")
	return pushed, nil
}

// Pull fetches other devices' changes since the cursor and applies the whole
// batch together with the cursor advance in one storage transaction. Remote
// ids already applied are skipped.
func (s *Syncer) Pull(ctx context.Context) (int, error) {
	creds, err := s.credentials(ctx)
	if err != nil {
		return 0, err
	}
	state, err := s.repo.SyncState(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sync state: %w", err)
	}

	started := s.now()
	resp, err := s.relay.Pull(ctx, creds, domain.PullRequest{
		DeviceIdentifier: s.device.Identifier,
		Since:            state.LastPullAt,
	})
	if err != nil {
		return 0, err
	}
	cursor := started
	if resp.ServerTime != nil && !resp.ServerTime.IsZero() {
		cursor = resp.ServerTime.UTC()
	}

	applied := 0
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		applied = 0
		for _, remote := range resp.Transactions {
			if remote.DeviceIdentifier == s.device.Identifier {
				continue
			}
			fresh, err := tx.MarkRemoteApplied(ctx, remote.ID, started)
			if err != nil {
				return err
			}
			if !fresh {
				continue
			}
			if err := applyRemote(ctx, tx, remote, started, s.logger); err != nil {
				return fmt.Errorf("apply remote %s: %w", remote.ID, err)
			}
			applied++
		}
		return tx.SetLastPullAt(ctx, cursor)
	})
	if err != nil {
		return 0, err
	}

	if applied > 0 && s.cache != nil {
		s.cache.InvalidateAll()
	}
	s.logger.Info().Int("received", len(resp.Transactions)).Int("applied", applied).Time("cursor", cursor).Msg("remote changes pulled")
	return applied, nil
}

func (s *Syncer) Heartbeat(ctx context.Context) error {
	creds, err := s.credentials(ctx)
	if err != nil {
		return err
	}
	pending, err := s.repo.PendingCount(ctx)
	if err != nil {
		return err
	}
	return s.relay.Heartbeat(ctx, creds, domain.HeartbeatRequest{
		DeviceIdentifier: s.device.Identifier,
		DeviceName:       s.device.Name,
		PendingCount:     pending,
	})
}

// PerformDeviceSync runs push, pull and heartbeat. Each step is best effort:
// a failure is logged and leaves that side's state for the next cycle. Only
// a missing license fails the cycle.
func (s *Syncer) PerformDeviceSync(ctx context.Context) (domain.SyncResult, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	if _, err := s.credentials(ctx); err != nil {
		return domain.SyncResult{}, err
	}

	if err := s.repo.SetSyncInProgress(ctx, true); err != nil {
		return domain.SyncResult{}, fmt.Errorf("mark sync in progress: %w", err)
	}
	defer func() {
		if err := s.repo.SetSyncInProgress(context.WithoutCancel(ctx), false); err != nil {
			s.logger.Warn().Err(err).Msg("failed to clear sync_in_progress")
		}
	}()

	var result domain.SyncResult
	pushed, err := s.Push(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("push failed")
	}
	result.Pushed = pushed

	pulled, err := s.Pull(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("pull failed")
	}
	result.Pulled = pulled

	if err := s.Heartbeat(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("heartbeat failed")
	}
	return result, nil
}
