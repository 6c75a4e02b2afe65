package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

const outboxColumns = `id, action_type, item_sku, item_name, quantity_change, old_value, new_value, metadata, transaction_time, synced, created_at`

func scanOutboxEntry(row rowScanner) (domain.SyncOutboxEntry, error) {
	var (
		entry      domain.SyncOutboxEntry
		actionType string
		itemSKU    sql.NullString
		itemName   sql.NullString
		oldValue   sql.NullFloat64
		newValue   sql.NullFloat64
		metadata   sql.NullString
	)
	if err := row.Scan(
		&entry.ID, &actionType, &itemSKU, &itemName, &entry.QuantityChange, &oldValue, &newValue,
		&metadata, &entry.TransactionTime, &entry.Synced, &entry.CreatedAt,
	); err != nil {
		return domain.SyncOutboxEntry{}, err
	}
	entry.ActionType = domain.ActionType(actionType)
	entry.ItemSKU = stringPtr(itemSKU)
	entry.ItemName = stringPtr(itemName)
	entry.OldValue = float64Ptr(oldValue)
	entry.NewValue = float64Ptr(newValue)
	entry.Metadata = stringPtr(metadata)
	entry.TransactionTime = entry.TransactionTime.UTC()
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

func nullFloat(val *float64) any {
	if val == nil {
		return nil
	}
	return *val
}

func (q *queries) InsertOutboxEntry(ctx context.Context, entry domain.SyncOutboxEntry) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_outbox (`+outboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`, entry.ID, string(entry.ActionType), nullString(entry.ItemSKU), nullString(entry.ItemName), entry.QuantityChange,
		nullFloat(entry.OldValue), nullFloat(entry.NewValue), nullString(entry.Metadata),
		entry.TransactionTime.UTC(), entry.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (q *queries) PendingOutbox(ctx context.Context, limit int) ([]domain.SyncOutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM sync_outbox WHERE synced = 0 ORDER BY transaction_time ASC, rowid ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending outbox: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.SyncOutboxEntry, 0)
	for rows.Next() {
		entry, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (q *queries) MarkOutboxSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := q.q.ExecContext(ctx, `UPDATE sync_outbox SET synced = 1 WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("mark outbox synced: %w", err)
	}
	return nil
}

func (q *queries) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_outbox WHERE synced = 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending outbox: %w", err)
	}
	return count, nil
}

func (q *queries) SyncState(ctx context.Context) (domain.SyncState, error) {
	var (
		state      domain.SyncState
		lastPushAt sql.NullTime
		lastPullAt sql.NullTime
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT last_push_at, last_pull_at, sync_in_progress FROM sync_state WHERE id = 1
	`).Scan(&lastPushAt, &lastPullAt, &state.SyncInProgress)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.SyncState{}, fmt.Errorf("get sync state: %w", err)
	}
	state.LastPushAt = timePtr(lastPushAt)
	state.LastPullAt = timePtr(lastPullAt)

	pending, err := q.PendingCount(ctx)
	if err != nil {
		return domain.SyncState{}, err
	}
	state.PendingCount = pending
	return state, nil
}

func (q *queries) SetLastPushAt(ctx context.Context, at time.Time) error {
	return q.updateSyncState(ctx, "last_push_at", at.UTC())
}

func (q *queries) SetLastPullAt(ctx context.Context, at time.Time) error {
	return q.updateSyncState(ctx, "last_pull_at", at.UTC())
}

func (q *queries) SetSyncInProgress(ctx context.Context, inProgress bool) error {
	return q.updateSyncState(ctx, "sync_in_progress", inProgress)
}

func (q *queries) updateSyncState(ctx context.Context, column string, value any) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_state (id, `+column+`) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET `+column+` = excluded.`+column, value)
	if err != nil {
		return fmt.Errorf("update sync state %s: %w", column, err)
	}
	return nil
}

func (q *queries) MarkRemoteApplied(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO sync_applied (id, applied_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING
	`, id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("mark remote applied: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark remote applied: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) License(ctx context.Context) (*domain.License, error) {
	var (
		license       domain.License
		expiresAt     sql.NullTime
		lastValidated sql.NullTime
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT license_key, dealer_id, dealer_name, mac_address, activated_at, expires_at, is_active, last_validated, api_base_url
		FROM license WHERE id = 1
	`).Scan(&license.LicenseKey, &license.DealerID, &license.DealerName, &license.MACAddress, &license.ActivatedAt,
		&expiresAt, &license.IsActive, &lastValidated, &license.APIBaseURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	license.ActivatedAt = license.ActivatedAt.UTC()
	license.ExpiresAt = timePtr(expiresAt)
	license.LastValidated = timePtr(lastValidated)
	return &license, nil
}

func (q *queries) SaveLicense(ctx context.Context, license domain.License) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO license (id, license_key, dealer_id, dealer_name, mac_address, activated_at, expires_at, is_active, last_validated, api_base_url)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			license_key = excluded.license_key,
			dealer_id = excluded.dealer_id,
			dealer_name = excluded.dealer_name,
			mac_address = excluded.mac_address,
			activated_at = excluded.activated_at,
			expires_at = excluded.expires_at,
			is_active = excluded.is_active,
			last_validated = excluded.last_validated,
			api_base_url = excluded.api_base_url
	`, license.LicenseKey, license.DealerID, license.DealerName, license.MACAddress, license.ActivatedAt.UTC(),
		nullTime(license.ExpiresAt), license.IsActive, nullTime(license.LastValidated), license.APIBaseURL)
	if err != nil {
		return fmt.Errorf("save license: %w", err)
	}
	return nil
}
