// Package postgres persists relay dealers and relayed changes in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/relay"
)

//go:embed schema.sql
var schema string

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ relay.Store = (*Store)(nil)

func New(ctx context.Context, databaseURL string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger.With().Str("component", "postgres").Logger()}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply relay schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RegisterDealer(ctx context.Context, dealerID, name, licenseKey string) error {
	dealerID, name = strings.TrimSpace(dealerID), strings.TrimSpace(name)
	if dealerID == "" || name == "" || licenseKey == "" {
		return relay.ErrInvalidDealer
	}
	hash, err := relay.HashLicenseKey(licenseKey)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relay_dealers (dealer_id, name, license_hash, active, created_at)
		VALUES ($1, $2, $3, true, now())
	`, dealerID, name, hash)
	if err != nil {
		if isUniqueViolation(err) {
			return relay.ErrDealerExists
		}
		return err
	}
	return nil
}

func (s *Store) Authenticate(ctx context.Context, dealerID, licenseKey string) error {
	if licenseKey == "" {
		return relay.ErrUnauthorized
	}
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT license_hash
		FROM relay_dealers
		WHERE dealer_id = $1 AND active = true
	`, dealerID).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return relay.ErrUnauthorized
		}
		return err
	}
	return relay.CheckLicenseKey(hash, licenseKey)
}

func (s *Store) Insert(ctx context.Context, dealerID, deviceID string, txs []domain.SyncTransaction, receivedAt time.Time) (int, int, error) {
	if len(txs) == 0 {
		return 0, 0, nil
	}
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = pgTx.Rollback() }()

	stmt, err := pgTx.PrepareContext(ctx, `
		INSERT INTO relay_transactions (
			dealer_id, id, device_identifier, action_type, item_sku, item_name,
			quantity_change, old_value, new_value, metadata, transaction_time, received_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (dealer_id, id) DO NOTHING
	`)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	inserted := 0
	for _, tx := range txs {
		var metadata any
		if raw := relay.MetadataJSON(tx.Metadata); raw != nil {
			metadata = string(raw)
		}
		res, err := stmt.ExecContext(ctx,
			dealerID, tx.ID, deviceID, string(tx.ActionType), tx.ItemSKU, tx.ItemName,
			tx.QuantityChange, tx.OldValue, tx.NewValue, metadata, tx.TransactionTime.UTC(), receivedAt.UTC(),
		)
		if err != nil {
			return 0, 0, fmt.Errorf("insert relayed %s: %w", tx.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, 0, err
		}
		inserted += int(affected)
	}

	if err := pgTx.Commit(); err != nil {
		return 0, 0, err
	}
	return inserted, len(txs) - inserted, nil
}

func (s *Store) Since(ctx context.Context, dealerID, excludeDevice string, since *time.Time, limit int) ([]relay.Record, error) {
	if limit <= 0 || limit > relay.MaxPullBatch {
		limit = relay.MaxPullBatch
	}
	var sinceArg any
	if since != nil {
		sinceArg = since.UTC()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_identifier, action_type, item_sku, item_name, quantity_change,
		       old_value, new_value, metadata, transaction_time, received_at
		FROM relay_transactions
		WHERE dealer_id = $1
		  AND device_identifier <> $2
		  AND ($3::timestamptz IS NULL OR received_at >= $3::timestamptz)
		ORDER BY received_at, transaction_time, id
		LIMIT $4
	`, dealerID, excludeDevice, sinceArg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]relay.Record, 0, 64)
	for rows.Next() {
		var (
			rec        relay.Record
			actionType string
			sku, name  sql.NullString
			oldValue   sql.NullFloat64
			newValue   sql.NullFloat64
			metadata   []byte
		)
		if err := rows.Scan(&rec.ID, &rec.DeviceIdentifier, &actionType, &sku, &name, &rec.QuantityChange,
			&oldValue, &newValue, &metadata, &rec.TransactionTime, &rec.ReceivedAt); err != nil {
			return nil, err
		}
		rec.ActionType = domain.ActionType(actionType)
		if sku.Valid {
			rec.ItemSKU = &sku.String
		}
		if name.Valid {
			rec.ItemName = &name.String
		}
		if oldValue.Valid {
			rec.OldValue = &oldValue.Float64
		}
		if newValue.Valid {
			rec.NewValue = &newValue.Float64
		}
		if len(metadata) > 0 {
			rec.Metadata = metadata
		}
		rec.TransactionTime = rec.TransactionTime.UTC()
		rec.ReceivedAt = rec.ReceivedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
