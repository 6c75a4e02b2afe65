// Package relay is the dealer-wide hub that device outboxes push to and pull
// from. It only relays: it never interprets inventory semantics.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tezgah/backend/internal/domain"
)

const (
	// MaxPullBatch caps one pull answer. A full batch moves the cursor only to
	// the last returned receive time.
	MaxPullBatch = 1000
	// MaxPushBatch keeps a single receive timestamp below MaxPullBatch rows.
	MaxPushBatch = 500
)

var (
	ErrUnauthorized  = errors.New("invalid dealer credentials")
	ErrDealerExists  = errors.New("dealer already registered")
	ErrInvalidDealer = errors.New("dealer id, name and license key are required")
)

// Record is a relayed change together with the relay's receive time, which
// is what pull cursors compare against.
type Record struct {
	domain.RemoteTransaction
	ReceivedAt time.Time
}

type Store interface {
	RegisterDealer(ctx context.Context, dealerID, name, licenseKey string) error
	Authenticate(ctx context.Context, dealerID, licenseKey string) error
	// Insert stores the batch for dealerID. Rows whose (dealer, id) already
	// exists are skipped, not overwritten.
	Insert(ctx context.Context, dealerID, deviceID string, txs []domain.SyncTransaction, receivedAt time.Time) (inserted int, skipped int, err error)
	// Since returns changes of other devices received at or after since,
	// oldest first.
	Since(ctx context.Context, dealerID, excludeDevice string, since *time.Time, limit int) ([]Record, error)
	Close() error
}

type Presence interface {
	Touch(ctx context.Context, dealerID string, hb domain.HeartbeatRequest, at time.Time) error
	Devices(ctx context.Context, dealerID string) ([]domain.DeviceStatus, error)
}

func HashLicenseKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckLicenseKey(hash, key string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return ErrUnauthorized
	}
	return nil
}

// MetadataJSON turns outbox metadata into the raw JSON a pull returns.
// Anything that is not valid JSON is carried as a JSON string.
func MetadataJSON(metadata *string) json.RawMessage {
	if metadata == nil || *metadata == "" {
		return nil
	}
	if json.Valid([]byte(*metadata)) {
		return json.RawMessage(*metadata)
	}
	quoted, _ := json.Marshal(*metadata)
	return quoted
}

// Remote converts a pushed entry into the shape pulled by other devices.
func Remote(deviceID string, tx domain.SyncTransaction) domain.RemoteTransaction {
	return domain.RemoteTransaction{
		ID:               tx.ID,
		DeviceIdentifier: deviceID,
		ActionType:       tx.ActionType,
		ItemSKU:          tx.ItemSKU,
		ItemName:         tx.ItemName,
		QuantityChange:   tx.QuantityChange,
		OldValue:         tx.OldValue,
		NewValue:         tx.NewValue,
		Metadata:         MetadataJSON(tx.Metadata),
		TransactionTime:  tx.TransactionTime.UTC(),
	}
}
