package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

// Enqueue appends a pending outbox entry through tx, so it commits or rolls
// back with the mutation it describes. Metadata, when present, must be JSON.
func Enqueue(ctx context.Context, tx store.Tx, in domain.OutboxInput, at time.Time) (domain.SyncOutboxEntry, error) {
	if !in.ActionType.Valid() {
		return domain.SyncOutboxEntry{}, fmt.Errorf("action type %q: %w", in.ActionType, store.ErrInvalidInput)
	}
	if in.ItemSKU != nil && strings.TrimSpace(*in.ItemSKU) == "" {
		in.ItemSKU = nil
	}
	if in.Metadata != nil && !json.Valid([]byte(*in.Metadata)) {
		return domain.SyncOutboxEntry{}, fmt.Errorf("metadata is not valid JSON: %w", store.ErrInvalidInput)
	}
	at = at.UTC()
	entry := domain.SyncOutboxEntry{
		ID:              uuid.NewString(),
		ActionType:      in.ActionType,
		ItemSKU:         in.ItemSKU,
		ItemName:        in.ItemName,
		QuantityChange:  in.QuantityChange,
		OldValue:        in.OldValue,
		NewValue:        in.NewValue,
		Metadata:        in.Metadata,
		TransactionTime: at,
		CreatedAt:       at,
	}
	if err := tx.InsertOutboxEntry(ctx, entry); err != nil {
		return domain.SyncOutboxEntry{}, err
	}
	return entry, nil
}
