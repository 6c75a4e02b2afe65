package syncer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

// applyRemote replays one remote change on local inventory. Changes to an
// unknown SKU are dropped, and nothing here writes to the outbox.
func applyRemote(ctx context.Context, tx store.Tx, remote domain.RemoteTransaction, now time.Time, logger zerolog.Logger) error {
	at := remote.TransactionTime.UTC()
	if at.IsZero() {
		at = now
	}
	var sku string
	if remote.ItemSKU != nil {
		sku = strings.TrimSpace(*remote.ItemSKU)
	}
	if sku == "" {
		logger.Debug().Str("remote_id", remote.ID).Str("action", string(remote.ActionType)).Msg("remote change without sku ignored")
		return nil
	}

	var err error
	switch remote.ActionType {
	case domain.ActionSale, domain.ActionStockOut, domain.ActionStockIn:
		err = shiftQuantity(ctx, tx, sku, remote.QuantityChange, at)
	case domain.ActionPriceChange:
		if remote.NewValue == nil || *remote.NewValue < 0 {
			return nil
		}
		err = tx.SetItemPrice(ctx, sku, decimal.NewFromFloat(*remote.NewValue).Round(2), at)
	case domain.ActionItemCreate:
		if remote.ItemName == nil || strings.TrimSpace(*remote.ItemName) == "" {
			return nil
		}
		price := decimal.Zero
		if remote.NewValue != nil && *remote.NewValue > 0 {
			price = decimal.NewFromFloat(*remote.NewValue).Round(2)
		}
		_, err = tx.InsertItemIfAbsent(ctx, domain.InventoryItem{
			ID:          uuid.NewString(),
			SKU:         sku,
			Name:        strings.TrimSpace(*remote.ItemName),
			Category:    domain.DefaultCategory,
			Quantity:    max(0, remote.QuantityChange),
			Price:       price,
			LastUpdated: at,
		})
	case domain.ActionItemUpdate:
		if remote.ItemName == nil || strings.TrimSpace(*remote.ItemName) == "" {
			return nil
		}
		err = tx.RenameItem(ctx, sku, strings.TrimSpace(*remote.ItemName), at)
	case domain.ActionItemDelete:
		_, err = tx.DeleteItem(ctx, sku)
	default:
		logger.Debug().Str("remote_id", remote.ID).Str("action", string(remote.ActionType)).Msg("unknown remote action ignored")
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// shiftQuantity adds delta to the stored quantity, clamped at zero.
func shiftQuantity(ctx context.Context, tx store.Tx, sku string, delta int, at time.Time) error {
	item, err := tx.ItemBySKU(ctx, sku)
	if err != nil {
		return err
	}
	return tx.SetItemQuantity(ctx, sku, max(0, item.Quantity+delta), at)
}
