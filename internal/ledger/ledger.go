// Package ledger tracks per-product goods-receipt lots and consumes them
// oldest first when stock leaves through a sale.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

// LotReceipt describes one incoming batch.
type LotReceipt struct {
	ProductID   string
	SupplierID  *string
	Quantity    int
	BuyPrice    decimal.Decimal
	SellPrice   *decimal.Decimal
	ReceiptDate string
	InvoiceNo   *string
	ReceivedAt  time.Time
}

// Consumption is the result of a FIFO draw. Shortfall is the part of the
// requested quantity no open lot could cover; the caller decides what it
// means, the ledger never goes negative to absorb it.
type Consumption struct {
	Draws     []domain.LotDraw
	Shortfall int
}

// Cost is the total buy cost of the drawn units.
func (c Consumption) Cost() decimal.Decimal {
	total := decimal.Zero
	for _, d := range c.Draws {
		total = total.Add(d.BuyPrice.Mul(decimal.NewFromInt(int64(d.Quantity))))
	}
	return total
}

func Receive(ctx context.Context, tx store.Tx, in LotReceipt) (*domain.InventoryLot, error) {
	productID := strings.TrimSpace(in.ProductID)
	if productID == "" || in.Quantity < 1 || in.BuyPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if in.SellPrice != nil && in.SellPrice.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	receiptDate := strings.TrimSpace(in.ReceiptDate)
	if receiptDate == "" {
		receiptDate = receivedAt.UTC().Format("2006-01-02")
	}

	lot := domain.InventoryLot{
		ID:              uuid.NewString(),
		ProductID:       productID,
		SupplierID:      in.SupplierID,
		Quantity:        in.Quantity,
		InitialQuantity: in.Quantity,
		BuyPrice:        in.BuyPrice,
		SellPrice:       in.SellPrice,
		ReceiptDate:     receiptDate,
		InvoiceNo:       in.InvoiceNo,
		CreatedAt:       receivedAt.UTC(),
	}
	if err := tx.InsertLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("receive lot for %s: %w", productID, err)
	}
	return &lot, nil
}

// ConsumeFIFO draws qty units from the product's open lots, oldest first.
func ConsumeFIFO(ctx context.Context, tx store.Tx, productID string, qty int) (Consumption, error) {
	if qty < 1 {
		return Consumption{}, store.ErrInvalidInput
	}
	lots, err := tx.OpenLots(ctx, productID)
	if err != nil {
		return Consumption{}, fmt.Errorf("open lots for %s: %w", productID, err)
	}

	remaining := qty
	var draws []domain.LotDraw
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := min(lot.Quantity, remaining)
		if take <= 0 {
			continue
		}
		if err := tx.SetLotQuantity(ctx, lot.ID, lot.Quantity-take); err != nil {
			return Consumption{}, fmt.Errorf("draw lot %s: %w", lot.ID, err)
		}
		draws = append(draws, domain.LotDraw{LotID: lot.ID, Quantity: take, BuyPrice: lot.BuyPrice})
		remaining -= take
	}
	return Consumption{Draws: draws, Shortfall: remaining}, nil
}

// Lots lists every lot of the product, exhausted ones included.
func Lots(ctx context.Context, tx store.Tx, productID string) ([]domain.InventoryLot, error) {
	return tx.ListLots(ctx, productID)
}
