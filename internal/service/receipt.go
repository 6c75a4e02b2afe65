package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/ledger"
	"tezgah/backend/internal/store"
)

// ReceiveGoods books incoming stock: every line raises the item quantity,
// refreshes its cost price and opens a lot. With a supplier it also records
// a PURCHASE, charged to the supplier balance when bought on account.
func (s *Service) ReceiveGoods(ctx context.Context, req domain.GoodsReceipt) (domain.GoodsReceiptResult, error) {
	if len(req.Lines) == 0 {
		return domain.GoodsReceiptResult{}, store.ErrInvalidInput
	}
	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if req.SupplierID != nil && strings.TrimSpace(*req.SupplierID) == "" {
		req.SupplierID = nil
	}
	req.ReceiptDate = strings.TrimSpace(req.ReceiptDate)
	if req.ReceiptDate != "" {
		if _, err := time.Parse("2006-01-02", req.ReceiptDate); err != nil {
			return domain.GoodsReceiptResult{}, store.ErrInvalidInput
		}
	}
	for i := range req.Lines {
		line := &req.Lines[i]
		line.SKU = strings.TrimSpace(line.SKU)
		if line.SKU == "" || line.Quantity < 1 || line.BuyPrice.IsNegative() {
			return domain.GoodsReceiptResult{}, store.ErrInvalidInput
		}
	}

	var result domain.GoodsReceiptResult
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		now := s.now()
		total := decimal.Zero

		if req.SupplierID != nil {
			if _, err := tx.AccountByID(ctx, *req.SupplierID); err != nil {
				return err
			}
		}

		for _, line := range req.Lines {
			item, err := tx.ItemBySKU(ctx, line.SKU)
			if err != nil {
				return err
			}
			cost := line.BuyPrice
			item.Quantity += line.Quantity
			item.CostPrice = &cost
			if req.SupplierID != nil {
				item.SupplierID = req.SupplierID
			}
			item.LastUpdated = now
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return err
			}

			lot, err := ledger.Receive(ctx, tx, ledger.LotReceipt{
				ProductID:   item.ID,
				SupplierID:  req.SupplierID,
				Quantity:    line.Quantity,
				BuyPrice:    line.BuyPrice,
				SellPrice:   line.SellPrice,
				ReceiptDate: req.ReceiptDate,
				InvoiceNo:   req.InvoiceNo,
				ReceivedAt:  now,
			})
			if err != nil {
				return err
			}
			result.Lots = append(result.Lots, *lot)

			if err := s.enqueue(ctx, tx, domain.OutboxInput{
				ActionType:     domain.ActionStockIn,
				ItemSKU:        strPtr(item.SKU),
				ItemName:       strPtr(item.Name),
				QuantityChange: line.Quantity,
				OldValue:       floatPtr(float64(item.Quantity - line.Quantity)),
				NewValue:       floatPtr(float64(item.Quantity)),
			}, now); err != nil {
				return err
			}
			total = total.Add(line.BuyPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		result.Total = total.Round(2)

		if req.SupplierID == nil {
			return nil
		}
		purchase := domain.Transaction{
			ID:            uuid.NewString(),
			Items:         make([]domain.CartLine, 0, len(req.Lines)),
			Total:         result.Total,
			PaymentMethod: req.PaymentMethod,
			Type:          domain.TransactionPurchase,
			Note:          req.Note,
			CustomerID:    req.SupplierID,
			CreatedAt:     now,
		}
		for _, line := range req.Lines {
			purchase.Items = append(purchase.Items, domain.CartLine{SKU: line.SKU, CartQuantity: line.Quantity, Price: line.BuyPrice})
		}
		if err := tx.InsertTransaction(ctx, purchase); err != nil {
			return err
		}
		result.Transaction = &purchase

		if req.PaymentMethod == domain.PaymentOnTerm {
			return tx.AdjustAccountBalance(ctx, *req.SupplierID, result.Total, now)
		}
		return nil
	})
	if err != nil {
		return domain.GoodsReceiptResult{}, err
	}

	for _, line := range req.Lines {
		s.cache.InvalidateItem(line.SKU)
	}
	s.cache.InvalidateAggregates()
	s.logger.Info().Int("lines", len(req.Lines)).Str("total", result.Total.StringFixed(2)).Msg("goods received")
	return result, nil
}
