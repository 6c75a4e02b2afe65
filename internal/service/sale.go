package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/ledger"
	"tezgah/backend/internal/store"
)

var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrPriceIntegrity  = errors.New("price integrity violation")
	ErrLineNotFound    = errors.New("line not found")
	ErrEmptyCart       = errors.New("cart is empty")
)

// SaleError names the cart line that failed validation.
type SaleError struct {
	SKU    string
	Err    error
	Detail string
}

func (e *SaleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Err, e.SKU)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Err, e.SKU, e.Detail)
}

func (e *SaleError) Unwrap() error {
	return e.Err
}

// Synthetic service codes accepted without a stored item: discount and
// collection lines.
var syntheticSKUs = map[string]struct{}{
	"IND":      {},
	"TAHSILAT": {},
}

var priceTolerance = decimal.RequireFromString("0.01")

type pricedLine struct {
	line    domain.CartLine
	stocked bool
}

// ProcessSale validates a cart against stored prices and applies it to
// inventory, lots and the counterparty balance in one storage transaction.
func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	if req.Type == "" {
		req.Type = domain.TransactionSale
	}
	if !req.Type.Valid() {
		return domain.SaleResult{}, store.ErrInvalidInput
	}
	req.PaymentMethod = strings.ToUpper(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if req.CustomerID != nil && strings.TrimSpace(*req.CustomerID) == "" {
		req.CustomerID = nil
	}
	if len(req.Items) == 0 {
		return domain.SaleResult{}, ErrEmptyCart
	}

	var result domain.SaleResult
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		lines, total, err := priceCart(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		if req.Type == domain.TransactionReturn {
			total = total.Neg()
		}

		now := s.now()
		record := domain.Transaction{
			ID:            uuid.NewString(),
			Items:         make([]domain.CartLine, 0, len(lines)),
			Total:         total,
			PaymentMethod: req.PaymentMethod,
			Type:          req.Type,
			Note:          req.Note,
			CustomerID:    req.CustomerID,
			CreatedAt:     now,
		}
		for _, pl := range lines {
			record.Items = append(record.Items, pl.line)
		}
		if err := tx.InsertTransaction(ctx, record); err != nil {
			return err
		}

		for _, pl := range lines {
			if !pl.stocked {
				continue
			}
			consumption, err := s.applyLine(ctx, tx, record, pl.line)
			if err != nil {
				return err
			}
			if consumption != nil {
				result.Consumption = append(result.Consumption, *consumption)
			}
		}

		if err := s.applyCounterparty(ctx, tx, record); err != nil {
			return err
		}
		result.Transaction = record
		return nil
	})
	if err != nil {
		return domain.SaleResult{}, err
	}

	for _, line := range result.Transaction.Items {
		s.cache.InvalidateItem(line.SKU)
	}
	s.cache.InvalidateAggregates()

	s.logger.Info().
		Str("transaction_id", result.Transaction.ID).
		Str("type", string(result.Transaction.Type)).
		Str("payment", result.Transaction.PaymentMethod).
		Str("total", result.Transaction.Total.StringFixed(2)).
		Int("lines", len(result.Transaction.Items)).
		Msg("transaction recorded")
	return result, nil
}

// priceCart checks every line against the store before anything is written.
// Stored lines carry the authoritative price.
func priceCart(ctx context.Context, tx store.Tx, items []domain.CartLine) ([]pricedLine, decimal.Decimal, error) {
	lines := make([]pricedLine, 0, len(items))
	total := decimal.Zero
	for _, line := range items {
		line.SKU = strings.TrimSpace(line.SKU)
		if line.CartQuantity <= 0 {
			return nil, decimal.Zero, &SaleError{SKU: line.SKU, Err: ErrInvalidQuantity, Detail: fmt.Sprintf("quantity %d", line.CartQuantity)}
		}

		stored, err := tx.ItemBySKU(ctx, line.SKU)
		switch {
		case err == nil:
			if line.Price.Sub(stored.Price).Abs().GreaterThan(priceTolerance) {
				return nil, decimal.Zero, &SaleError{
					SKU:    line.SKU,
					Err:    ErrPriceIntegrity,
					Detail: fmt.Sprintf("stored %s, submitted %s", stored.Price.StringFixed(2), line.Price.StringFixed(2)),
				}
			}
			line.Price = stored.Price
			if line.Name == "" {
				line.Name = stored.Name
			}
			lines = append(lines, pricedLine{line: line, stocked: true})
		case errors.Is(err, store.ErrNotFound):
			if _, synthetic := syntheticSKUs[line.SKU]; !synthetic && !line.Price.IsNegative() {
				return nil, decimal.Zero, &SaleError{SKU: line.SKU, Err: ErrLineNotFound}
			}
			lines = append(lines, pricedLine{line: line})
		default:
			return nil, decimal.Zero, err
		}

		total = total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.CartQuantity))))
	}
	return lines, total.Round(2), nil
}

// applyLine moves stock for one stored line and records its outbox entry.
// SALE lines also draw their lots; a shortfall is sold at untracked cost.
func (s *Service) applyLine(ctx context.Context, tx store.Tx, record domain.Transaction, line domain.CartLine) (*domain.LineConsumption, error) {
	item, err := tx.ItemBySKU(ctx, line.SKU)
	if err != nil {
		return nil, err
	}

	delta := -line.CartQuantity
	action := domain.ActionStockOut
	switch record.Type {
	case domain.TransactionReturn:
		delta = line.CartQuantity
		action = domain.ActionStockIn
	case domain.TransactionSale:
		action = domain.ActionSale
	}
	if err := tx.SetItemQuantity(ctx, item.SKU, max(0, item.Quantity+delta), record.CreatedAt); err != nil {
		return nil, err
	}

	meta, err := json.Marshal(map[string]string{
		"transaction_id":   record.ID,
		"transaction_type": string(record.Type),
		"payment_method":   record.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, tx, domain.OutboxInput{
		ActionType:     action,
		ItemSKU:        strPtr(item.SKU),
		ItemName:       strPtr(item.Name),
		QuantityChange: delta,
		OldValue:       floatPtr(float64(item.Quantity)),
		NewValue:       floatPtr(float64(max(0, item.Quantity+delta))),
		Metadata:       strPtr(string(meta)),
	}, record.CreatedAt); err != nil {
		return nil, err
	}

	if record.Type != domain.TransactionSale {
		return nil, nil
	}
	consumption, err := ledger.ConsumeFIFO(ctx, tx, item.ID, line.CartQuantity)
	if err != nil {
		return nil, err
	}
	if consumption.Shortfall > 0 {
		s.logger.Warn().
			Str("sku", item.SKU).
			Int("shortfall", consumption.Shortfall).
			Str("transaction_id", record.ID).
			Msg("lots exhausted, units sold at untracked cost")
	}
	return &domain.LineConsumption{SKU: item.SKU, Draws: consumption.Draws, Shortfall: consumption.Shortfall}, nil
}

// applyCounterparty moves the account balance for returns, credit sales and
// collections. A supplier on a credit sale accrues the business's debt, so
// the sign flips. Other payments never touch the account, so an unknown
// counterparty on them is not an error.
func (s *Service) applyCounterparty(ctx context.Context, tx store.Tx, record domain.Transaction) error {
	if record.CustomerID == nil {
		return nil
	}

	var delta decimal.Decimal
	credit := false
	switch {
	case record.Type == domain.TransactionReturn:
		delta = record.Total
	case record.Type == domain.TransactionCollection:
		delta = record.Total.Abs().Neg()
	case record.PaymentMethod == domain.PaymentCredit:
		delta = record.Total
		credit = true
	default:
		return nil
	}

	account, err := tx.AccountByID(ctx, *record.CustomerID)
	if err != nil {
		return fmt.Errorf("counterparty %s: %w", *record.CustomerID, err)
	}
	if credit && account.Type == domain.AccountSupplier {
		delta = delta.Neg()
	}
	return tx.AdjustAccountBalance(ctx, account.ID, delta, record.CreatedAt)
}

func (s *Service) Transaction(ctx context.Context, id string) (domain.Transaction, error) {
	tx, err := s.repo.TransactionByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, store.ErrInvalidInput
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListTransactions(ctx, filter)
}

// UpdateTransaction edits the two cosmetic fields of a recorded transaction.
// Totals, lines and balances are never touched.
func (s *Service) UpdateTransaction(ctx context.Context, id string, update domain.TransactionUpdate) (domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" || (update.PaymentMethod == nil && update.Note == nil) {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	if update.PaymentMethod != nil {
		method := strings.ToUpper(strings.TrimSpace(*update.PaymentMethod))
		if method == "" {
			return domain.Transaction{}, store.ErrInvalidInput
		}
		update.PaymentMethod = &method
	}

	var updated domain.Transaction
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateTransactionMeta(ctx, id, update); err != nil {
			return err
		}
		got, err := tx.TransactionByID(ctx, id)
		if err != nil {
			return err
		}
		updated = *got
		return nil
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	s.cache.InvalidateAggregates()
	return updated, nil
}
