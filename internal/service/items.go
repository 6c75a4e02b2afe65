package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/ledger"
	"tezgah/backend/internal/store"
)

func (s *Service) GetItem(ctx context.Context, sku string) (domain.InventoryItem, error) {
	sku = strings.TrimSpace(sku)
	item, err := s.cache.Item(ctx, sku, func(ctx context.Context) (*domain.InventoryItem, error) {
		return s.repo.ItemBySKU(ctx, sku)
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.cache.Items(ctx, s.repo.ListItems)
}

func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	return s.cache.DashboardStats(ctx, s.repo.DashboardStats)
}

func (s *Service) CategoryStats(ctx context.Context) ([]domain.CategoryStats, error) {
	return s.cache.CategoryStats(ctx, s.repo.CategoryStats)
}

// ItemLots lists every lot of an item, oldest first. Not cached: lots move
// on every sale.
func (s *Service) ItemLots(ctx context.Context, sku string) ([]domain.InventoryLot, error) {
	item, err := s.repo.ItemBySKU(ctx, strings.TrimSpace(sku))
	if err != nil {
		return nil, err
	}
	return ledger.Lots(ctx, s.repo, item.ID)
}

func (s *Service) AddItem(ctx context.Context, req domain.ItemCreateRequest) (domain.InventoryItem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryItem{}, err
	}
	sku, err := normalizeSKU(req.SKU)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" {
		req.Category = domain.DefaultCategory
	}
	if req.Name == "" || req.Quantity < 0 || req.Price.IsNegative() {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}
	if req.CostPrice != nil && req.CostPrice.IsNegative() {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}

	item := domain.InventoryItem{
		ID:          uuid.NewString(),
		SKU:         sku,
		Name:        req.Name,
		Category:    req.Category,
		Quantity:    req.Quantity,
		Location:    strings.TrimSpace(req.Location),
		Price:       req.Price.Round(2),
		CostPrice:   req.CostPrice,
		SupplierID:  req.SupplierID,
		LastUpdated: s.now(),
	}
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.OutboxInput{
			ActionType:     domain.ActionItemCreate,
			ItemSKU:        strPtr(item.SKU),
			ItemName:       strPtr(item.Name),
			QuantityChange: item.Quantity,
			NewValue:       floatPtr(item.Price.InexactFloat64()),
		}, item.LastUpdated)
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.cache.InvalidateItem(item.SKU)
	return item, nil
}

func (s *Service) UpdateItem(ctx context.Context, sku string, req domain.ItemUpdateRequest) (domain.InventoryItem, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryItem{}, err
	}
	sku = strings.TrimSpace(sku)

	var updated domain.InventoryItem
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.ItemBySKU(ctx, sku)
		if err != nil {
			return err
		}
		next := *existing
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return store.ErrInvalidInput
			}
			next.Name = name
		}
		if req.Category != nil {
			category := strings.TrimSpace(*req.Category)
			if category == "" {
				category = domain.DefaultCategory
			}
			next.Category = category
		}
		if req.Location != nil {
			next.Location = strings.TrimSpace(*req.Location)
		}
		if req.Price != nil {
			if req.Price.IsNegative() {
				return store.ErrInvalidInput
			}
			next.Price = req.Price.Round(2)
		}
		if req.CostPrice != nil {
			if req.CostPrice.IsNegative() {
				return store.ErrInvalidInput
			}
			cost := *req.CostPrice
			next.CostPrice = &cost
		}
		next.LastUpdated = s.now()
		if err := tx.UpdateItem(ctx, next); err != nil {
			return err
		}

		if err := s.enqueue(ctx, tx, domain.OutboxInput{
			ActionType: domain.ActionItemUpdate,
			ItemSKU:    strPtr(next.SKU),
			ItemName:   strPtr(next.Name),
		}, next.LastUpdated); err != nil {
			return err
		}
		if !next.Price.Equal(existing.Price) {
			if err := s.enqueue(ctx, tx, domain.OutboxInput{
				ActionType: domain.ActionPriceChange,
				ItemSKU:    strPtr(next.SKU),
				ItemName:   strPtr(next.Name),
				OldValue:   floatPtr(existing.Price.InexactFloat64()),
				NewValue:   floatPtr(next.Price.InexactFloat64()),
			}, next.LastUpdated); err != nil {
				return err
			}
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.cache.InvalidateItem(sku)
	return updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, sku string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	sku = strings.TrimSpace(sku)
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		existing, err := tx.ItemBySKU(ctx, sku)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteItem(ctx, sku); err != nil {
			return err
		}
		return s.enqueue(ctx, tx, domain.OutboxInput{
			ActionType:     domain.ActionItemDelete,
			ItemSKU:        strPtr(sku),
			ItemName:       strPtr(existing.Name),
			QuantityChange: -existing.Quantity,
		}, s.now())
	})
	if err != nil {
		return err
	}
	s.cache.InvalidateItem(sku)
	return nil
}

// AdjustQuantity is a manual stock correction; the result is clamped at zero.
func (s *Service) AdjustQuantity(ctx context.Context, sku string, req domain.QuantityAdjustRequest) (domain.InventoryItem, error) {
	if req.Delta == 0 {
		return domain.InventoryItem{}, store.ErrInvalidInput
	}
	sku = strings.TrimSpace(sku)

	var updated domain.InventoryItem
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		item, err := tx.ItemBySKU(ctx, sku)
		if err != nil {
			return err
		}
		now := s.now()
		next := max(0, item.Quantity+req.Delta)
		if err := tx.SetItemQuantity(ctx, sku, next, now); err != nil {
			return err
		}

		action := domain.ActionStockIn
		if req.Delta < 0 {
			action = domain.ActionStockOut
		}
		in := domain.OutboxInput{
			ActionType:     action,
			ItemSKU:        strPtr(sku),
			ItemName:       strPtr(item.Name),
			QuantityChange: req.Delta,
			OldValue:       floatPtr(float64(item.Quantity)),
			NewValue:       floatPtr(float64(next)),
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			meta, err := json.Marshal(map[string]string{"reason": reason})
			if err != nil {
				return err
			}
			in.Metadata = strPtr(string(meta))
		}
		if err := s.enqueue(ctx, tx, in, now); err != nil {
			return err
		}

		updated = *item
		updated.Quantity = next
		updated.LastUpdated = now
		return nil
	})
	if err != nil {
		return domain.InventoryItem{}, err
	}
	s.cache.InvalidateItem(sku)
	return updated, nil
}

// Category names meaning "every item".
var allCategories = map[string]struct{}{
	"HEPSİ": {},
	"HEPSI": {},
	"TÜMÜ":  {},
	"TUMU":  {},
	"ALL":   {},
}

// ApplyCategoryPriceChange scales the price of every item in a category by
// 1 + percentage/100. Category names compare with Turkish case rules.
func (s *Service) ApplyCategoryPriceChange(ctx context.Context, req domain.PriceChangeRequest) (domain.PriceChangeResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PriceChangeResult{}, err
	}
	category := strings.TrimSpace(req.Category)
	if category == "" || req.Percentage < -100 {
		return domain.PriceChangeResult{}, store.ErrInvalidInput
	}

	upper := cases.Upper(language.Turkish)
	wanted := upper.String(category)
	_, everything := allCategories[wanted]
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(req.Percentage).Div(decimal.NewFromInt(100)))

	result := domain.PriceChangeResult{Category: category}
	var touched []string
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		items, err := tx.ListItems(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		for _, item := range items {
			if !everything && upper.String(item.Category) != wanted {
				continue
			}
			price := item.Price.Mul(factor).Round(2)
			if err := tx.SetItemPrice(ctx, item.SKU, price, now); err != nil {
				return err
			}
			if err := s.enqueue(ctx, tx, domain.OutboxInput{
				ActionType: domain.ActionPriceChange,
				ItemSKU:    strPtr(item.SKU),
				ItemName:   strPtr(item.Name),
				OldValue:   floatPtr(item.Price.InexactFloat64()),
				NewValue:   floatPtr(price.InexactFloat64()),
			}, now); err != nil {
				return err
			}
			touched = append(touched, item.SKU)
		}
		return nil
	})
	if err != nil {
		return domain.PriceChangeResult{}, err
	}

	result.Affected = len(touched)
	if result.Affected > 0 {
		s.cache.InvalidateAll()
	}
	s.logger.Info().Str("category", category).Float64("percentage", req.Percentage).Int("affected", result.Affected).Msg("category price change applied")
	return result, nil
}
