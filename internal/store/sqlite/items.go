package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

const itemColumns = `id, sku, name, category, quantity, location, price, cost_price, supplier_id, last_updated`

func scanItem(row rowScanner) (domain.InventoryItem, error) {
	var (
		item       domain.InventoryItem
		costPrice  decimal.NullDecimal
		supplierID sql.NullString
	)
	if err := row.Scan(
		&item.ID, &item.SKU, &item.Name, &item.Category, &item.Quantity, &item.Location,
		&item.Price, &costPrice, &supplierID, &item.LastUpdated,
	); err != nil {
		return domain.InventoryItem{}, err
	}
	if costPrice.Valid {
		cp := costPrice.Decimal
		item.CostPrice = &cp
	}
	item.SupplierID = stringPtr(supplierID)
	item.LastUpdated = item.LastUpdated.UTC()
	return item, nil
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return val.InexactFloat64()
}

func (q *queries) ItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE sku = ?`, sku)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &item, nil
}

func (q *queries) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+itemColumns+` FROM inventory_items ORDER BY last_updated DESC, sku ASC`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (q *queries) InsertItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.SKU, item.Name, item.Category, item.Quantity, item.Location,
		item.Price.InexactFloat64(), nullDecimal(item.CostPrice), nullString(item.SupplierID), item.LastUpdated.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (q *queries) InsertItemIfAbsent(ctx context.Context, item domain.InventoryItem) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku) DO NOTHING
	`, item.ID, item.SKU, item.Name, item.Category, item.Quantity, item.Location,
		item.Price.InexactFloat64(), nullDecimal(item.CostPrice), nullString(item.SupplierID), item.LastUpdated.UTC())
	if err != nil {
		return false, fmt.Errorf("insert item if absent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert item if absent: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) UpdateItem(ctx context.Context, item domain.InventoryItem) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = ?, category = ?, quantity = ?, location = ?, price = ?, cost_price = ?, supplier_id = ?, last_updated = ?
		WHERE sku = ?
	`, item.Name, item.Category, item.Quantity, item.Location, item.Price.InexactFloat64(),
		nullDecimal(item.CostPrice), nullString(item.SupplierID), item.LastUpdated.UTC(), item.SKU)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return requireAffected(res, "update item")
}

func (q *queries) DeleteItem(ctx context.Context, sku string) (bool, error) {
	res, err := q.q.ExecContext(ctx, `DELETE FROM inventory_items WHERE sku = ?`, sku)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) SetItemQuantity(ctx context.Context, sku string, qty int, at time.Time) error {
	if qty < 0 {
		return store.ErrInvalidInput
	}
	res, err := q.q.ExecContext(ctx, `UPDATE inventory_items SET quantity = ?, last_updated = ? WHERE sku = ?`, qty, at.UTC(), sku)
	if err != nil {
		return fmt.Errorf("set item quantity: %w", err)
	}
	return requireAffected(res, "set item quantity")
}

func (q *queries) SetItemPrice(ctx context.Context, sku string, price decimal.Decimal, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `UPDATE inventory_items SET price = ?, last_updated = ? WHERE sku = ?`, price.InexactFloat64(), at.UTC(), sku)
	if err != nil {
		return fmt.Errorf("set item price: %w", err)
	}
	return requireAffected(res, "set item price")
}

func (q *queries) RenameItem(ctx context.Context, sku string, name string, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `UPDATE inventory_items SET name = ?, last_updated = ? WHERE sku = ?`, name, at.UTC(), sku)
	if err != nil {
		return fmt.Errorf("rename item: %w", err)
	}
	return requireAffected(res, "rename item")
}

func (q *queries) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	var (
		stats   domain.DashboardStats
		revenue float64
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(quantity), 0), COALESCE(SUM(CASE WHEN quantity < ? THEN 1 ELSE 0 END), 0)
		FROM inventory_items
	`, domain.LowStockThreshold).Scan(&stats.TotalItems, &stats.TotalQuantity, &stats.LowStockCount)
	if err != nil {
		return domain.DashboardStats{}, fmt.Errorf("item stats: %w", err)
	}
	err = q.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total), 0) FROM transactions WHERE transaction_type = ?
	`, string(domain.TransactionSale)).Scan(&revenue)
	if err != nil {
		return domain.DashboardStats{}, fmt.Errorf("revenue stats: %w", err)
	}
	stats.TotalRevenue = decimal.NewFromFloat(revenue).Round(2)
	return stats, nil
}

func (q *queries) CategoryStats(ctx context.Context) ([]domain.CategoryStats, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT category, COUNT(*), COALESCE(SUM(quantity), 0), COALESCE(SUM(price * quantity), 0) AS total_value
		FROM inventory_items
		GROUP BY category
		ORDER BY total_value DESC, category ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("category stats: %w", err)
	}
	defer rows.Close()

	stats := make([]domain.CategoryStats, 0)
	for rows.Next() {
		var (
			entry domain.CategoryStats
			value float64
		)
		if err := rows.Scan(&entry.Category, &entry.Count, &entry.TotalQuantity, &value); err != nil {
			return nil, fmt.Errorf("scan category stats: %w", err)
		}
		entry.TotalValue = decimal.NewFromFloat(value).Round(2)
		stats = append(stats, entry)
	}
	return stats, rows.Err()
}
