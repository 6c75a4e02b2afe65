package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tezgah/backend/internal/domain"
	"tezgah/backend/internal/store"
)

const transactionColumns = `id, items, total, payment_method, transaction_type, note, customer_id, created_at`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		tx         domain.Transaction
		itemsJSON  string
		txType     string
		note       sql.NullString
		customerID sql.NullString
	)
	if err := row.Scan(&tx.ID, &itemsJSON, &tx.Total, &tx.PaymentMethod, &txType, &note, &customerID, &tx.CreatedAt); err != nil {
		return domain.Transaction{}, err
	}
	if err := json.Unmarshal([]byte(itemsJSON), &tx.Items); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode transaction items: %w", err)
	}
	tx.Type = domain.TransactionType(txType)
	tx.Note = stringPtr(note)
	tx.CustomerID = stringPtr(customerID)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func (q *queries) InsertTransaction(ctx context.Context, tx domain.Transaction) error {
	items := tx.Items
	if items == nil {
		items = []domain.CartLine{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode transaction items: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, string(itemsJSON), tx.Total.InexactFloat64(), tx.PaymentMethod, string(tx.Type),
		nullString(tx.Note), nullString(tx.CustomerID), tx.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (q *queries) TransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

func (q *queries) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.Type != "" {
		where = append(where, "transaction_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (q *queries) UpdateTransactionMeta(ctx context.Context, id string, update domain.TransactionUpdate) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE transactions
		SET payment_method = COALESCE(?, payment_method), note = COALESCE(?, note)
		WHERE id = ?
	`, nullString(update.PaymentMethod), nullString(update.Note), id)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireAffected(res, "update transaction")
}

const lotColumns = `id, product_id, supplier_id, quantity, initial_quantity, buy_price, sell_price, receipt_date, invoice_no, created_at`

func scanLot(row rowScanner) (domain.InventoryLot, error) {
	var (
		lot        domain.InventoryLot
		supplierID sql.NullString
		sellPrice  decimal.NullDecimal
		invoiceNo  sql.NullString
	)
	if err := row.Scan(
		&lot.ID, &lot.ProductID, &supplierID, &lot.Quantity, &lot.InitialQuantity,
		&lot.BuyPrice, &sellPrice, &lot.ReceiptDate, &invoiceNo, &lot.CreatedAt,
	); err != nil {
		return domain.InventoryLot{}, err
	}
	lot.SupplierID = stringPtr(supplierID)
	if sellPrice.Valid {
		sp := sellPrice.Decimal
		lot.SellPrice = &sp
	}
	lot.InvoiceNo = stringPtr(invoiceNo)
	lot.CreatedAt = lot.CreatedAt.UTC()
	return lot, nil
}

func (q *queries) InsertLot(ctx context.Context, lot domain.InventoryLot) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO inventory_lots (`+lotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, lot.ID, lot.ProductID, nullString(lot.SupplierID), lot.Quantity, lot.InitialQuantity,
		lot.BuyPrice.InexactFloat64(), nullDecimal(lot.SellPrice), lot.ReceiptDate, nullString(lot.InvoiceNo), lot.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert lot: %w", err)
	}
	return nil
}

func (q *queries) OpenLots(ctx context.Context, productID string) ([]domain.InventoryLot, error) {
	return q.queryLots(ctx, `
		SELECT `+lotColumns+` FROM inventory_lots
		WHERE product_id = ? AND quantity > 0
		ORDER BY created_at ASC, seq ASC
	`, productID)
}

func (q *queries) ListLots(ctx context.Context, productID string) ([]domain.InventoryLot, error) {
	return q.queryLots(ctx, `
		SELECT `+lotColumns+` FROM inventory_lots
		WHERE product_id = ?
		ORDER BY created_at ASC, seq ASC
	`, productID)
}

func (q *queries) queryLots(ctx context.Context, query string, args ...any) ([]domain.InventoryLot, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lots: %w", err)
	}
	defer rows.Close()

	lots := make([]domain.InventoryLot, 0)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (q *queries) SetLotQuantity(ctx context.Context, lotID string, qty int) error {
	var initial int
	err := q.q.QueryRowContext(ctx, `SELECT initial_quantity FROM inventory_lots WHERE id = ?`, lotID).Scan(&initial)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("get lot: %w", err)
	}
	if qty < 0 || qty > initial {
		return store.ErrInvalidInput
	}
	if _, err := q.q.ExecContext(ctx, `UPDATE inventory_lots SET quantity = ? WHERE id = ?`, qty, lotID); err != nil {
		return fmt.Errorf("set lot quantity: %w", err)
	}
	return nil
}

const accountColumns = `id, name, account_type, phone, balance, created_at, updated_at`

func scanAccount(row rowScanner) (domain.CurrentAccount, error) {
	var (
		account     domain.CurrentAccount
		accountType string
		balance     float64
	)
	if err := row.Scan(&account.ID, &account.Name, &accountType, &account.Phone, &balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return domain.CurrentAccount{}, err
	}
	account.Type = domain.AccountType(accountType)
	account.Balance = decimal.NewFromFloat(balance).Round(2)
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func (q *queries) InsertAccount(ctx context.Context, account domain.CurrentAccount) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO current_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account.ID, account.Name, string(account.Type), account.Phone, account.Balance.InexactFloat64(),
		account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *queries) AccountByID(ctx context.Context, id string) (*domain.CurrentAccount, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM current_accounts WHERE id = ?`, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &account, nil
}

func (q *queries) ListAccounts(ctx context.Context) ([]domain.CurrentAccount, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM current_accounts ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]domain.CurrentAccount, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// AdjustAccountBalance applies delta in a single UPDATE so concurrent
// adjustments never lose an increment.
func (q *queries) AdjustAccountBalance(ctx context.Context, id string, delta decimal.Decimal, at time.Time) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE current_accounts SET balance = ROUND(balance + ?, 2), updated_at = ? WHERE id = ?
	`, delta.InexactFloat64(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("adjust account balance: %w", err)
	}
	return requireAffected(res, "adjust account balance")
}
