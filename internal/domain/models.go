package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCategory = "Genel"

type InventoryItem struct {
	ID          string           `json:"id"`
	SKU         string           `json:"sku"`
	Name        string           `json:"name"`
	Category    string           `json:"category"`
	Quantity    int              `json:"quantity"`
	Location    string           `json:"location"`
	Price       decimal.Decimal  `json:"price"`
	CostPrice   *decimal.Decimal `json:"cost_price,omitempty"`
	SupplierID  *string          `json:"supplier_id,omitempty"`
	LastUpdated time.Time        `json:"last_updated"`
}

type ItemCreateRequest struct {
	SKU        string           `json:"sku"`
	Name       string           `json:"name"`
	Category   string           `json:"category"`
	Quantity   int              `json:"quantity"`
	Location   string           `json:"location"`
	Price      decimal.Decimal  `json:"price"`
	CostPrice  *decimal.Decimal `json:"cost_price,omitempty"`
	SupplierID *string          `json:"supplier_id,omitempty"`
}

type ItemUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	Location  *string          `json:"location,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	CostPrice *decimal.Decimal `json:"cost_price,omitempty"`
}

type QuantityAdjustRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

type PriceChangeRequest struct {
	Category   string  `json:"category"`
	Percentage float64 `json:"percentage"`
}

type PriceChangeResult struct {
	Category string `json:"category"`
	Affected int    `json:"affected"`
}

// InventoryLot is one goods-receipt batch of a product. Quantity is the
// remaining stock and never leaves [0, InitialQuantity].
type InventoryLot struct {
	ID              string           `json:"id"`
	ProductID       string           `json:"product_id"`
	SupplierID      *string          `json:"supplier_id,omitempty"`
	Quantity        int              `json:"quantity"`
	InitialQuantity int              `json:"initial_quantity"`
	BuyPrice        decimal.Decimal  `json:"buy_price"`
	SellPrice       *decimal.Decimal `json:"sell_price,omitempty"`
	ReceiptDate     string           `json:"receipt_date"`
	InvoiceNo       *string          `json:"invoice_no,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

type LotDraw struct {
	LotID    string          `json:"lot_id"`
	Quantity int             `json:"quantity"`
	BuyPrice decimal.Decimal `json:"buy_price"`
}

type TransactionType string

const (
	TransactionSale       TransactionType = "SALE"
	TransactionReturn     TransactionType = "RETURN"
	TransactionPurchase   TransactionType = "PURCHASE"
	TransactionExpense    TransactionType = "EXPENSE"
	TransactionCollection TransactionType = "COLLECTION"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionSale, TransactionReturn, TransactionPurchase, TransactionExpense, TransactionCollection:
		return true
	}
	return false
}

const (
	PaymentCash   = "NAKIT"
	PaymentCard   = "KART"
	PaymentCredit = "VERESIYE"
	PaymentOnTerm = "VADELI"
)

type CartLine struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name,omitempty"`
	CartQuantity int             `json:"cart_quantity"`
	Price        decimal.Decimal `json:"price"`
}

type Transaction struct {
	ID            string          `json:"id"`
	Items         []CartLine      `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Type          TransactionType `json:"transaction_type"`
	Note          *string         `json:"note,omitempty"`
	CustomerID    *string         `json:"customer_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type SaleRequest struct {
	Items         []CartLine      `json:"items"`
	PaymentMethod string          `json:"payment_method"`
	Type          TransactionType `json:"transaction_type"`
	Note          *string         `json:"note,omitempty"`
	CustomerID    *string         `json:"customer_id,omitempty"`
	ManagerPIN    string          `json:"manager_pin,omitempty"`
}

// SaleResult is the persisted transaction plus the FIFO cost trail of the
// lines that drew from lots. Shortfall counts units sold without lot cover.
type SaleResult struct {
	Transaction Transaction       `json:"transaction"`
	Consumption []LineConsumption `json:"consumption,omitempty"`
}

type LineConsumption struct {
	SKU       string    `json:"sku"`
	Draws     []LotDraw `json:"draws"`
	Shortfall int       `json:"shortfall"`
}

type TransactionUpdate struct {
	PaymentMethod *string `json:"payment_method,omitempty"`
	Note          *string `json:"note,omitempty"`
}

type TransactionFilter struct {
	From  *time.Time
	To    *time.Time
	Type  TransactionType
	Limit int
}

type GoodsReceiptLine struct {
	SKU       string           `json:"sku"`
	Quantity  int              `json:"quantity"`
	BuyPrice  decimal.Decimal  `json:"buy_price"`
	SellPrice *decimal.Decimal `json:"sell_price,omitempty"`
}

type GoodsReceipt struct {
	Lines         []GoodsReceiptLine `json:"lines"`
	PaymentMethod string             `json:"payment_method"`
	SupplierID    *string            `json:"supplier_id,omitempty"`
	InvoiceNo     *string            `json:"invoice_no,omitempty"`
	ReceiptDate   string             `json:"receipt_date"`
	Note          *string            `json:"note,omitempty"`
}

type GoodsReceiptResult struct {
	Lots        []InventoryLot  `json:"lots"`
	Transaction *Transaction    `json:"transaction,omitempty"`
	Total       decimal.Decimal `json:"total"`
}

type AccountType string

const (
	AccountCustomer AccountType = "CUSTOMER"
	AccountSupplier AccountType = "SUPPLIER"
	AccountBoth     AccountType = "BOTH"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountCustomer, AccountSupplier, AccountBoth:
		return true
	}
	return false
}

// CurrentAccount is a counterparty ledger. A positive balance means the
// counterparty owes the business.
type CurrentAccount struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      AccountType     `json:"account_type"`
	Phone     string          `json:"phone,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type AccountCreateRequest struct {
	Name  string      `json:"name"`
	Type  AccountType `json:"account_type"`
	Phone string      `json:"phone,omitempty"`
}

type DashboardStats struct {
	TotalItems    int             `json:"total_items"`
	TotalQuantity int             `json:"total_quantity"`
	LowStockCount int             `json:"low_stock_count"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
}

type CategoryStats struct {
	Category      string          `json:"category"`
	Count         int             `json:"count"`
	TotalQuantity int             `json:"total_quantity"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// LowStockThreshold is the quantity below which an item counts as low stock.
const LowStockThreshold = 10

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
