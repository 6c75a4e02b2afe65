package domain

import (
	"encoding/json"
	"time"
)

type ActionType string

const (
	ActionSale        ActionType = "SALE"
	ActionStockIn     ActionType = "STOCK_IN"
	ActionStockOut    ActionType = "STOCK_OUT"
	ActionPriceChange ActionType = "PRICE_CHANGE"
	ActionItemCreate  ActionType = "ITEM_CREATE"
	ActionItemUpdate  ActionType = "ITEM_UPDATE"
	ActionItemDelete  ActionType = "ITEM_DELETE"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionSale, ActionStockIn, ActionStockOut, ActionPriceChange, ActionItemCreate, ActionItemUpdate, ActionItemDelete:
		return true
	}
	return false
}

// SyncOutboxEntry is a local mutation waiting to be pushed to the relay.
// Entries only ever move from pending to synced and are never deleted.
type SyncOutboxEntry struct {
	ID              string     `json:"id"`
	ActionType      ActionType `json:"action_type"`
	ItemSKU         *string    `json:"item_sku,omitempty"`
	ItemName        *string    `json:"item_name,omitempty"`
	QuantityChange  int        `json:"quantity_change"`
	OldValue        *float64   `json:"old_value,omitempty"`
	NewValue        *float64   `json:"new_value,omitempty"`
	Metadata        *string    `json:"metadata,omitempty"`
	TransactionTime time.Time  `json:"transaction_time"`
	Synced          bool       `json:"synced"`
	CreatedAt       time.Time  `json:"created_at"`
}

// OutboxInput carries the caller-supplied fields of a new outbox entry.
type OutboxInput struct {
	ActionType     ActionType `json:"action_type"`
	ItemSKU        *string    `json:"item_sku,omitempty"`
	ItemName       *string    `json:"item_name,omitempty"`
	QuantityChange int        `json:"quantity_change"`
	OldValue       *float64   `json:"old_value,omitempty"`
	NewValue       *float64   `json:"new_value,omitempty"`
	Metadata       *string    `json:"metadata,omitempty"`
}

type SyncState struct {
	LastPushAt     *time.Time `json:"last_push_at,omitempty"`
	LastPullAt     *time.Time `json:"last_pull_at,omitempty"`
	SyncInProgress bool       `json:"sync_in_progress"`
	PendingCount   int        `json:"pending_count"`
}

type SyncResult struct {
	Pushed int `json:"pushed"`
	Pulled int `json:"pulled"`
}

// License is the locally recorded activation. Only the addressing fields are
// read by the sync protocol.
type License struct {
	LicenseKey    string     `json:"license_key"`
	DealerID      string     `json:"dealer_id"`
	DealerName    string     `json:"dealer_name"`
	MACAddress    string     `json:"mac_address"`
	ActivatedAt   time.Time  `json:"activated_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	IsActive      bool       `json:"is_active"`
	LastValidated *time.Time `json:"last_validated,omitempty"`
	APIBaseURL    string     `json:"api_base_url"`
}

type Device struct {
	Identifier string `json:"device_identifier"`
	Name       string `json:"device_name"`
}

// SyncTransaction is an outbox entry as it travels in a push request.
type SyncTransaction struct {
	ID              string     `json:"id"`
	ActionType      ActionType `json:"action_type"`
	ItemSKU         *string    `json:"item_sku,omitempty"`
	ItemName        *string    `json:"item_name,omitempty"`
	QuantityChange  int        `json:"quantity_change"`
	OldValue        *float64   `json:"old_value,omitempty"`
	NewValue        *float64   `json:"new_value,omitempty"`
	Metadata        *string    `json:"metadata,omitempty"`
	TransactionTime time.Time  `json:"transaction_time"`
}

func (e SyncOutboxEntry) Wire() SyncTransaction {
	return SyncTransaction{
		ID:              e.ID,
		ActionType:      e.ActionType,
		ItemSKU:         e.ItemSKU,
		ItemName:        e.ItemName,
		QuantityChange:  e.QuantityChange,
		OldValue:        e.OldValue,
		NewValue:        e.NewValue,
		Metadata:        e.Metadata,
		TransactionTime: e.TransactionTime,
	}
}

// RemoteTransaction is a change recorded by another device of the same
// dealer, as returned by a pull.
type RemoteTransaction struct {
	ID               string          `json:"id"`
	DeviceIdentifier string          `json:"deviceIdentifier"`
	ActionType       ActionType      `json:"actionType"`
	ItemSKU          *string         `json:"itemSku,omitempty"`
	ItemName         *string         `json:"itemName,omitempty"`
	QuantityChange   int             `json:"quantityChange"`
	OldValue         *float64        `json:"oldValue,omitempty"`
	NewValue         *float64        `json:"newValue,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	TransactionTime  time.Time       `json:"transactionTime"`
}

type PushRequest struct {
	DeviceIdentifier string            `json:"device_identifier"`
	Transactions     []SyncTransaction `json:"transactions"`
}

type PushResponse struct {
	Success  bool   `json:"success"`
	Inserted *int   `json:"inserted,omitempty"`
	Skipped  *int   `json:"skipped,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

type PullRequest struct {
	DeviceIdentifier string     `json:"device_identifier"`
	Since            *time.Time `json:"since,omitempty"`
}

type PullResponse struct {
	Success      bool                `json:"success"`
	Transactions []RemoteTransaction `json:"transactions,omitempty"`
	ServerTime   *time.Time          `json:"server_time,omitempty"`
	Message      string              `json:"message,omitempty"`
	Error        string              `json:"error,omitempty"`
}

type HeartbeatRequest struct {
	DeviceIdentifier string `json:"device_identifier"`
	DeviceName       string `json:"device_name"`
	PendingCount     int    `json:"pending_count"`
}

// DeviceStatus is the relay's view of a device's last heartbeat.
type DeviceStatus struct {
	DealerID         string    `json:"dealer_id"`
	DeviceIdentifier string    `json:"device_identifier"`
	DeviceName       string    `json:"device_name"`
	PendingCount     int       `json:"pending_count"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}
