package domain

import (
	"fmt"
	"time"
)

// Item is a stocked inventory unit owned by a single tenant.
type Item struct {
	ID               string
	TenantID         string
	ShelfQuantity    int
	StorageQuantity  int
	ShelfLocations   []string
	StorageLocations []string
	IsSellable       bool
	UpdatedAt        time.Time
}

// Total returns the quantity on hand across both pools.
func (i Item) Total() int {
	return i.ShelfQuantity + i.StorageQuantity
}

// StockLine references an item and the quantity requested against it.
type StockLine struct {
	ItemID   string
	Quantity int
}

// StockMovementReason enumerates why a ledger entry was written.
type StockMovementReason string

const (
	// StockMovementDeduct records stock consumed by a paid order.
	StockMovementDeduct StockMovementReason = "deduct"
	// StockMovementRestore records stock returned to storage by a cancellation.
	StockMovementRestore StockMovementReason = "restore"
	// StockMovementAdjust records a manual operator correction.
	StockMovementAdjust StockMovementReason = "adjust"
)

// StockMovement is an append-only audit entry describing one ledger mutation on one item.
type StockMovement struct {
	ID           string
	TenantID     string
	ItemID       string
	Reason       StockMovementReason
	ShelfDelta   int
	StorageDelta int
	Reference    string
	CreatedAt    time.Time
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state created at checkout.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAwaitingPayment indicates the customer has been asked to pay.
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	// OrderStatusProcessing confirms payment; entering it deducts stock.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusOnHold pauses fulfilment without releasing stock.
	OrderStatusOnHold OrderStatus = "on_hold"
	// OrderStatusShipped indicates the order left the store.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted is terminal.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus validates raw input against the known statuses.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch status := OrderStatus(raw); status {
	case OrderStatusPending, OrderStatusAwaitingPayment, OrderStatusProcessing, OrderStatusOnHold,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled:
		return status, nil
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// OrderLine is fixed at order creation.
type OrderLine struct {
	ItemID    string
	Quantity  int
	UnitPrice int64
}

// Order captures the order header and its immutable lines.
type Order struct {
	ID            string
	TenantID      string
	OrderNumber   string
	Lines         []OrderLine
	Status        OrderStatus
	Customer      map[string]any
	StockDeducted bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ShippedAt     *time.Time
}

// StockLines projects the order lines onto ledger lines.
func (o Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Lines))
	for _, line := range o.Lines {
		lines = append(lines, StockLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}
	return lines
}

// LowStockAlert flags an item whose total on hand is at or below the tenant threshold.
type LowStockAlert struct {
	ID         string
	TenantID   string
	ItemID     string
	IsResolved bool
	Total      int
	Threshold  int
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// TenantCounter issues order sequence values for a tenant.
type TenantCounter struct {
	TenantID  string
	Prefix    string
	Sequence  int64
	Padding   int
	UpdatedAt time.Time
}

// TenantSettings holds the per-tenant configuration read by the ledger.
type TenantSettings struct {
	TenantID              string
	DisplayName           string
	LowStockThreshold     int
	LowStockAlertsEnabled bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// FormatOrderNumber renders prefix plus the zero padded sequence.
func FormatOrderNumber(prefix string, sequence int64, padding int) string {
	if padding <= 0 {
		return fmt.Sprintf("%s%d", prefix, sequence)
	}
	return fmt.Sprintf("%s%0*d", prefix, padding, sequence)
}
