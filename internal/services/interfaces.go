package services

import (
	"context"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Item               = domain.Item
	StockLine          = domain.StockLine
	StockMovement      = domain.StockMovement
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	OrderStatus        = domain.OrderStatus
	LowStockAlert      = domain.LowStockAlert
	TenantCounter      = domain.TenantCounter
	TenantSettings     = domain.TenantSettings
	SystemHealthReport = domain.SystemHealthReport
)

// StockLedgerService owns per-item shelf and storage quantities.
type StockLedgerService interface {
	GetItem(ctx context.Context, tenantID, itemID string) (Item, error)
	ListItems(ctx context.Context, tenantID string) ([]Item, error)
	RegisterItem(ctx context.Context, cmd RegisterItemCommand) (Item, error)
	CheckAvailability(ctx context.Context, tenantID string, lines []StockLine) error
	Deduct(ctx context.Context, cmd StockMutationCommand) ([]Item, error)
	Restore(ctx context.Context, cmd StockMutationCommand) ([]Item, error)
	Adjust(ctx context.Context, cmd StockAdjustCommand) (Item, error)
	ListMovements(ctx context.Context, tenantID, itemID string, limit int) ([]StockMovement, error)
}

// OrderService drives orders through their lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, tenantID, orderID string) (Order, error)
	ListOrders(ctx context.Context, tenantID string, limit int) ([]Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error)
	Cancel(ctx context.Context, tenantID, orderID, actor string) (Order, error)
}

// LowStockDeduplicator keeps at most one unresolved alert per tenant item.
type LowStockDeduplicator interface {
	Evaluate(ctx context.Context, tenantID, itemID string) (LowStockEvaluation, error)
	// EvaluateItems runs Evaluate for each item, logging failures instead of returning them.
	EvaluateItems(ctx context.Context, tenantID string, itemIDs []string)
	ListOpen(ctx context.Context, tenantID string) ([]LowStockAlert, error)
	Sweep(ctx context.Context) (SweepReport, error)
}

// OrderNumberAllocator issues human readable order numbers.
type OrderNumberAllocator interface {
	Allocate(ctx context.Context, tenantID string) (string, error)
}

// TenantService provisions tenants and their ledger settings.
type TenantService interface {
	SetupTenant(ctx context.Context, cmd SetupTenantCommand) (TenantSetup, error)
	GetTenant(ctx context.Context, tenantID string) (TenantSettings, error)
	UpdateAlertSettings(ctx context.Context, cmd UpdateAlertSettingsCommand) (TenantSettings, error)
}

// ShipmentNotifier hands shipment notices to the notification collaborator.
type ShipmentNotifier interface {
	Enqueue(ctx context.Context, notice ShipmentNotice) error
}

// SystemService aggregates utility endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// RegisterItemCommand carries catalog-owned item fields. Quantities only apply on first registration.
type RegisterItemCommand struct {
	TenantID         string
	ItemID           string
	IsSellable       bool
	ShelfQuantity    int
	StorageQuantity  int
	ShelfLocations   []string
	StorageLocations []string
}

// StockMutationCommand deducts or restores quantities for a set of lines.
type StockMutationCommand struct {
	TenantID  string
	Lines     []StockLine
	Reference string
}

// StockAdjustCommand is a manual operator correction.
type StockAdjustCommand struct {
	TenantID         string
	ItemID           string
	ShelfDelta       int
	StorageDelta     int
	ShelfLocations   []string
	StorageLocations []string
	Actor            string
}

// CreateOrderCommand is submitted by checkout.
type CreateOrderCommand struct {
	TenantID string
	Lines    []OrderLine
	Customer map[string]any
}

// TransitionOrderCommand requests a status change.
type TransitionOrderCommand struct {
	TenantID       string
	OrderID        string
	Target         OrderStatus
	Actor          string
	// ExpectedStatus, when set, rejects the change if the order has moved on since the caller read it.
	ExpectedStatus *OrderStatus
}

// LowStockEvaluation mirrors the repository result for callers outside the data layer.
type LowStockEvaluation = repositories.LowStockEvaluationResult

// SweepReport summarises one periodic re-evaluation pass.
type SweepReport struct {
	Tenants   int
	Items     int
	Raised    int
	Resolved  int
	Failures  int
	StartedAt time.Time
	Duration  time.Duration
}

// SetupTenantCommand provisions a tenant's counter and settings.
type SetupTenantCommand struct {
	TenantID          string
	DisplayName       string
	Prefix            string
	LowStockThreshold *int
	AlertsDisabled    bool
}

// TenantSetup is the result of provisioning a tenant.
type TenantSetup struct {
	Settings TenantSettings
	Counter  TenantCounter
}

// UpdateAlertSettingsCommand changes low-stock evaluation for a tenant.
type UpdateAlertSettingsCommand struct {
	TenantID  string
	Threshold int
	Enabled   bool
}

// ShipmentNotice is the payload delivered to the email collaborator via Pub/Sub.
type ShipmentNotice struct {
	OrderID     string    `json:"orderId"`
	TenantID    string    `json:"tenantId"`
	OrderNumber string    `json:"orderNumber"`
	ShippedAt   time.Time `json:"shippedAt"`
}
