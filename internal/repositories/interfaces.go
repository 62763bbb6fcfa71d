package repositories

import (
	"context"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Stock() StockRepository
	Orders() OrderRepository
	LowStockAlerts() LowStockAlertRepository
	Counters() CounterRepository
	Tenants() TenantRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockRepository owns item quantities. Every mutating call is a single atomic transaction.
type StockRepository interface {
	FindItem(ctx context.Context, tenantID, itemID string) (domain.Item, error)
	ListItems(ctx context.Context, tenantID string) ([]domain.Item, error)
	// SaveItem creates or replaces catalog-owned fields. Quantities are only written on create.
	SaveItem(ctx context.Context, item domain.Item) (domain.Item, error)
	// CheckAvailability returns a StockError for the first line that cannot be satisfied.
	CheckAvailability(ctx context.Context, tenantID string, lines []domain.StockLine) ([]domain.Item, error)
	Deduct(ctx context.Context, req StockMutationRequest) (StockMutationResult, error)
	Restore(ctx context.Context, req StockMutationRequest) (StockMutationResult, error)
	Adjust(ctx context.Context, req StockAdjustRequest) (StockMutationResult, error)
	ListMovements(ctx context.Context, tenantID, itemID string, limit int) ([]domain.StockMovement, error)
}

// StockMutationRequest describes a deduct or restore across one or more items.
type StockMutationRequest struct {
	TenantID  string
	Lines     []domain.StockLine
	Reference string
	Now       time.Time
}

// StockAdjustRequest applies signed deltas and replaces location tags on a single item.
type StockAdjustRequest struct {
	TenantID         string
	ItemID           string
	ShelfDelta       int
	StorageDelta     int
	ShelfLocations   []string
	StorageLocations []string
	Reference        string
	Now              time.Time
}

// StockMutationResult returns the post-mutation items and the movements written with them.
type StockMutationResult struct {
	Items     []domain.Item
	Movements []domain.StockMovement
}

// OrderRepository persists orders. Transition applies a planned status change atomically with its stock effect.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.Order, error)
	Transition(ctx context.Context, req OrderTransitionRequest) (OrderTransitionResult, error)
}

// StockEffect names the ledger mutation a transition carries.
type StockEffect string

const (
	StockEffectNone    StockEffect = ""
	StockEffectDeduct  StockEffect = "deduct"
	StockEffectRestore StockEffect = "restore"
)

// OrderTransitionPlan is produced from the order as read inside the transaction.
type OrderTransitionPlan struct {
	// Skip leaves the order untouched and commits nothing.
	Skip   bool
	Order  domain.Order
	Effect StockEffect
}

// OrderTransitionRequest carries the decision function evaluated against the current order.
// Plan may be invoked more than once when the transaction retries and must be free of side effects.
type OrderTransitionRequest struct {
	OrderID string
	Plan    func(current domain.Order) (OrderTransitionPlan, error)
	Now     time.Time
}

// OrderTransitionResult reports the persisted order and any stock movement it caused.
type OrderTransitionResult struct {
	Previous domain.Order
	Order    domain.Order
	Applied  bool
	Effect   StockEffect
	Stock    StockMutationResult
}

// LowStockAlertRepository maintains at most one unresolved alert per (tenant, item).
type LowStockAlertRepository interface {
	// Evaluate reads the item and tenant settings and raises or resolves alerts in one transaction.
	Evaluate(ctx context.Context, req LowStockEvaluation) (LowStockEvaluationResult, error)
	ListOpen(ctx context.Context, tenantID string) ([]domain.LowStockAlert, error)
	ListByItem(ctx context.Context, tenantID, itemID string) ([]domain.LowStockAlert, error)
}

// LowStockEvaluation identifies the item to re-evaluate.
type LowStockEvaluation struct {
	TenantID         string
	ItemID           string
	DefaultThreshold int
	NewAlertID       string
	Now              time.Time
}

// LowStockEvaluationResult describes what the evaluation changed.
type LowStockEvaluationResult struct {
	Total     int
	Threshold int
	Enabled   bool
	Raised    *domain.LowStockAlert
	Resolved  []domain.LowStockAlert
}

// CounterRepository issues per-tenant order sequences.
type CounterRepository interface {
	// Create stores a new counter; fails with a conflict when the tenant already has one.
	Create(ctx context.Context, counter domain.TenantCounter) error
	Next(ctx context.Context, tenantID string) (domain.TenantCounter, error)
	Get(ctx context.Context, tenantID string) (domain.TenantCounter, error)
}

// TenantRepository stores tenant configuration consumed by the ledger.
type TenantRepository interface {
	Create(ctx context.Context, settings domain.TenantSettings) error
	Get(ctx context.Context, tenantID string) (domain.TenantSettings, error)
	UpdateAlertSettings(ctx context.Context, tenantID string, threshold int, enabled bool, now time.Time) (domain.TenantSettings, error)
	List(ctx context.Context) ([]domain.TenantSettings, error)
}

// HealthRepository reports dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
