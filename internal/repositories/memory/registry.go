// Package memory provides a process-local implementation of every repository. A single
// store-wide mutex gives each operation the same all-or-nothing guarantee a Firestore
// transaction does, which makes the package suitable for tests and single-node demos.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

type store struct {
	mu        sync.Mutex
	items     map[itemRef]domain.Item
	movements []domain.StockMovement
	orders    map[string]domain.Order
	alerts    map[string]domain.LowStockAlert
	counters  map[string]domain.TenantCounter
	tenants   map[string]domain.TenantSettings
	newID     func() string
	hooks     hooks
}

// hooks inject faults for tests.
type hooks struct {
	beforeCounterNext func(tenantID string) error
	beforeOrderInsert func(order domain.Order) error
	beforeEvaluate    func(tenantID, itemID string) error
}

// Registry implements repositories.Registry on top of a shared in-memory store.
type Registry struct {
	store  *store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// Option customises the in-memory registry.
type Option func(*store)

// WithCounterFault makes Counters().Next fail with the returned error when it is non-nil.
func WithCounterFault(fn func(tenantID string) error) Option {
	return func(s *store) { s.hooks.beforeCounterNext = fn }
}

// WithOrderInsertFault makes Orders().Insert fail with the returned error when it is non-nil.
func WithOrderInsertFault(fn func(order domain.Order) error) Option {
	return func(s *store) { s.hooks.beforeOrderInsert = fn }
}

// WithEvaluateFault makes LowStockAlerts().Evaluate fail with the returned error when it is non-nil.
func WithEvaluateFault(fn func(tenantID, itemID string) error) Option {
	return func(s *store) { s.hooks.beforeEvaluate = fn }
}

// NewRegistry constructs an empty in-memory registry.
func NewRegistry(opts ...Option) *Registry {
	s := &store{
		items:    make(map[itemRef]domain.Item),
		orders:   make(map[string]domain.Order),
		alerts:   make(map[string]domain.LowStockAlert),
		counters: make(map[string]domain.TenantCounter),
		tenants:  make(map[string]domain.TenantSettings),
		newID:    func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	health, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	return &Registry{store: s, health: health}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Stock() repositories.StockRepository                  { return &StockRepository{s: r.store} }
func (r *Registry) Orders() repositories.OrderRepository                 { return &OrderRepository{s: r.store} }
func (r *Registry) LowStockAlerts() repositories.LowStockAlertRepository { return &AlertRepository{s: r.store} }
func (r *Registry) Counters() repositories.CounterRepository             { return &CounterRepository{s: r.store} }
func (r *Registry) Tenants() repositories.TenantRepository               { return &TenantRepository{s: r.store} }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }

type itemRef struct {
	tenant, item string
}

func itemKey(tenantID, itemID string) itemRef {
	return itemRef{tenant: tenantID, item: itemID}
}

func cloneItem(item domain.Item) domain.Item {
	item.ShelfLocations = append([]string{}, item.ShelfLocations...)
	item.StorageLocations = append([]string{}, item.StorageLocations...)
	return item
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	order.Customer = maps.Clone(order.Customer)
	if order.ShippedAt != nil {
		ts := *order.ShippedAt
		order.ShippedAt = &ts
	}
	return order
}

func cloneAlert(alert domain.LowStockAlert) domain.LowStockAlert {
	if alert.ResolvedAt != nil {
		ts := *alert.ResolvedAt
		alert.ResolvedAt = &ts
	}
	return alert
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
