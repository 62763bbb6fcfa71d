package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
	"github.com/vinylogix/api/internal/repositories"
)

const firestoreProbeTimeout = 1500 * time.Millisecond

// Registry wires every Firestore repository against a single provider.
type Registry struct {
	provider *pfirestore.Provider
	stock    *StockRepository
	orders   *OrderRepository
	alerts   *LowStockAlertRepository
	counters *CounterRepository
	tenants  *TenantRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the Firestore repositories. Extra checks are appended to the readiness probe.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	stock, err := NewStockRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider, stock)
	if err != nil {
		return nil, err
	}
	alerts, err := NewLowStockAlertRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	tenants, err := NewTenantRepository(provider)
	if err != nil {
		return nil, err
	}
	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: firestoreProbeTimeout,
		Check:   provider.Ping,
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("firestore registry health: %w", err)
	}
	return &Registry{
		provider: provider,
		stock:    stock,
		orders:   orders,
		alerts:   alerts,
		counters: counters,
		tenants:  tenants,
		health:   health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Stock() repositories.StockRepository                  { return r.stock }
func (r *Registry) Orders() repositories.OrderRepository                 { return r.orders }
func (r *Registry) LowStockAlerts() repositories.LowStockAlertRepository { return r.alerts }
func (r *Registry) Counters() repositories.CounterRepository             { return r.counters }
func (r *Registry) Tenants() repositories.TenantRepository               { return r.tenants }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }
