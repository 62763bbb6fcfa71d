package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

// CounterRepository implements repositories.CounterRepository.
type CounterRepository struct {
	s *store
}

func (r *CounterRepository) Create(_ context.Context, counter domain.TenantCounter) error {
	id := strings.TrimSpace(counter.TenantID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "tenant id is required", nil)
	}
	if counter.Sequence < 0 || counter.Padding < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput,
			fmt.Sprintf("counter for %s must have non-negative sequence and padding", id), nil)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.counters[id]; exists {
		return repositories.NewCounterError(repositories.CounterErrorAlreadyExists,
			fmt.Sprintf("tenant %s already has an order counter", id), nil)
	}
	counter.TenantID = id
	r.s.counters[id] = counter
	return nil
}

func (r *CounterRepository) Next(_ context.Context, tenantID string) (domain.TenantCounter, error) {
	id := strings.TrimSpace(tenantID)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if hook := r.s.hooks.beforeCounterNext; hook != nil {
		if err := hook(id); err != nil {
			return domain.TenantCounter{}, err
		}
	}
	counter, ok := r.s.counters[id]
	if !ok {
		return domain.TenantCounter{}, repositories.NewCounterNotConfiguredError("", id, nil)
	}
	counter.Sequence++
	counter.UpdatedAt = time.Now().UTC()
	r.s.counters[id] = counter
	return counter, nil
}

func (r *CounterRepository) Get(_ context.Context, tenantID string) (domain.TenantCounter, error) {
	id := strings.TrimSpace(tenantID)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counter, ok := r.s.counters[id]
	if !ok {
		return domain.TenantCounter{}, repositories.NewCounterNotConfiguredError("", id, nil)
	}
	return counter, nil
}

// TenantRepository implements repositories.TenantRepository.
type TenantRepository struct {
	s *store
}

func (r *TenantRepository) Create(_ context.Context, settings domain.TenantSettings) error {
	id := strings.TrimSpace(settings.TenantID)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.tenants[id]; exists {
		return conflict("tenants.create", "tenant %s already exists", id)
	}
	settings.TenantID = id
	r.s.tenants[id] = settings
	return nil
}

func (r *TenantRepository) Get(_ context.Context, tenantID string) (domain.TenantSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	settings, ok := r.s.tenants[strings.TrimSpace(tenantID)]
	if !ok {
		return domain.TenantSettings{}, notFound("tenants.get", "tenant %s not found", tenantID)
	}
	return settings, nil
}

func (r *TenantRepository) UpdateAlertSettings(_ context.Context, tenantID string, threshold int, enabled bool, now time.Time) (domain.TenantSettings, error) {
	if threshold < 0 {
		return domain.TenantSettings{}, fmt.Errorf("tenants.updateAlertSettings: threshold must be >= 0, got %d", threshold)
	}
	id := strings.TrimSpace(tenantID)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	settings, ok := r.s.tenants[id]
	if !ok {
		return domain.TenantSettings{}, notFound("tenants.update", "tenant %s not found", id)
	}
	settings.LowStockThreshold = threshold
	settings.LowStockAlertsEnabled = enabled
	settings.UpdatedAt = utc(now)
	r.s.tenants[id] = settings
	return settings, nil
}

func (r *TenantRepository) List(_ context.Context) ([]domain.TenantSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.TenantSettings, 0, len(r.s.tenants))
	for _, settings := range r.s.tenants {
		out = append(out, settings)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}
