package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

// AlertRepository implements repositories.LowStockAlertRepository.
type AlertRepository struct {
	s *store
}

func (r *AlertRepository) Evaluate(_ context.Context, req repositories.LowStockEvaluation) (repositories.LowStockEvaluationResult, error) {
	if strings.TrimSpace(req.NewAlertID) == "" {
		return repositories.LowStockEvaluationResult{}, errors.New("low stock evaluate: alert id is required")
	}
	tenantID := strings.TrimSpace(req.TenantID)
	itemID := strings.TrimSpace(req.ItemID)
	now := utc(req.Now)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if hook := r.s.hooks.beforeEvaluate; hook != nil {
		if err := hook(tenantID, itemID); err != nil {
			return repositories.LowStockEvaluationResult{}, err
		}
	}

	item, err := r.s.lookupItem(tenantID, itemID)
	if err != nil {
		return repositories.LowStockEvaluationResult{}, err
	}
	var settings *domain.TenantSettings
	if stored, ok := r.s.tenants[tenantID]; ok {
		settings = &stored
	}
	threshold, enabled := repositories.EffectiveSettings(settings, req.DefaultThreshold)
	result := repositories.LowStockEvaluationResult{
		Total:     item.Total(),
		Threshold: threshold,
		Enabled:   enabled,
	}
	open := r.openLocked(tenantID, itemID)

	switch repositories.DecideLowStock(result.Total, threshold, enabled) {
	case repositories.LowStockRaise:
		if len(open) > 0 {
			return result, nil
		}
		alert := domain.LowStockAlert{
			ID:        req.NewAlertID,
			TenantID:  tenantID,
			ItemID:    itemID,
			Total:     result.Total,
			Threshold: threshold,
			CreatedAt: now,
		}
		r.s.alerts[alert.ID] = alert
		result.Raised = &alert
	case repositories.LowStockResolve:
		for _, alert := range open {
			resolvedAt := now
			alert.IsResolved = true
			alert.ResolvedAt = &resolvedAt
			r.s.alerts[alert.ID] = alert
			result.Resolved = append(result.Resolved, cloneAlert(alert))
		}
	}
	return result, nil
}

func (r *AlertRepository) ListOpen(_ context.Context, tenantID string) ([]domain.LowStockAlert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filterLocked(func(a domain.LowStockAlert) bool {
		return a.TenantID == tenantID && !a.IsResolved
	}), nil
}

func (r *AlertRepository) ListByItem(_ context.Context, tenantID, itemID string) ([]domain.LowStockAlert, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filterLocked(func(a domain.LowStockAlert) bool {
		return a.TenantID == tenantID && a.ItemID == itemID
	}), nil
}

func (r *AlertRepository) openLocked(tenantID, itemID string) []domain.LowStockAlert {
	return r.filterLocked(func(a domain.LowStockAlert) bool {
		return a.TenantID == tenantID && a.ItemID == itemID && !a.IsResolved
	})
}

func (r *AlertRepository) filterLocked(keep func(domain.LowStockAlert) bool) []domain.LowStockAlert {
	var out []domain.LowStockAlert
	for _, alert := range r.s.alerts {
		if keep(alert) {
			out = append(out, cloneAlert(alert))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
