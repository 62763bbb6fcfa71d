package memory

import (
	"context"
	"errors"
	"sort"
	"strings"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	s *store
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if hook := r.s.hooks.beforeOrderInsert; hook != nil {
		if err := hook(order); err != nil {
			return err
		}
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("orders.insert: order id is required")
	}
	if _, exists := r.s.orders[id]; exists {
		return conflict("orders.insert", "order %s already exists", id)
	}
	r.s.orders[id] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) ListByTenant(_ context.Context, tenantID string, limit int) ([]domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var orders []domain.Order
	for _, order := range r.s.orders {
		if order.TenantID == tenantID {
			orders = append(orders, cloneOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (r *OrderRepository) Transition(_ context.Context, req repositories.OrderTransitionRequest) (repositories.OrderTransitionResult, error) {
	if req.Plan == nil {
		return repositories.OrderTransitionResult{}, errors.New("order transition: plan is required")
	}
	orderID := strings.TrimSpace(req.OrderID)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.orders[orderID]
	if !ok {
		return repositories.OrderTransitionResult{}, notFound("orders.transition", "order %s not found", orderID)
	}
	current := cloneOrder(stored)
	plan, err := req.Plan(cloneOrder(current))
	if err != nil {
		return repositories.OrderTransitionResult{}, err
	}
	result := repositories.OrderTransitionResult{Previous: current}
	if plan.Skip {
		result.Order = current
		return result, nil
	}
	next := plan.Order
	if next.ID != current.ID || next.TenantID != current.TenantID {
		return repositories.OrderTransitionResult{}, errors.New("order transition: plan must not change order identity")
	}

	if plan.Effect != repositories.StockEffectNone {
		lines, err := repositories.NormalizeStockLines(current.StockLines())
		if err != nil {
			return repositories.OrderTransitionResult{}, err
		}
		mutate := deductLine
		if plan.Effect == repositories.StockEffectRestore {
			mutate = restoreLine
		}
		stock, err := r.s.mutateLocked(current.TenantID, lines, current.ID, utc(req.Now), mutate)
		if err != nil {
			return repositories.OrderTransitionResult{}, err
		}
		result.Stock = stock
	}

	r.s.orders[orderID] = cloneOrder(next)
	result.Order = cloneOrder(next)
	result.Applied = true
	result.Effect = plan.Effect
	return result, nil
}
