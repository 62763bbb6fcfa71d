package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/repositories"
)

const (
	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventNoticeDropped  = "order.shipment_notice.dropped"
	orderEventAllocationLost = "order.number.unused"

	orderIDPrefix          = "ord_"
	defaultOrderListLimit  = 50
	maxOrderListLimit      = 200
	maxOrderLines          = 100
	maxCustomerMetadataKey = 64
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:         {domain.OrderStatusAwaitingPayment, domain.OrderStatusProcessing, domain.OrderStatusOnHold, domain.OrderStatusCancelled},
	domain.OrderStatusAwaitingPayment: {domain.OrderStatusProcessing, domain.OrderStatusOnHold, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:      {domain.OrderStatusOnHold, domain.OrderStatusShipped, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusOnHold:          {domain.OrderStatusAwaitingPayment, domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:         {domain.OrderStatusCompleted},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Ledger      StockLedgerService
	Allocator   OrderNumberAllocator
	Alerts      LowStockDeduplicator
	Notifier    ShipmentNotifier
	Metrics     LedgerMetrics
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	ledger    StockLedgerService
	allocator OrderNumberAllocator
	alerts    LowStockDeduplicator
	notifier  ShipmentNotifier
	metrics   LedgerMetrics
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("order service: stock ledger is required")
	}
	if deps.Allocator == nil {
		return nil, errors.New("order service: order number allocator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopLedgerMetrics{}
	}

	return &orderService{
		orders:    deps.Orders,
		ledger:    deps.Ledger,
		allocator: deps.Allocator,
		alerts:    deps.Alerts,
		notifier:  deps.Notifier,
		metrics:   metrics,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder checks availability, allocates a number and stores the order as pending.
// A number allocated for an order that then fails to persist is not reused.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)
	if tenantID == "" {
		return Order{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	lines, err := normaliseOrderLines(cmd.Lines)
	if err != nil {
		return Order{}, err
	}
	if err := validateCustomer(cmd.Customer); err != nil {
		return Order{}, err
	}

	order := Order{
		TenantID: tenantID,
		Lines:    lines,
		Status:   domain.OrderStatusPending,
		Customer: maps.Clone(cmd.Customer),
	}
	if err := s.ledger.CheckAvailability(ctx, tenantID, order.StockLines()); err != nil {
		return Order{}, err
	}

	number, err := s.allocator.Allocate(ctx, tenantID)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order.ID = orderIDPrefix + s.newID()
	order.OrderNumber = number
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := s.orders.Insert(ctx, order); err != nil {
		s.logger(ctx, orderEventAllocationLost, map[string]any{
			"tenantId":    tenantID,
			"orderNumber": number,
			"error":       err.Error(),
		})
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"tenantId":    tenantID,
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"lines":       len(order.Lines),
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, tenantID, orderID string) (Order, error) {
	tenantID, orderID = strings.TrimSpace(tenantID), strings.TrimSpace(orderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.TenantID != tenantID {
		return Order{}, fmt.Errorf("%w: order %s", ErrPermissionDenied, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, tenantID string, limit int) ([]Order, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultOrderListLimit
	case limit > maxOrderListLimit:
		limit = maxOrderListLimit
	}
	orders, err := s.orders.ListByTenant(ctx, tenantID, limit)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// TransitionStatus validates the change against the order as stored and applies any stock effect
// in the same transaction. When the ledger rejects the effect the unchanged order is returned
// together with the ledger error.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionOrderCommand) (Order, error) {
	tenantID, orderID := strings.TrimSpace(cmd.TenantID), strings.TrimSpace(cmd.OrderID)
	if tenantID == "" || orderID == "" {
		return Order{}, fmt.Errorf("%w: tenant id and order id are required", ErrOrderInvalidInput)
	}
	target, err := domain.ParseOrderStatus(strings.TrimSpace(string(cmd.Target)))
	if err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	now := s.clock()
	result, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		OrderID: orderID,
		Now:     now,
		Plan: func(current domain.Order) (repositories.OrderTransitionPlan, error) {
			if current.TenantID != tenantID {
				return repositories.OrderTransitionPlan{}, fmt.Errorf("%w: order %s", ErrPermissionDenied, orderID)
			}
			if cmd.ExpectedStatus != nil && current.Status != *cmd.ExpectedStatus {
				return repositories.OrderTransitionPlan{}, fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, current.Status)
			}
			return planTransition(current, target, now)
		},
	})
	if err != nil {
		return s.transitionFailure(ctx, orderID, err)
	}
	if !result.Applied {
		return result.Order, nil
	}

	order := result.Order
	if result.Effect != repositories.StockEffectNone {
		s.metrics.StockMutated(ctx, string(result.Effect), len(result.Stock.Items))
	}
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"tenantId":       tenantID,
		"orderId":        order.ID,
		"orderNumber":    order.OrderNumber,
		"previousStatus": string(result.Previous.Status),
		"currentStatus":  string(order.Status),
		"stockEffect":    string(result.Effect),
		"actor":          strings.TrimSpace(cmd.Actor),
	})

	if s.alerts != nil && len(result.Stock.Items) > 0 {
		ids := make([]string, 0, len(result.Stock.Items))
		for _, item := range result.Stock.Items {
			ids = append(ids, item.ID)
		}
		s.alerts.EvaluateItems(ctx, tenantID, ids)
	}
	if order.Status == domain.OrderStatusShipped {
		s.notifyShipment(ctx, order)
	}
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, tenantID, orderID, actor string) (Order, error) {
	return s.TransitionStatus(ctx, TransitionOrderCommand{
		TenantID: tenantID,
		OrderID:  orderID,
		Target:   domain.OrderStatusCancelled,
		Actor:    actor,
	})
}

// planTransition is evaluated inside the transaction and must not have side effects.
func planTransition(current domain.Order, target domain.OrderStatus, now time.Time) (repositories.OrderTransitionPlan, error) {
	if current.Status == target {
		return repositories.OrderTransitionPlan{Skip: true}, nil
	}
	if !canTransition(current.Status, target) {
		return repositories.OrderTransitionPlan{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, target)
	}

	next := current
	next.Status = target
	next.UpdatedAt = now
	effect := repositories.StockEffectNone

	switch target {
	case domain.OrderStatusProcessing:
		if !current.StockDeducted {
			effect = repositories.StockEffectDeduct
			next.StockDeducted = true
		}
	case domain.OrderStatusCancelled:
		if current.StockDeducted {
			effect = repositories.StockEffectRestore
			next.StockDeducted = false
		}
	case domain.OrderStatusShipped:
		if next.ShippedAt == nil {
			shippedAt := now
			next.ShippedAt = &shippedAt
		}
	}
	return repositories.OrderTransitionPlan{Order: next, Effect: effect}, nil
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func (s *orderService) transitionFailure(ctx context.Context, orderID string, err error) (Order, error) {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrOrderInvalidState), errors.Is(err, ErrOrderConflict):
		return Order{}, err
	}

	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		unchanged, findErr := s.orders.FindByID(ctx, orderID)
		if findErr != nil {
			return Order{}, mapStockError(err)
		}
		return unchanged, mapStockError(err)
	}
	return Order{}, s.mapRepositoryError(err)
}

func (s *orderService) notifyShipment(ctx context.Context, order Order) {
	if s.notifier == nil {
		return
	}
	notice := ShipmentNotice{
		OrderID:     order.ID,
		TenantID:    order.TenantID,
		OrderNumber: order.OrderNumber,
	}
	if order.ShippedAt != nil {
		notice.ShippedAt = *order.ShippedAt
	}
	if err := s.notifier.Enqueue(ctx, notice); err != nil {
		s.logger(ctx, orderEventNoticeDropped, map[string]any{
			"tenantId": order.TenantID,
			"orderId":  order.ID,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func normaliseOrderLines(lines []OrderLine) ([]OrderLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	if len(lines) > maxOrderLines {
		return nil, fmt.Errorf("%w: at most %d lines are allowed", ErrOrderInvalidInput, maxOrderLines)
	}
	out := make([]OrderLine, 0, len(lines))
	perItem := make(map[string]int, len(lines))
	for i, line := range lines {
		itemID := strings.TrimSpace(line.ItemID)
		if itemID == "" {
			return nil, fmt.Errorf("%w: line %d item id is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %d quantity must be >= 1", ErrOrderInvalidInput, i)
		}
		if line.Quantity > repositories.MaxStockQuantity || perItem[itemID] > repositories.MaxStockQuantity-line.Quantity {
			return nil, fmt.Errorf("%w: quantity for item %s exceeds %d", ErrOrderInvalidInput, itemID, repositories.MaxStockQuantity)
		}
		perItem[itemID] += line.Quantity
		if line.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: line %d unit price must be >= 0", ErrOrderInvalidInput, i)
		}
		out = append(out, OrderLine{ItemID: itemID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
	}
	return out, nil
}

func validateCustomer(customer map[string]any) error {
	for key := range customer {
		if strings.TrimSpace(key) == "" || len(key) > maxCustomerMetadataKey {
			return fmt.Errorf("%w: customer metadata keys must be 1-%d characters", ErrOrderInvalidInput, maxCustomerMetadataKey)
		}
	}
	return nil
}
