package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/vinylogix/api/internal/domain"
	"github.com/vinylogix/api/internal/platform/httpx"
	"github.com/vinylogix/api/internal/platform/requestctx"
	"github.com/vinylogix/api/internal/services"
)

const maxOrderPageSize = 100

// OrderHandlers exposes checkout, fulfilment transitions and order numbering.
type OrderHandlers struct {
	orders    services.OrderService
	allocator services.OrderNumberAllocator
}

// NewOrderHandlers constructs order endpoints.
func NewOrderHandlers(orders services.OrderService, allocator services.OrderNumberAllocator) *OrderHandlers {
	return &OrderHandlers{orders: orders, allocator: allocator}
}

// Routes registers endpoints relative to /tenants/{tenantID}.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:transition", h.transitionOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Post("/order-numbers", h.allocateOrderNumber)
}

type orderLineRequest struct {
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type createOrderRequest struct {
	Lines    []orderLineRequest `json:"lines"`
	Customer map[string]any     `json:"customer"`
}

type transitionOrderRequest struct {
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status"`
	Actor          string `json:"actor"`
}

type cancelOrderRequest struct {
	Actor string `json:"actor"`
}

type orderLinePayload struct {
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type orderPayload struct {
	ID            string             `json:"id"`
	OrderNumber   string             `json:"order_number"`
	Status        string             `json:"status"`
	Lines         []orderLinePayload `json:"lines"`
	Customer      map[string]any     `json:"customer,omitempty"`
	StockDeducted bool               `json:"stock_deducted"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at,omitempty"`
	ShippedAt     string             `json:"shipped_at,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	lines := make([]services.OrderLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.OrderLine{
			ItemID:    strings.TrimSpace(line.ItemID),
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		TenantID: requestctx.Tenant(ctx),
		Lines:    lines,
		Customer: req.Customer,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	limit, ok := parseLimit(r, maxOrderPageSize)
	if !ok {
		httpx.WriteError(ctx, w, httpx.BadRequest("limit must be an integer"))
		return
	}

	orders, err := h.orders.ListOrders(ctx, requestctx.Tenant(ctx), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payload = append(payload, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": payload})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	order, err := h.orders.GetOrder(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var req transitionOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	target, err := domain.ParseOrderStatus(strings.TrimSpace(strings.ToLower(req.Status)))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("status must be a valid order status"))
		return
	}
	cmd := services.TransitionOrderCommand{
		TenantID: requestctx.Tenant(ctx),
		OrderID:  chi.URLParam(r, "orderID"),
		Target:   target,
		Actor:    strings.TrimSpace(req.Actor),
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, err := domain.ParseOrderStatus(strings.ToLower(raw))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("expected_status must be a valid order status"))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	var req cancelOrderRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	}

	order, err := h.orders.Cancel(ctx, requestctx.Tenant(ctx), chi.URLParam(r, "orderID"), strings.TrimSpace(req.Actor))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) allocateOrderNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.allocator == nil {
		serviceUnavailable(ctx, w, "order_number")
		return
	}
	number, err := h.allocator.Allocate(ctx, requestctx.Tenant(ctx))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"order_number": number})
}

func buildOrderPayload(order services.Order) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLinePayload{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		Lines:         lines,
		Customer:      order.Customer,
		StockDeducted: order.StockDeducted,
		CreatedAt:     formatTimestamp(order.CreatedAt),
		UpdatedAt:     formatTimestamp(order.UpdatedAt),
	}
	if order.ShippedAt != nil {
		payload.ShippedAt = formatTimestamp(*order.ShippedAt)
	}
	return payload
}
